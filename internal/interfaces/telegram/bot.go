// Package telegram runs the long-polling bot adapter. It feeds chat
// messages into the orchestrator and surfaces tool confirmations as
// approve/deny inline keyboards.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/application"
	"github.com/pocketportal/pocketportal/internal/domain/service"
	"github.com/pocketportal/pocketportal/internal/domain/valueobject"
)

// Bot is the Telegram interface adapter.
type Bot struct {
	api     *tgbotapi.BotAPI
	orch    *application.Orchestrator
	allowed map[int64]struct{}
	logger  *zap.Logger
}

// NewBot connects to the bot API. An empty allowlist admits everyone.
func NewBot(token string, allowedUsers []int64, orch *application.Orchestrator, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}

	allowed := make(map[int64]struct{}, len(allowedUsers))
	for _, id := range allowedUsers {
		allowed[id] = struct{}{}
	}

	b := &Bot{
		api:     api,
		orch:    orch,
		allowed: allowed,
		logger:  logger.With(zap.String("component", "telegram")),
	}

	// Confirmation requests for chats on this surface go out as
	// inline keyboards.
	if mw := orch.Confirmations(); mw != nil {
		mw.SetSender(b.sendConfirmation)
	}
	return b, nil
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	b.logger.Info("bot started", zap.String("username", b.api.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			switch {
			case update.CallbackQuery != nil:
				b.handleCallback(update.CallbackQuery)
			case update.Message != nil:
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" {
		return
	}
	if !b.permitted(msg.From) {
		b.reply(msg.Chat.ID, "You are not authorized to use this bot.")
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := ""
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
	}

	res := b.orch.ProcessMessage(ctx, chatID, msg.Text, valueobject.InterfaceTelegram, valueobject.UserContext{
		UserID:        userID,
		HasAttachment: len(msg.Photo) > 0 || msg.Document != nil,
	})
	b.reply(msg.Chat.ID, res.Response)
}

// handleCallback resolves approve/deny presses. Callback data is
// "confirm:<id>:approve" or "confirm:<id>:deny".
func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	parts := strings.Split(cb.Data, ":")
	if len(parts) != 3 || parts[0] != "confirm" {
		return
	}
	mw := b.orch.Confirmations()
	if mw == nil {
		return
	}

	actor := ""
	if cb.From != nil {
		actor = strconv.FormatInt(cb.From.ID, 10)
	}

	var ack string
	switch parts[2] {
	case "approve":
		if mw.Approve(parts[1], actor) {
			ack = "Approved"
		} else {
			ack = "Already resolved"
		}
	case "deny":
		if mw.Deny(parts[1], actor) {
			ack = "Denied"
		} else {
			ack = "Already resolved"
		}
	default:
		return
	}

	b.api.Request(tgbotapi.NewCallback(cb.ID, ack))
	if cb.Message != nil {
		edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID,
			cb.Message.Text+"\n\n"+ack)
		b.api.Send(edit)
	}
}

// sendConfirmation posts the approve/deny keyboard to the requesting
// chat. Callback data stays within Telegram's 64-byte limit.
func (b *Bot) sendConfirmation(req *service.ConfirmationRequest) {
	chatID, err := strconv.ParseInt(req.ChatID, 10, 64)
	if err != nil {
		b.logger.Warn("confirmation for non-telegram chat", zap.String("chat_id", req.ChatID))
		return
	}

	text := fmt.Sprintf("Tool %q requests permission to run.\nParameters: %s",
		req.ToolName, formatParams(req.Parameters))
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", callbackData(req.ID, "approve")),
			tgbotapi.NewInlineKeyboardButtonData("Deny", callbackData(req.ID, "deny")),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("confirmation send failed", zap.Error(err))
	}
}

func callbackData(id, verb string) string {
	data := "confirm:" + id + ":" + verb
	if len(data) > 64 {
		data = data[:64]
	}
	return data
}

func formatParams(params map[string]any) string {
	if len(params) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(params))
	for k, v := range params {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ", ")
}

func (b *Bot) permitted(from *tgbotapi.User) bool {
	if len(b.allowed) == 0 {
		return true
	}
	if from == nil {
		return false
	}
	_, ok := b.allowed[from.ID]
	return ok
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, renderHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		// HTML can fail on odd model output; fall back to plain text.
		plain := tgbotapi.NewMessage(chatID, text)
		if _, err := b.api.Send(plain); err != nil {
			b.logger.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}
