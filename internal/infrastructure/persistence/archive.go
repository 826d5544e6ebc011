package persistence

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pocketportal/pocketportal/internal/infrastructure/eventbus"
)

// MessageModel is one archived conversation turn.
type MessageModel struct {
	ID           uint   `gorm:"primaryKey"`
	ChatID       string `gorm:"index"`
	TraceID      string `gorm:"index"`
	Role         string
	Content      string
	InterfaceTag string
	ModelUsed    string
	ElapsedMs    int64
	CreatedAt    time.Time
}

// Archive subscribes to completed turns and stores them out of band.
// Storage failures are logged and never surfaced to the caller.
type Archive struct {
	db     *gorm.DB
	sub    *eventbus.Subscription
	logger *zap.Logger
}

// NewArchive starts archiving PROCESSING_COMPLETED events from bus.
func NewArchive(db *gorm.DB, bus *eventbus.Bus, logger *zap.Logger) *Archive {
	a := &Archive{
		db:     db,
		logger: logger.With(zap.String("component", "archive")),
	}
	a.sub = bus.Subscribe(eventbus.ProcessingCompleted, a.handle)
	return a
}

// Close stops the subscription.
func (a *Archive) Close() {
	a.sub.Cancel()
}

// RecentByChat returns up to limit archived rows for one chat, newest
// first.
func (a *Archive) RecentByChat(chatID string, limit int) ([]MessageModel, error) {
	var rows []MessageModel
	err := a.db.Where("chat_id = ?", chatID).
		Order("id desc").Limit(limit).Find(&rows).Error
	return rows, err
}

func (a *Archive) handle(ev eventbus.Event) {
	userContent, _ := ev.Payload["user_message"].(string)
	assistantContent, _ := ev.Payload["response"].(string)
	tag, _ := ev.Payload["interface"].(string)
	modelUsed, _ := ev.Payload["model_used"].(string)
	elapsedMs, _ := ev.Payload["elapsed_ms"].(int64)

	rows := []MessageModel{
		{ChatID: ev.ChatID, TraceID: ev.TraceID, Role: "USER", Content: userContent, InterfaceTag: tag},
		{ChatID: ev.ChatID, TraceID: ev.TraceID, Role: "ASSISTANT", Content: assistantContent,
			InterfaceTag: tag, ModelUsed: modelUsed, ElapsedMs: elapsedMs},
	}
	if err := a.db.Create(&rows).Error; err != nil {
		a.logger.Warn("archive write failed",
			zap.String("chat_id", ev.ChatID),
			zap.Error(err))
	}
}
