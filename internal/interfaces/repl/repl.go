// Package repl runs an interactive terminal session against the
// orchestrator, rendering responses as terminal markdown.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/application"
	"github.com/pocketportal/pocketportal/internal/domain/entity"
	"github.com/pocketportal/pocketportal/internal/domain/valueobject"
)

const replChatID = "repl"

// REPL is the interactive CLI session.
type REPL struct {
	orch     *application.Orchestrator
	in       io.Reader
	out      io.Writer
	renderer *glamour.TermRenderer
	logger   *zap.Logger
}

// New creates a session reading from in and writing to out.
func New(orch *application.Orchestrator, in io.Reader, out io.Writer, logger *zap.Logger) (*REPL, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	return &REPL{
		orch:     orch,
		in:       in,
		out:      out,
		renderer: renderer,
		logger:   logger.With(zap.String("component", "repl")),
	}, nil
}

// Run reads lines until EOF, /quit, or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "PocketPortal interactive session. /help for commands, /quit to exit.")

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.command(ctx, line); quit {
				return nil
			}
			continue
		}

		res := r.orch.ProcessMessage(ctx, replChatID, line, valueobject.InterfaceCLI, valueobject.UserContext{})
		r.render(res.Response)
		if !res.Success {
			fmt.Fprintf(r.out, "(%s)\n", res.ErrorKind)
		}
	}
}

func (r *REPL) command(ctx context.Context, line string) (quit bool) {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, "/history  show the conversation\n/clear    forget the conversation\n/tools    list tools\n/health   system health\n/quit     exit")
	case "/history":
		for _, msg := range r.orch.History(replChatID, 0) {
			role := "you"
			if msg.Role == entity.RoleAssistant {
				role = "assistant"
			}
			fmt.Fprintf(r.out, "[%s] %s\n", role, msg.Content)
		}
	case "/clear":
		r.orch.ClearHistory(replChatID)
		fmt.Fprintln(r.out, "conversation cleared")
	case "/tools":
		for _, d := range r.orch.GetToolList() {
			gate := ""
			if d.RequiresConfirmation {
				gate = " (requires confirmation)"
			}
			fmt.Fprintf(r.out, "%-14s %s%s\n", d.Name, d.Description, gate)
		}
	case "/health":
		report := r.orch.HealthCheck(ctx)
		fmt.Fprintf(r.out, "status: %s\n", report.Status)
		for id, ok := range report.Backends {
			state := "unreachable"
			if ok {
				state = "available"
			}
			fmt.Fprintf(r.out, "  %s: %s\n", id, state)
		}
	default:
		fmt.Fprintln(r.out, "unknown command, /help for help")
	}
	return false
}

func (r *REPL) render(markdown string) {
	rendered, err := r.renderer.Render(markdown)
	if err != nil {
		fmt.Fprintln(r.out, markdown)
		return
	}
	fmt.Fprint(r.out, rendered)
}
