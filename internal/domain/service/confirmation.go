package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/infrastructure/eventbus"
	"github.com/pocketportal/pocketportal/pkg/safego"
)

// ConfirmationStatus is the lifecycle state of one request.
type ConfirmationStatus string

const (
	StatusPending  ConfirmationStatus = "PENDING"
	StatusApproved ConfirmationStatus = "APPROVED"
	StatusDenied   ConfirmationStatus = "DENIED"
	StatusExpired  ConfirmationStatus = "EXPIRED"
)

const (
	// DefaultConfirmationTimeout bounds the approve/deny wait.
	DefaultConfirmationTimeout = 300 * time.Second
	sweepInterval              = 10 * time.Second
)

// ConfirmationRequest is handed to the injected sender so an adapter
// can surface approve/deny controls to a human.
type ConfirmationRequest struct {
	ID         string
	ToolName   string
	Parameters map[string]any
	ChatID     string
	UserID     string
	TraceID    string
	CreatedAt  time.Time
	Timeout    time.Duration
}

// Sender delivers a confirmation request out of band. It must not
// block for long; delivery outcome is reported via Approve/Deny.
type Sender func(*ConfirmationRequest)

type pendingEntry struct {
	req    *ConfirmationRequest
	status ConfirmationStatus
	done   chan struct{}
}

// EventPublisher is the slice of the event bus the middleware uses.
// Journaling decorators satisfy it too, so confirmation events reach
// whichever publisher the application wires.
type EventPublisher interface {
	Publish(eventbus.Event)
}

// ConfirmationMiddleware gates high-risk tool calls behind a
// human approve/deny handshake correlated by UUID.
type ConfirmationMiddleware struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry

	sender         Sender
	events         EventPublisher
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewConfirmationMiddleware creates the middleware. sender may be nil
// when no adapter surfaces confirmations; requests then simply wait
// for Approve/Deny or expire.
func NewConfirmationMiddleware(sender Sender, events EventPublisher, defaultTimeout time.Duration, logger *zap.Logger) *ConfirmationMiddleware {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultConfirmationTimeout
	}
	return &ConfirmationMiddleware{
		pending:        make(map[string]*pendingEntry),
		sender:         sender,
		events:         events,
		defaultTimeout: defaultTimeout,
		logger:         logger.With(zap.String("component", "confirmation")),
	}
}

// SetSender installs the adapter callback after construction. The
// middleware is created before the adapters that feed it.
func (m *ConfirmationMiddleware) SetSender(s Sender) {
	m.mu.Lock()
	m.sender = s
	m.mu.Unlock()
}

// StartSweeper expires overdue pending requests every ten seconds
// until ctx is cancelled.
func (m *ConfirmationMiddleware) StartSweeper(ctx context.Context) {
	safego.Loop(ctx, m.logger, "confirmation-sweeper", sweepInterval, m.sweep)
}

// RequestConfirmation blocks until the request is approved, denied,
// expired, or ctx is cancelled. Only approval returns true.
func (m *ConfirmationMiddleware) RequestConfirmation(ctx context.Context, toolName string, params map[string]any, chatID, userID, traceID string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	req := &ConfirmationRequest{
		ID:         uuid.NewString(),
		ToolName:   toolName,
		Parameters: params,
		ChatID:     chatID,
		UserID:     userID,
		TraceID:    traceID,
		CreatedAt:  time.Now(),
		Timeout:    timeout,
	}
	entry := &pendingEntry{req: req, status: StatusPending, done: make(chan struct{})}

	m.mu.Lock()
	m.pending[req.ID] = entry
	sender := m.sender
	m.mu.Unlock()

	if sender != nil {
		safego.Go(m.logger, "confirmation-sender", func() { sender(req) })
	}
	m.publish(eventbus.ToolConfirmationRequested, req, map[string]any{
		"confirmation_id": req.ID,
		"tool":            toolName,
		"timeout_ms":      timeout.Milliseconds(),
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-entry.done:
	case <-timer.C:
		m.expire(req.ID)
		<-entry.done
	case <-ctx.Done():
		m.expire(req.ID)
		<-entry.done
	}

	switch entry.status {
	case StatusApproved:
		m.publish(eventbus.ToolConfirmed, req, map[string]any{"confirmation_id": req.ID, "tool": toolName})
		return true
	case StatusDenied:
		m.publish(eventbus.ToolDenied, req, map[string]any{"confirmation_id": req.ID, "tool": toolName})
		return false
	default:
		m.publish(eventbus.ToolExpired, req, map[string]any{"confirmation_id": req.ID, "tool": toolName})
		return false
	}
}

// Approve transitions a pending request to APPROVED. Returns true only
// on the transition that actually happened.
func (m *ConfirmationMiddleware) Approve(id, approverID string) bool {
	return m.complete(id, StatusApproved, approverID)
}

// Deny transitions a pending request to DENIED.
func (m *ConfirmationMiddleware) Deny(id, denierID string) bool {
	return m.complete(id, StatusDenied, denierID)
}

// PendingCount returns the number of outstanding requests.
func (m *ConfirmationMiddleware) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *ConfirmationMiddleware) complete(id string, status ConfirmationStatus, actorID string) bool {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if !ok || entry.status != StatusPending {
		m.mu.Unlock()
		return false
	}
	entry.status = status
	delete(m.pending, id)
	m.mu.Unlock()

	close(entry.done)
	m.logger.Info("confirmation resolved",
		zap.String("confirmation_id", id),
		zap.String("status", string(status)),
		zap.String("actor", actorID))
	return true
}

func (m *ConfirmationMiddleware) expire(id string) {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if !ok || entry.status != StatusPending {
		m.mu.Unlock()
		return
	}
	entry.status = StatusExpired
	delete(m.pending, id)
	m.mu.Unlock()

	close(entry.done)
}

func (m *ConfirmationMiddleware) sweep() {
	now := time.Now()
	var overdue []string

	m.mu.Lock()
	for id, entry := range m.pending {
		if now.Sub(entry.req.CreatedAt) > entry.req.Timeout {
			overdue = append(overdue, id)
		}
	}
	m.mu.Unlock()

	for _, id := range overdue {
		m.expire(id)
	}
}

func (m *ConfirmationMiddleware) publish(t eventbus.EventType, req *ConfirmationRequest, payload map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Publish(eventbus.Event{
		Type:    t,
		ChatID:  req.ChatID,
		TraceID: req.TraceID,
		Payload: payload,
	})
}
