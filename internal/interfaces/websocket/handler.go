// Package websocket streams bus events to connected clients.
package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/infrastructure/eventbus"
	"github.com/pocketportal/pocketportal/pkg/safego"
)

const (
	clientQueueSize = 32
	pingInterval    = 30 * time.Second
	writeTimeout    = 10 * time.Second
)

// Handler upgrades HTTP connections and fans bus events out to them.
type Handler struct {
	bus      *eventbus.Bus
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates the event-stream handler.
func NewHandler(bus *eventbus.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(zap.String("component", "websocket")),
	}
}

// ServeHTTP upgrades the connection and streams events as JSON frames
// until the client goes away. A slow client loses events rather than
// blocking the bus.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	queue := make(chan eventbus.Event, clientQueueSize)
	sub := h.bus.Subscribe(eventbus.Wildcard, func(ev eventbus.Event) {
		select {
		case queue <- ev:
		default:
		}
	})

	done := make(chan struct{})

	// Reader exists only to observe the close handshake.
	safego.Go(h.logger, "ws-reader", func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	h.logger.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))
	defer func() {
		sub.Cancel()
		conn.Close()
		h.logger.Info("client disconnected", zap.String("remote", conn.RemoteAddr().String()))
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-queue:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
