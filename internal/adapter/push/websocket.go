package push

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketSubscriber wraps one websocket connection as a registry
// subscriber. Sends are serialized with a mutex; gorilla permits a single
// concurrent writer per connection.
type WebSocketSubscriber struct {
	id   string
	conn *websocket.Conn

	mu sync.Mutex
}

func newWebSocketSubscriber(conn *websocket.Conn) *WebSocketSubscriber {
	return &WebSocketSubscriber{
		id:   uuid.NewString(),
		conn: conn,
	}
}

func (s *WebSocketSubscriber) ID() string {
	return s.id
}

// Send writes one serialized record as a text frame. The ctx deadline maps
// onto the connection's write deadline so a hung peer fails the send instead
// of stalling it.
func (s *WebSocketSubscriber) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *WebSocketSubscriber) Close() error {
	return s.conn.Close()
}

// WebSocketHandler upgrades push-channel requests and parks each connection
// in the registry until the peer goes away.
type WebSocketHandler struct {
	registry domain.SubscriberRegistry
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(registry domain.SubscriberRegistry, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		logger:   logger.With("component", "ws_handler"),
	}
}

// ServeHTTP registers the connection as a subscriber and blocks in a read
// loop. The loop exists only to observe the close: any read error means the
// peer is gone, which promptly removes the subscriber so no dangling entries
// accumulate.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	sub := newWebSocketSubscriber(conn)
	h.registry.Add(sub)
	defer func() {
		h.registry.Remove(sub)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
