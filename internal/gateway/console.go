package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const consoleWriteTimeout = 3 * time.Second

// ConsoleHub is the dev-mode backend: outbound messages are broadcast
// to any attached websocket clients instead of a carrier. A send with
// no clients attached still succeeds so local flows never block on a
// console being open.
type ConsoleHub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func NewConsoleHub() *ConsoleHub {
	return &ConsoleHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]bool),
	}
}

type consoleMessage struct {
	MessageID string `json:"message_id"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	Token     string `json:"token,omitempty"`
	SentAt    string `json:"sent_at"`
}

func (h *ConsoleHub) Send(ctx context.Context, recipient, text, token string) (Receipt, error) {
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	default:
	}

	msg := consoleMessage{
		MessageID: uuid.NewString(),
		Recipient: recipient,
		Body:      text,
		Token:     token,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.Lock()
	for conn := range h.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(consoleWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			delete(h.conns, conn)
		}
	}
	h.mu.Unlock()

	return Receipt{MessageID: msg.MessageID, Delivered: true}, nil
}

// ServeWS upgrades an HTTP request and attaches the client to the hub.
func (h *ConsoleHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	// Drain reads so close frames are processed; the console is
	// outbound-only.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.conns, conn)
			h.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ClientCount reports attached console clients.
func (h *ConsoleHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
