package gateway

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage is one recorded outbound message.
type SentMessage struct {
	Recipient string
	Body      string
	Token     string
}

// MockSender records outbound messages in memory.
type MockSender struct {
	mu   sync.Mutex
	sent []SentMessage
	fail error
}

func NewMockSender() *MockSender { return &MockSender{} }

func (m *MockSender) Send(ctx context.Context, recipient, text, token string) (Receipt, error) {
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return Receipt{}, m.fail
	}
	m.sent = append(m.sent, SentMessage{Recipient: recipient, Body: text, Token: token})
	return Receipt{MessageID: fmt.Sprintf("mock-%d", len(m.sent)), Delivered: true}, nil
}

// FailWith makes subsequent sends return err; nil restores success.
func (m *MockSender) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Sent returns a copy of all recorded messages.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// NoopSender accepts every message and delivers nothing. It stands in
// when the configured gateway cannot be initialized, so inbound
// processing keeps working while delivery is down.
type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (NoopSender) Send(ctx context.Context, recipient, text, token string) (Receipt, error) {
	return Receipt{Delivered: false}, nil
}
