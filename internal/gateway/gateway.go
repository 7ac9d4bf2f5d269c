// Package gateway abstracts the outbound messaging channel. The
// service never talks to a carrier directly; it hands text to a Sender
// and the configured backend (provider HTTP API, local console
// websocket, or a recorder for tests) delivers it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/protocol"
)

// Receipt reports the outcome of one outbound send.
type Receipt struct {
	MessageID string
	Delivered bool
}

// Sender delivers one outbound message. Token carries an optional
// correlation token the gateway echoes back with the user's reply.
type Sender interface {
	Send(ctx context.Context, recipient, text, token string) (Receipt, error)
}

var ErrSendFailed = errors.New("gateway send failed")

// Config selects and parameterizes the gateway backend.
type Config struct {
	Mode    string
	URL     string
	Token   string
	From    string
	Timeout time.Duration
}

// NewSender builds the backend for cfg.Mode: "http" requires a provider
// URL, "console" serves messages over the dev websocket hub, "mock"
// records sends in memory, "noop" accepts and drops everything. "auto"
// picks http when a URL is configured and console otherwise.
func NewSender(cfg Config) (Sender, error) {
	switch mode(cfg.Mode) {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPSender(cfg)
		}
		return NewConsoleHub(), nil
	case "http":
		return NewHTTPSender(cfg)
	case "console":
		return NewConsoleHub(), nil
	case "mock":
		return NewMockSender(), nil
	case "noop":
		return NewNoopSender(), nil
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.Mode)
	}
}

func mode(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if m == "" {
		return "auto"
	}
	return m
}

func resultToReceipt(res protocol.SendResult) (Receipt, error) {
	if !res.Success {
		msg := strings.TrimSpace(res.Error)
		if msg == "" {
			msg = "provider rejected message"
		}
		return Receipt{}, fmt.Errorf("%w: %s", ErrSendFailed, msg)
	}
	return Receipt{MessageID: res.MessageID, Delivered: true}, nil
}
