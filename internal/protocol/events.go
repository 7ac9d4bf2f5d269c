// Package protocol defines the wire-level contract with the messaging
// gateway: inbound event envelopes, outbound send commands, the
// card correlation token, and the closed-vocabulary intent matchers the
// conversation state machine depends on.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventKind identifies gateway event variants.
type EventKind string

const (
	KindInboundMessage EventKind = "inbound_message"
	KindOutboundAck    EventKind = "outbound_ack"
	KindOutboundFailed EventKind = "outbound_failed"
)

var ErrUnsupportedKind = errors.New("unsupported event kind")

// InboundEvent is one push event from the messaging gateway. Only
// inbound_message events drive the state machine; acks and failures are
// observational.
type InboundEvent struct {
	Kind   EventKind `json:"kind" validate:"required"`
	Sender string    `json:"sender" validate:"required"`
	Body   string    `json:"body"`
	// Token optionally correlates a reply with the card it answers,
	// in the form "card:<id>".
	Token string `json:"token,omitempty"`
}

// SendResult is the gateway's reply to an outbound send command.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ParseInboundEvent decodes and validates a raw gateway webhook payload.
func ParseInboundEvent(raw []byte) (InboundEvent, error) {
	var evt InboundEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return InboundEvent{}, fmt.Errorf("invalid event envelope: %w", err)
	}
	switch evt.Kind {
	case KindInboundMessage, KindOutboundAck, KindOutboundFailed:
	default:
		return InboundEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, evt.Kind)
	}
	if strings.TrimSpace(evt.Sender) == "" {
		return InboundEvent{}, errors.New("event sender is required")
	}
	return evt, nil
}

const cardTokenPrefix = "card:"

// CardToken builds the correlation token echoed back by the gateway to
// link a reply with the card it answers.
func CardToken(flashcardID string) string {
	return cardTokenPrefix + flashcardID
}

// ParseCardToken extracts the flashcard ID from a correlation token.
func ParseCardToken(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, cardTokenPrefix) {
		return "", false
	}
	id := strings.TrimSpace(strings.TrimPrefix(token, cardTokenPrefix))
	if id == "" {
		return "", false
	}
	return id, true
}
