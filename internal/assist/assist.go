// Package assist wraps the external answer-grading and card-drafting
// collaborators. Both are blocking HTTP calls with no guaranteed SLA;
// everything here runs under bounded timeouts and the orchestrator
// converts failures into user-facing messages.
package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Evaluation is the grader's verdict on one free-text answer.
type Evaluation struct {
	Correct    bool    `json:"was_correct"`
	Confidence float64 `json:"confidence"`
	Feedback   string  `json:"feedback"`
}

// CardDraft is a structured card proposed by the drafting service from
// user free text. It is held unconfirmed in conversation context until
// the user approves or rejects it.
type CardDraft struct {
	Concept    string   `json:"concept"`
	Definition string   `json:"definition"`
	Tags       []string `json:"tags,omitempty"`
}

// Grader evaluates a response against a card.
type Grader interface {
	Evaluate(ctx context.Context, concept, definition, response string) (Evaluation, error)
}

// Drafter turns free text into a structured card draft.
type Drafter interface {
	Draft(ctx context.Context, freeText string) (CardDraft, error)
}

// ErrMalformedResult reports a grader/drafter reply that decoded but
// violates its contract (confidence out of range, empty draft fields).
var ErrMalformedResult = errors.New("malformed collaborator result")

// Config controls collaborator construction.
type Config struct {
	Mode       string
	GraderURL  string
	DrafterURL string
	Timeout    time.Duration
}

// NewGrader builds a grader for the configured mode: "http" requires a
// URL, "mock" is deterministic and local, "auto" picks http when a URL
// is present.
func NewGrader(cfg Config) (Grader, error) {
	switch mode(cfg.Mode) {
	case "auto":
		if strings.TrimSpace(cfg.GraderURL) != "" {
			return NewHTTPGrader(cfg.GraderURL, cfg.Timeout), nil
		}
		return NewMockGrader(), nil
	case "http":
		if strings.TrimSpace(cfg.GraderURL) == "" {
			return nil, errors.New("grader URL is required for http mode")
		}
		return NewHTTPGrader(cfg.GraderURL, cfg.Timeout), nil
	case "mock":
		return NewMockGrader(), nil
	default:
		return nil, fmt.Errorf("unsupported assist mode %q", cfg.Mode)
	}
}

// NewDrafter builds a drafter, same mode semantics as NewGrader.
func NewDrafter(cfg Config) (Drafter, error) {
	switch mode(cfg.Mode) {
	case "auto":
		if strings.TrimSpace(cfg.DrafterURL) != "" {
			return NewHTTPDrafter(cfg.DrafterURL, cfg.Timeout), nil
		}
		return NewMockDrafter(), nil
	case "http":
		if strings.TrimSpace(cfg.DrafterURL) == "" {
			return nil, errors.New("drafter URL is required for http mode")
		}
		return NewHTTPDrafter(cfg.DrafterURL, cfg.Timeout), nil
	case "mock":
		return NewMockDrafter(), nil
	default:
		return nil, fmt.Errorf("unsupported assist mode %q", cfg.Mode)
	}
}

func mode(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if m == "" {
		return "auto"
	}
	return m
}
