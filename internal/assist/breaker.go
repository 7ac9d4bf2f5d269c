package assist

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Circuit breakers keep a flapping collaborator from stalling every
// user's session; once open, calls fail immediately and the
// orchestrator sends its retry message instead of waiting out a
// timeout per user.

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
}

// BreakerGrader wraps a Grader with a circuit breaker.
type BreakerGrader struct {
	inner Grader
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerGrader(inner Grader) *BreakerGrader {
	return &BreakerGrader{inner: inner, cb: newBreaker("grader")}
}

func (g *BreakerGrader) Evaluate(ctx context.Context, concept, definition, response string) (Evaluation, error) {
	out, err := g.cb.Execute(func() (any, error) {
		return g.inner.Evaluate(ctx, concept, definition, response)
	})
	if err != nil {
		return Evaluation{}, err
	}
	return out.(Evaluation), nil
}

// BreakerDrafter wraps a Drafter with a circuit breaker.
type BreakerDrafter struct {
	inner Drafter
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerDrafter(inner Drafter) *BreakerDrafter {
	return &BreakerDrafter{inner: inner, cb: newBreaker("drafter")}
}

func (d *BreakerDrafter) Draft(ctx context.Context, freeText string) (CardDraft, error) {
	out, err := d.cb.Execute(func() (any, error) {
		return d.inner.Draft(ctx, freeText)
	})
	if err != nil {
		return CardDraft{}, err
	}
	return out.(CardDraft), nil
}
