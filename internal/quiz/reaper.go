package quiz

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/observability"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/store"
)

// StateReaper resets sessions stuck in awaiting_answer past a
// staleness threshold so a silent user can be quizzed again later. It
// only unblocks conversations; the due-card schedule lives in the
// review ledger and is untouched.
type StateReaper struct {
	store     store.Store
	metrics   *observability.Metrics
	logger    *zap.Logger
	interval  time.Duration
	staleness time.Duration
	now       func() time.Time
}

func NewStateReaper(s store.Store, metrics *observability.Metrics, logger *zap.Logger, interval, staleness time.Duration) *StateReaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateReaper{
		store:     s,
		metrics:   metrics,
		logger:    logger,
		interval:  interval,
		staleness: staleness,
		now:       time.Now,
	}
}

// Start runs sweeps until ctx is cancelled.
func (r *StateReaper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce performs one sweep. The reaper does not take the per-user
// lock; the compare-and-swap on Version means a user who answers while
// the sweep runs wins the race and the reset is dropped.
func (r *StateReaper) RunOnce(ctx context.Context) {
	cutoff := r.now().Add(-r.staleness)
	stale, err := r.store.ListStaleAwaiting(ctx, cutoff)
	if err != nil {
		r.logger.Error("stale session scan failed", zap.Error(err))
		return
	}

	for _, convo := range stale {
		convo.State = store.StateIdle
		convo.CurrentFlashcardID = nil
		convo.LastActivityAt = r.now()
		if _, err := r.store.PutConversation(ctx, convo, convo.Version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			r.logger.Error("stale session reset failed",
				zap.String("user", convo.UserID),
				zap.Error(err))
			continue
		}
		r.logger.Info("reset stale session", zap.String("user", convo.UserID))
		if r.metrics != nil {
			r.metrics.ReaperResets.Inc()
		}
	}
}
