package quiz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/observability"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/store"
)

const defaultDispatchWorkers = 8

// BatchDispatcher walks opted-in users on a timer and starts a quiz
// session for each one whose preferred local delivery hour matches the
// current time. One user's failure never aborts the batch.
type BatchDispatcher struct {
	store        store.Store
	orchestrator *Orchestrator
	metrics      *observability.Metrics
	logger       *zap.Logger

	interval time.Duration
	workers  int
	now      func() time.Time
}

func NewBatchDispatcher(s store.Store, o *Orchestrator, metrics *observability.Metrics, logger *zap.Logger, interval time.Duration, workers int) *BatchDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = defaultDispatchWorkers
	}
	return &BatchDispatcher{
		store:        s,
		orchestrator: o,
		metrics:      metrics,
		logger:       logger,
		interval:     interval,
		workers:      workers,
		now:          time.Now,
	}
}

// Start runs ticks until ctx is cancelled.
func (d *BatchDispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce performs a single dispatch pass, fanning out across users
// with a bounded worker pool. Per-user serialization still happens
// inside the orchestrator's keyed lock.
func (d *BatchDispatcher) RunOnce(ctx context.Context) {
	users, err := d.store.ListOptedInUsers(ctx)
	if err != nil {
		d.logger.Error("list opted-in users failed", zap.Error(err))
		return
	}

	now := d.now()
	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for _, u := range users {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(u store.User) {
			defer wg.Done()
			defer func() { <-sem }()
			d.dispatchUser(ctx, u, now)
		}(u)
	}
	wg.Wait()
}

func (d *BatchDispatcher) dispatchUser(ctx context.Context, u store.User, now time.Time) {
	u = store.NormalizeUser(u)

	due, err := inDeliveryHour(u, now)
	if err != nil {
		// Configuration problems skip this user; the rest of the
		// batch proceeds.
		d.logger.Warn("skipping user with bad timezone",
			zap.String("user", u.ID),
			zap.String("timezone", u.Timezone),
			zap.Error(err))
		d.countUser("bad_timezone")
		return
	}
	if !due {
		d.logger.Debug("outside delivery hours",
			zap.String("user", u.ID),
			zap.Ints("hours", u.DeliveryHours))
		d.countUser("outside_hours")
		return
	}

	if err := d.orchestrator.StartSession(ctx, u.ID); err != nil {
		d.logger.Error("session start failed",
			zap.String("user", u.ID),
			zap.Error(err))
		d.countUser("failed")
		return
	}
	d.countUser("dispatched")
}

// inDeliveryHour reports whether now, in the user's timezone, falls in
// one of their preferred delivery hours.
func inDeliveryHour(u store.User, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	hour := now.In(loc).Hour()
	for _, h := range u.DeliveryHours {
		if h == hour {
			return true, nil
		}
	}
	return false, nil
}

func (d *BatchDispatcher) countUser(disposition string) {
	if d.metrics != nil {
		d.metrics.BatchUsers.WithLabelValues(disposition).Inc()
	}
}
