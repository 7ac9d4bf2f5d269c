// Package app wires the service together from configuration.
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/assist"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/config"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/gateway"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/httpapi"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/observability"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/quiz"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/store"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *quiz.Orchestrator
	Dispatcher   *quiz.BatchDispatcher
	Reaper       *quiz.StateReaper
	Metrics      *observability.Metrics
	StoreMode    string

	// Cleanup should be called on shutdown to release external
	// resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, storeMode, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}
	logger.Info("store ready", zap.String("mode", storeMode))

	grader, err := assist.NewGrader(assist.Config{
		Mode:      cfg.AssistMode,
		GraderURL: cfg.GraderURL,
		Timeout:   cfg.AssistTimeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("grader init failed: %w", err)
	}
	drafter, err := assist.NewDrafter(assist.Config{
		Mode:       cfg.AssistMode,
		DrafterURL: cfg.DrafterURL,
		Timeout:    cfg.AssistTimeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("drafter init failed: %w", err)
	}
	// External collaborators sit behind breakers so a flapping
	// service fails fast instead of stalling every user turn.
	grader = assist.NewBreakerGrader(grader)
	drafter = assist.NewBreakerDrafter(drafter)

	sender, err := gateway.NewSender(gateway.Config{
		Mode:    cfg.GatewayMode,
		URL:     cfg.GatewayURL,
		Token:   cfg.GatewayToken,
		From:    cfg.GatewayFrom,
		Timeout: cfg.GatewayTimeout,
	})
	if err != nil {
		// Gateway init failure is non-fatal: degrade to "processed
		// but not delivered" rather than refusing to start.
		logger.Error("gateway init failed, delivery disabled", zap.Error(err))
		sender = gateway.NewNoopSender()
	}
	console, _ := sender.(*gateway.ConsoleHub)

	selector := quiz.NewSelector(st)
	orchestrator := quiz.NewOrchestrator(st, selector, grader, drafter, sender, metrics, logger)
	dispatcher := quiz.NewBatchDispatcher(st, orchestrator, metrics, logger, cfg.DispatchInterval, cfg.DispatchWorkers)
	reaper := quiz.NewStateReaper(st, metrics, logger, cfg.ReaperInterval, cfg.ReaperStaleness)

	api := httpapi.New(cfg, orchestrator, console, storeMode, logger)

	cleanup := func() error {
		var errs []string
		if err := st.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Dispatcher:   dispatcher,
		Reaper:       reaper,
		Metrics:      metrics,
		StoreMode:    storeMode,
		Cleanup:      cleanup,
	}, nil
}
