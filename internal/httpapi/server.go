// Package httpapi exposes the service's HTTP surface: the gateway
// webhook, the manual quiz trigger, the dev console websocket, and
// health/metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/config"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/gateway"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/observability"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/protocol"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/quiz"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/store"
)

// Orchestrator is the part of the quiz core the HTTP surface drives.
type Orchestrator interface {
	HandleEvent(ctx context.Context, evt protocol.InboundEvent) error
	StartSession(ctx context.Context, userID string) error
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	console      *gateway.ConsoleHub
	storeMode    string
	logger       *zap.Logger
	validate     *validator.Validate
}

// New builds the server. console may be nil when the gateway backend
// is not the dev console hub.
func New(cfg config.Config, orchestrator Orchestrator, console *gateway.ConsoleHub, storeMode string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		console:      console,
		storeMode:    storeMode,
		logger:       logger,
		validate:     validator.New(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/gateway/inbound", s.handleInbound)
	r.Get("/v1/gateway/ws", s.handleConsoleWS)
	r.Post("/v1/users/{id}/quiz/start", s.handleStartQuiz)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode,
	})
}

// handleInbound is the gateway's push webhook. Collaborator failures
// already produced a user-facing message inside the orchestrator, so
// the provider gets a 200 and does not redeliver; only transport-level
// problems surface as errors.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var evt protocol.InboundEvent
	if err := decodeJSON(r, &evt); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.validate.Struct(evt); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	err := s.orchestrator.HandleEvent(r.Context(), evt)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"status": "processed"})
	case errors.Is(err, protocol.ErrUnsupportedKind):
		respondError(w, http.StatusBadRequest, "invalid_event", err.Error())
	case errors.Is(err, quiz.ErrCardNotFound),
		errors.Is(err, quiz.ErrGraderFailure):
		// Handled conversationally; acknowledge so the gateway does
		// not retry.
		s.logger.Warn("inbound event handled with degradation", zap.Error(err))
		respondJSON(w, http.StatusOK, map[string]any{"status": "handled"})
	default:
		s.logger.Error("inbound event failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "event processing failed")
	}
}

// handleStartQuiz is the manual trigger. Unlike the batch path,
// configuration problems here are surfaced to the caller.
func (s *Server) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user id is required")
		return
	}

	err := s.orchestrator.StartSession(r.Context(), userID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"status": "started"})
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "user_not_found", "no such user")
	case errors.Is(err, quiz.ErrConfiguration):
		respondError(w, http.StatusInternalServerError, "configuration_error", err.Error())
	case errors.Is(err, quiz.ErrConcurrencyConflict):
		respondError(w, http.StatusConflict, "conflict", "user session is busy, retry shortly")
	default:
		s.logger.Error("manual quiz start failed", zap.String("user", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "quiz start failed")
	}
}

func (s *Server) handleConsoleWS(w http.ResponseWriter, r *http.Request) {
	if s.console == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "console gateway is not configured")
		return
	}
	s.console.ServeWS(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
