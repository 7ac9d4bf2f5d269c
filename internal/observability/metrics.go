package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	InboundEvents   *prometheus.CounterVec
	SessionsStarted prometheus.Counter
	ReviewsWritten  *prometheus.CounterVec
	CardsDrafted    prometheus.Counter
	SendOutcomes    *prometheus.CounterVec
	BatchUsers      *prometheus.CounterVec
	ReaperResets    prometheus.Counter
	LockConflicts   prometheus.Counter
	GraderLatency   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		InboundEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound gateway events by matched state-machine rule.",
		}, []string{"rule"}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Quiz sessions started with a question in flight.",
		}),
		ReviewsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_written_total",
			Help:      "Card reviews appended, by correctness.",
		}, []string{"result"}),
		CardsDrafted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_drafted_total",
			Help:      "Flashcards created through the draft confirmation flow.",
		}),
		SendOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_outcomes_total",
			Help:      "Outbound send attempts by outcome.",
		}, []string{"outcome"}),
		BatchUsers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_users_total",
			Help:      "Users considered per batch tick, by disposition.",
		}, []string{"disposition"}),
		ReaperResets: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_resets_total",
			Help:      "Stale awaiting-answer sessions reset to idle.",
		}),
		LockConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_conflicts_total",
			Help:      "Conversation compare-and-swap conflicts that forced a retry.",
		}),
		GraderLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grader_latency_ms",
			Help:      "Latency of external grading calls in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
	}
}

func (m *Metrics) ObserveGraderLatency(d time.Duration) {
	m.GraderLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
