package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Override metrics
	OverridesEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenwise_overrides_evaluated_total",
			Help: "Override requests evaluated, by outcome",
		},
		[]string{"outcome"},
	)

	OverridesResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenwise_overrides_resolved_total",
			Help: "Override sessions resolved, by resolution",
		},
		[]string{"resolution"},
	)

	EvaluateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "screenwise_evaluate_duration_seconds",
			Help:    "Override evaluation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	NegotiationSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenwise_negotiation_sessions_active",
			Help: "Override sessions currently awaiting resolution",
		},
	)

	SessionsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenwise_negotiation_sessions_expired_total",
			Help: "Override sessions auto-declined after the resolution window",
		},
	)

	// Classifier metrics
	ClassifierFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenwise_classifier_fallbacks_total",
			Help: "Remote classifier calls that degraded to neutral signals",
		},
	)

	// Usage metrics
	UsageMinutesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenwise_usage_minutes_recorded_total",
			Help: "Usage minutes recorded into the ledger",
		},
		[]string{"category"},
	)

	SummaryRebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenwise_summary_rebuilds_total",
			Help: "Day summaries rebuilt after a stale trust score",
		},
	)

	// Storage metrics
	StorageConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screenwise_storage_conflicts_total",
			Help: "Versioned limit writes that lost an optimistic concurrency race",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		OverridesEvaluated,
		OverridesResolved,
		EvaluateDuration,
		NegotiationSessionsActive,
		SessionsExpired,
		ClassifierFallbacks,
		UsageMinutesRecorded,
		SummaryRebuilds,
		StorageConflicts,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
