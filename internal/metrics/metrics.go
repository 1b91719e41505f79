// Package metrics holds the Prometheus instruments of the server.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cotrelay_sessions_active",
			Help: "Current number of open device sessions",
		},
	)

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotrelay_sessions_total",
			Help: "Total number of accepted connections",
		},
		[]string{"transport"}, // "tcp", "tls"
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotrelay_auth_failures_total",
			Help: "Total number of rejected authentications",
		},
		[]string{"reason"}, // "unknown", "inactive", "credential", "required", "handshake"
	)

	FramingErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cotrelay_framing_errors_total",
			Help: "Total number of connections closed for a framing error",
		},
	)

	PingsAnswered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cotrelay_pings_answered_total",
			Help: "Total number of keep-alive pings answered",
		},
	)

	DocumentsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cotrelay_documents_ingested_total",
			Help: "Total number of documents handed to the ingestion topic",
		},
	)

	DocumentsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cotrelay_documents_delivered_total",
			Help: "Total number of documents written to device sockets",
		},
	)

	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cotrelay_outbox_depth",
			Help: "Documents waiting in session outboxes for the bus",
		},
	)

	// Decoder metrics
	DocumentsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotrelay_documents_decoded_total",
			Help: "Total number of decoded documents by routing directive",
		},
		[]string{"directive"},
	)

	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cotrelay_decode_failures_total",
			Help: "Total number of ingested documents that did not parse",
		},
	)

	FactsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cotrelay_facts_skipped_total",
			Help: "Total number of facts skipped for missing fields",
		},
	)

	PersistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotrelay_persist_errors_total",
			Help: "Total number of failed fact writes",
		},
		[]string{"fact"},
	)

	DecodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cotrelay_decode_duration_seconds",
			Help:    "Time to decode, persist and route one document",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Notification metrics
	NotifyDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cotrelay_notify_dropped_total",
			Help: "Presence notifications dropped because the push queue was full",
		},
	)
)

// Server exposes /metrics. It implements suture.Service.
type Server struct {
	srv *http.Server
}

func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Serve runs until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "metrics " + s.srv.Addr
}
