// Package metrics exposes relay counters to Prometheus and serves them,
// together with a liveness probe, on an optional HTTP listener.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace       = "remarkable_relay"
	shutdownTimeout = 5 * time.Second
	readTimeout     = 10 * time.Second
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	registry *prometheus.Registry

	Commands     *prometheus.CounterVec
	Rejected     *prometheus.CounterVec
	Transfers    *prometheus.CounterVec
	UploadBytes  prometheus.Counter
	InFlight     prometheus.Gauge
	GatewayFails prometheus.Counter
}

// New creates and registers all relay metrics on a private registry, plus
// the standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Interactions processed, by command and outcome.",
		}, []string{"command", "outcome"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Interactions dropped before processing, by reason.",
		}, []string{"reason"}),
		Transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer protocol steps completed, by step.",
		}, []string{"step"}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes uploaded to the document cloud.",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interactions_in_flight",
			Help:      "Interactions currently being handled.",
		}),
		GatewayFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_failures_total",
			Help:      "Document cloud calls that failed.",
		}),
	}
}

// ObserveCommand counts one handled interaction.
func (m *Metrics) ObserveCommand(command, outcome string) {
	m.Commands.WithLabelValues(command, outcome).Inc()
}

// ObserveRejected counts one interaction dropped by the gate or limiter.
func (m *Metrics) ObserveRejected(reason string) {
	m.Rejected.WithLabelValues(reason).Inc()
}

// ObserveTransfer counts one completed transfer step (share, accept, refuse).
func (m *Metrics) ObserveTransfer(step string) {
	m.Transfers.WithLabelValues(step).Inc()
}

// ObserveUpload adds n uploaded bytes.
func (m *Metrics) ObserveUpload(n int) {
	m.UploadBytes.Add(float64(n))
}

// ObserveGatewayFailure counts one failed cloud call.
func (m *Metrics) ObserveGatewayFailure() {
	m.GatewayFails.Inc()
}

// Begin marks an interaction in flight and returns the function ending it.
func (m *Metrics) Begin() func() {
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// Handler returns the router serving /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return r
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listening on %s: %w", addr, err)
	}

	return m.serve(ctx, ln, logger)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: readTimeout,
	}

	errc := make(chan error, 1)

	go func() {
		errc <- srv.Serve(ln)
	}()

	logger.Info("metrics listener started", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}

	logger.Info("metrics listener stopped")

	return nil
}
