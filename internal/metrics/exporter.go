package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Exporter exposes a Collector in Prometheus text format. It uses its own
// registry so several runs in one process do not collide.
type Exporter struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// Gauges supplies live values the collector does not own.
type Gauges struct {
	LiveConnections func() float64
	QueueDepth      func() float64
}

// NewExporter registers collector-backed metrics and attaches itself as the
// collector's observer.
func NewExporter(c *Collector, runID string, gauges Gauges) *Exporter {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"run_id": runID}

	e := &Exporter{
		registry: reg,
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "chatfire_outcomes_total",
			Help:        "Processed messages by kind and outcome status code.",
			ConstLabels: constLabels,
		}, []string{"kind", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "chatfire_ack_latency_seconds",
			Help:        "Round-trip latency of measured sends.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"kind"}),
	}

	counter := func(name, help string, read func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: name, Help: help, ConstLabels: constLabels,
		}, func() float64 { return float64(read()) })
	}
	reg.MustRegister(
		e.outcomes,
		e.latency,
		counter("chatfire_successes_total", "Messages sent successfully.", c.successes.Load),
		counter("chatfire_failures_total", "Messages that exhausted their attempts.", c.failures.Load),
		counter("chatfire_connections_created_total", "Connections dialed.", c.created.Load),
		counter("chatfire_reconnections_total", "Connection-level failures during sends.", c.reconnections.Load),
		counter("chatfire_dropped_total", "Items abandoned after a queue wait timeout.", c.dropped.Load),
	)
	if gauges.LiveConnections != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chatfire_live_connections", Help: "Pooled connections currently alive.", ConstLabels: constLabels,
		}, gauges.LiveConnections))
	}
	if gauges.QueueDepth != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chatfire_queue_depth", Help: "Work items waiting in the queue.", ConstLabels: constLabels,
		}, gauges.QueueDepth))
	}

	c.SetObserver(e)
	return e
}

// ObserveRecord implements Observer.
func (e *Exporter) ObserveRecord(r Record) {
	kind := string(r.Kind)
	e.outcomes.WithLabelValues(kind, strconv.Itoa(r.StatusCode)).Inc()
	if r.Measured() {
		e.latency.WithLabelValues(kind).Observe(float64(r.LatencyMs) / 1000)
	}
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
