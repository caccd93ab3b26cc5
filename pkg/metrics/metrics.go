// Package metrics exposes fuzz run counters through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unlink2/oxifuzz/pkg/reporting"
	"github.com/unlink2/oxifuzz/pkg/transform"
)

// Metrics holds the fuzz run counters. A nil *Metrics is a valid no-op
// collector so callers never branch on whether metrics are enabled.
type Metrics struct {
	iterations   prometheus.Counter
	verdicts     *prometheus.CounterVec
	runnerErrors prometheus.Counter
}

// New registers the oxifuzz counters with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "oxifuzz",
			Name:      "iterations_total",
			Help:      "Number of fuzz iterations executed.",
		}),
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oxifuzz",
			Name:      "verdicts_total",
			Help:      "Iteration verdicts by exit kind.",
		}, []string{"kind"}),
		runnerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "oxifuzz",
			Name:      "runner_errors_total",
			Help:      "Iterations that failed with a runner error.",
		}),
	}
}

// ObserveIteration counts one started iteration.
func (m *Metrics) ObserveIteration() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

// ObserveVerdict counts one classified result.
func (m *Metrics) ObserveVerdict(kind transform.ExitKind) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(kind.String()).Inc()
}

// ObserveRunnerError counts one errored iteration.
func (m *Metrics) ObserveRunnerError() {
	if m == nil {
		return
	}
	m.runnerErrors.Inc()
}

// Serve exposes reg on addr under /metrics in a background goroutine.
// Listener failures are logged, not fatal: metrics are an observer, never
// a reason to stop a fuzz run.
func Serve(addr string, reg *prometheus.Registry, logger *reporting.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Metrics listener stopped", "error", err)
		}
	}()
}
