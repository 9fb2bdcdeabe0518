package core

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"erpcore/pkg/domain"
)

// MetricsRecorder observes the outcome of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Result labels.
const (
	ResultSuccess    = "success"
	ResultDenied     = "denied"
	ResultConflict   = "conflict"
	ResultValidation = "validation"
	ResultNotFound   = "not_found"
	ResultError      = "error"
)

// PrometheusRecorder exports operation latency and outcome counters. It also
// serves as the table engine's mutation observer.
type PrometheusRecorder struct {
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

// NewPrometheusRecorder registers the erpcore collectors on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	r := &PrometheusRecorder{
		registry: reg,
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "erpcore",
			Name:      "mutation_duration_seconds",
			Help:      "Latency of backend mutations and service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "erpcore",
			Name:      "mutation_results_total",
			Help:      "Outcomes of backend mutations and service operations.",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(r.durations, r.results)
	return r
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	result := ResultSuccess
	if !success {
		result = ResultError
	}
	r.record(operation, result, duration)
}

// ObserveMutation implements table.Observer, labelling failures by error class.
func (r *PrometheusRecorder) ObserveMutation(op string, elapsed time.Duration, err error) {
	r.record(op, ResultOf(err), elapsed)
}

func (r *PrometheusRecorder) record(operation, result string, d time.Duration) {
	if operation == "" {
		return
	}
	r.durations.WithLabelValues(operation).Observe(d.Seconds())
	r.results.WithLabelValues(operation, result).Inc()
}

// Registry exposes the underlying registry, e.g. for extra collectors.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ResultOf maps an error onto a result label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case domain.IsAuthorization(err):
		return ResultDenied
	case domain.IsConflict(err):
		return ResultConflict
	case domain.IsValidation(err):
		return ResultValidation
	case domain.IsNotFound(err):
		return ResultNotFound
	default:
		return ResultError
	}
}
