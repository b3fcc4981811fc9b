package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "prophet"

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_errors_total",
		Help:      "HTTP requests that ended in a server error.",
	}, []string{"handler", "method"})

	// 创建预言要等三笔交易确认，桶上限放到两分钟。
	httpLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"handler", "method"})

	guardExecutions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "guard",
		Name:      "executions_total",
		Help:      "Guarded executions by terminal outcome.",
	}, []string{"outcome", "code"})

	submitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transactions",
		Name:      "submitted_total",
		Help:      "Transactions accepted by the node, by purpose.",
	}, []string{"purpose"})

	settled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transactions",
		Name:      "settled_total",
		Help:      "Submitted transactions settled, by purpose and outcome.",
	}, []string{"purpose", "outcome"})

	reconciled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "attempts_total",
		Help:      "Reconciliation attempts by result.",
	}, []string{"result"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry returns the registry all prophet metrics are registered on.
func Registry() *prometheus.Registry { return registry }

// ObserveHTTPRequest records one finished HTTP request.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveGuardOutcome counts one finished Execute call. code is empty on success.
func ObserveGuardOutcome(outcome, code string) {
	guardExecutions.WithLabelValues(outcome, code).Inc()
}

// ObserveSubmission counts a transaction accepted by the node.
func ObserveSubmission(purpose string) {
	submitted.WithLabelValues(purpose).Inc()
}

// ObserveSettlement counts a submitted transaction reaching an outcome.
func ObserveSettlement(purpose, outcome string) {
	settled.WithLabelValues(purpose, outcome).Inc()
}

// ObserveReconcile counts one reconciliation attempt.
func ObserveReconcile(result string) {
	reconciled.WithLabelValues(result).Inc()
}
