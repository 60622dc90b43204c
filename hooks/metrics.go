package hooks

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsHook implements Prometheus metrics collection
type MetricsHook struct {
	queryDuration *prometheus.HistogramVec
	clientWait    prometheus.Histogram
	queryTotal    *prometheus.CounterVec
	queryErrors   *prometheus.CounterVec
	txTotal       *prometheus.CounterVec
}

// NewMetricsHook creates a new metrics hook and registers collectors
func NewMetricsHook(registry prometheus.Registerer) (*MetricsHook, error) {
	h := &MetricsHook{
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scopedb_query_duration_seconds",
				Help:    "Duration of database query round-trips in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "role"},
		),
		clientWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scopedb_connection_wait_seconds",
				Help:    "Time spent waiting for a pooled connection in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		queryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopedb_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "role"},
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopedb_query_errors_total",
				Help: "Total number of database query errors",
			},
			[]string{"operation", "role"},
		),
		txTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopedb_transactions_total",
				Help: "Total number of finished transactions and savepoints",
			},
			[]string{"kind", "outcome"},
		),
	}

	collectors := []prometheus.Collector{h.queryDuration, h.clientWait, h.queryTotal, h.queryErrors, h.txTotal}
	for i, c := range collectors {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			// Share the collector another DB already registered.
			collectors[i] = are.ExistingCollector
		}
	}
	h.queryDuration = collectors[0].(*prometheus.HistogramVec)
	h.clientWait = collectors[1].(prometheus.Histogram)
	h.queryTotal = collectors[2].(*prometheus.CounterVec)
	h.queryErrors = collectors[3].(*prometheus.CounterVec)
	h.txTotal = collectors[4].(*prometheus.CounterVec)

	return h, nil
}

// BeforeQuery is called before a query is executed
func (h *MetricsHook) BeforeQuery(ctx context.Context, event *QueryEvent) context.Context {
	return ctx
}

// AfterQuery is called after a query is executed
func (h *MetricsHook) AfterQuery(ctx context.Context, event *QueryEvent) {
	op := OperationType(event.Query)

	h.queryDuration.WithLabelValues(op, event.Role).Observe(event.Duration.Seconds())
	h.queryTotal.WithLabelValues(op, event.Role).Inc()
	if event.Role == RoleDB {
		h.clientWait.Observe(event.Client.Seconds())
	}

	if event.Err != nil {
		h.queryErrors.WithLabelValues(op, event.Role).Inc()
	}
}

// AfterTx counts finished transactions by kind and outcome
func (h *MetricsHook) AfterTx(ctx context.Context, event *TxEvent) {
	h.txTotal.WithLabelValues(event.Kind(), event.Outcome).Inc()
}
