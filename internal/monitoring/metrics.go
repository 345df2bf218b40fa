package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for engines and workers.
type Metrics struct {
	ExecutionsTotal  *prometheus.CounterVec
	ExecutionSeconds *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec
	CallbacksTotal   prometheus.Counter
	WorkersActive    prometheus.Gauge
	WorkerRestarts   prometheus.Counter
}

// New registers the metric set on reg. Pass a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "luaward_executions_total",
			Help: "Engine operations by op and status",
		}, []string{"op", "status"}),
		ExecutionSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "luaward_execution_seconds",
			Help:    "Engine operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "luaward_errors_total",
			Help: "Classified engine errors by kind",
		}, []string{"kind"}),
		CallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "luaward_callbacks_total",
			Help: "Host callbacks serviced for guests",
		}),
		WorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "luaward_workers_active",
			Help: "Worker processes currently alive",
		}),
		WorkerRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "luaward_worker_restarts_total",
			Help: "Workers replaced after dying",
		}),
	}
}

// Default registers on the global Prometheus registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// Timer times one operation.
type Timer struct {
	m     *Metrics
	op    string
	start time.Time
}

// NewTimer starts timing an operation.
func NewTimer(m *Metrics, op string) *Timer {
	return &Timer{m: m, op: op, start: time.Now()}
}

// Stop records the duration and outcome.
func (t *Timer) Stop(status string) {
	if t.m == nil {
		return
	}
	t.m.ExecutionSeconds.WithLabelValues(t.op).Observe(time.Since(t.start).Seconds())
	t.m.ExecutionsTotal.WithLabelValues(t.op, status).Inc()
}
