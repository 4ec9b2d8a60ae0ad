package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "drfsched"

type Metrics struct {
	Passes          *prometheus.CounterVec
	Bindings        *prometheus.CounterVec
	Unplaceable     *prometheus.CounterVec
	NoNodes         prometheus.Counter
	InventoryErrors prometheus.Counter
	PendingPods     prometheus.Gauge
	PassDuration    *prometheus.HistogramVec
}

// NewMetrics registers the scheduler metrics with reg. A nil reg builds
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "passes_total",
			Help:      "Scheduling passes run, by policy.",
		}, []string{"policy"}),
		Bindings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bindings_total",
			Help:      "Binding attempts, by policy and result.",
		}, []string{"policy", "result"}),
		Unplaceable: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unplaceable_pods_total",
			Help:      "Pods dropped from a pass for lack of capacity.",
		}, []string{"policy"}),
		NoNodes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "no_nodes_cycles_total",
			Help:      "Cycles skipped because no candidate node was available.",
		}),
		InventoryErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inventory_errors_total",
			Help:      "Failed inventory reads.",
		}),
		PendingPods: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_pods",
			Help:      "Pending pods seen by the last poll.",
		}),
		PassDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of a scheduling pass including bindings.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"policy"}),
	}
}
