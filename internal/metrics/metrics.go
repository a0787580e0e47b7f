// Package metrics defines the Prometheus gauges/counters the keeper
// updates from its poll loops. Neither this package nor the keeper starts
// an HTTP exporter — scraping is a host-process concern outside this
// core's scope (spec.md §1 excludes "REST/indexer servers"), so Registry
// only exposes the collectors for an embedding process to register and
// serve however it likes. Grounded on the pack's use of
// github.com/prometheus/client_golang (no single example repo centers on
// it the way the teacher does pebble/zap, so this package's shape follows
// the library's own idiomatic constructor/Register pattern rather than any
// one pack file).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every collector the keeper updates.
type Registry struct {
	PoolUtilization   *prometheus.GaugeVec
	OpenInterest      *prometheus.GaugeVec
	ActiveOrders      *prometheus.GaugeVec
	LiquidationsTotal *prometheus.CounterVec
	GCStepSweptTotal  prometheus.Counter
}

// NewRegistry constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() for test isolation, or prometheus.DefaultRegisterer
// wrapped in a *prometheus.Registry for a real process.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		PoolUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "unxversal", Subsystem: "lending", Name: "pool_utilization_ray",
			Help: "Current ray-scaled utilization (borrows / (borrows+cash)) per lending pool.",
		}, []string{"asset"}),
		OpenInterest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "unxversal", Subsystem: "derivatives", Name: "open_interest",
			Help: "Aggregate absolute open position size per market.",
		}, []string{"market"}),
		ActiveOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "unxversal", Subsystem: "orderbook", Name: "active_orders",
			Help: "Count of currently resting orders per market.",
		}, []string{"market"}),
		LiquidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unxversal", Subsystem: "liquidation", Name: "executed_total",
			Help: "Liquidations executed, partitioned by product silo.",
		}, []string{"silo"}),
		GCStepSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unxversal", Subsystem: "orderbook", Name: "gc_step_swept_total",
			Help: "Resting orders removed by expiry sweeps across all markets.",
		}),
	}
	reg.MustRegister(m.PoolUtilization, m.OpenInterest, m.ActiveOrders, m.LiquidationsTotal, m.GCStepSweptTotal)
	return m
}
