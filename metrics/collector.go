// Package metrics exports searchd client statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/pior/sphinx"
)

// Source is the statistics surface of *sphinx.Client.
type Source interface {
	Addr() string
	Stats() sphinx.ClientStats
	PoolStats() sphinx.PoolStats
	BreakerState() gobreaker.State
}

var _ Source = (*sphinx.Client)(nil)

// Collector is a prometheus.Collector reading a client's statistics on
// every scrape. Every metric carries a "server" label.
type Collector struct {
	sources []Source

	calls      *prometheus.Desc
	subQueries *prometheus.Desc
	warnings   *prometheus.Desc
	errors     *prometheus.Desc

	engines          *prometheus.Desc
	enginesCreated   *prometheus.Desc
	enginesDestroyed *prometheus.Desc
	acquires         *prometheus.Desc
	acquireWaits     *prometheus.Desc
	acquireWaitTime  *prometheus.Desc
	acquireErrors    *prometheus.Desc

	breakerState *prometheus.Desc
}

// NewCollector returns a collector for the given clients.
func NewCollector(sources ...Source) *Collector {
	server := []string{"server"}

	return &Collector{
		sources: sources,

		calls: prometheus.NewDesc(
			"sphinx_client_calls_total",
			"Client calls by kind",
			[]string{"server", "call"}, nil,
		),
		subQueries: prometheus.NewDesc(
			"sphinx_client_search_queries_total",
			"Search queries sent, counting each query of a batch",
			server, nil,
		),
		warnings: prometheus.NewDesc(
			"sphinx_client_warnings_total",
			"Calls that returned a searchd warning",
			server, nil,
		),
		errors: prometheus.NewDesc(
			"sphinx_client_errors_total",
			"Calls that failed",
			server, nil,
		),

		engines: prometheus.NewDesc(
			"sphinx_pool_engines",
			"Engines in the pool by state",
			[]string{"server", "state"}, nil,
		),
		enginesCreated: prometheus.NewDesc(
			"sphinx_pool_engines_created_total",
			"Engines created",
			server, nil,
		),
		enginesDestroyed: prometheus.NewDesc(
			"sphinx_pool_engines_destroyed_total",
			"Engines destroyed",
			server, nil,
		),
		acquires: prometheus.NewDesc(
			"sphinx_pool_acquires_total",
			"Engine acquire attempts",
			server, nil,
		),
		acquireWaits: prometheus.NewDesc(
			"sphinx_pool_acquire_waits_total",
			"Engine acquires that had to wait",
			server, nil,
		),
		acquireWaitTime: prometheus.NewDesc(
			"sphinx_pool_acquire_wait_seconds_total",
			"Time spent waiting for an engine",
			server, nil,
		),
		acquireErrors: prometheus.NewDesc(
			"sphinx_pool_acquire_errors_total",
			"Failed engine acquires",
			server, nil,
		),

		breakerState: prometheus.NewDesc(
			"sphinx_circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=half-open, 2=open)",
			server, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.subQueries
	ch <- c.warnings
	ch <- c.errors
	ch <- c.engines
	ch <- c.enginesCreated
	ch <- c.enginesDestroyed
	ch <- c.acquires
	ch <- c.acquireWaits
	ch <- c.acquireWaitTime
	ch <- c.acquireErrors
	ch <- c.breakerState
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		c.collectClient(ch, src.Addr(), src.Stats())
		c.collectPool(ch, src.Addr(), src.PoolStats())

		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, float64(src.BreakerState()), src.Addr())
	}
}

func (c *Collector) collectClient(ch chan<- prometheus.Metric, addr string, s sphinx.ClientStats) {
	calls := []struct {
		name  string
		value uint64
	}{
		{"query", s.Queries},
		{"batch", s.Batches},
		{"optimized", s.Optimized},
		{"update", s.Updates},
		{"keywords", s.Keywords},
	}
	for _, call := range calls {
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(call.value), addr, call.name)
	}

	ch <- prometheus.MustNewConstMetric(c.subQueries, prometheus.CounterValue, float64(s.SubQueries), addr)
	ch <- prometheus.MustNewConstMetric(c.warnings, prometheus.CounterValue, float64(s.Warnings), addr)
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors), addr)
}

func (c *Collector) collectPool(ch chan<- prometheus.Metric, addr string, s sphinx.PoolStats) {
	ch <- prometheus.MustNewConstMetric(c.engines, prometheus.GaugeValue, float64(s.TotalEngines), addr, "total")
	ch <- prometheus.MustNewConstMetric(c.engines, prometheus.GaugeValue, float64(s.ActiveEngines), addr, "active")
	ch <- prometheus.MustNewConstMetric(c.engines, prometheus.GaugeValue, float64(s.IdleEngines), addr, "idle")

	ch <- prometheus.MustNewConstMetric(c.enginesCreated, prometheus.CounterValue, float64(s.CreatedEngines), addr)
	ch <- prometheus.MustNewConstMetric(c.enginesDestroyed, prometheus.CounterValue, float64(s.DestroyedEngines), addr)
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount), addr)
	ch <- prometheus.MustNewConstMetric(c.acquireWaits, prometheus.CounterValue, float64(s.AcquireWaitCount), addr)
	ch <- prometheus.MustNewConstMetric(c.acquireWaitTime, prometheus.CounterValue, float64(s.AcquireWaitTimeNs)/1e9, addr)
	ch <- prometheus.MustNewConstMetric(c.acquireErrors, prometheus.CounterValue, float64(s.AcquireErrors), addr)
}
