package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zexplore"

// Exposes the counters of a search as prometheus metrics
type Collector struct {
	stats  *Stats
	descs  []*prometheus.Desc
	values []func(Snapshot) float64
}

func NewCollector(s *Stats, constLabels prometheus.Labels) *Collector {
	c := &Collector{stats: s}
	counter := func(name, help string, value func(Snapshot) int64) {
		c.descs = append(c.descs, prometheus.NewDesc(prometheus.BuildFQName(namespace, "search", name), help, nil, constLabels))
		c.values = append(c.values, func(s Snapshot) float64 { return float64(value(s)) })
	}
	counter("transitions_total", "Transitions executed while exploring", func(s Snapshot) int64 { return s.Transitions })
	counter("replayed_transitions_total", "Transitions executed to reconstruct states", func(s Snapshot) int64 { return s.Replayed })
	counter("states_total", "Distinct states stored in the state table", func(s Snapshot) int64 { return s.States })
	counter("revisits_total", "States pruned as already visited", func(s Snapshot) int64 { return s.Revisits })
	counter("delays_total", "Scheduler delays", func(s Snapshot) int64 { return s.Delays })
	counter("frontiers_total", "Frontiers produced for the next iteration", func(s Snapshot) int64 { return s.Frontiers })
	counter("terminals_total", "Terminal states reached", func(s Snapshot) int64 { return s.Terminals })
	counter("errors_total", "Reportable errors found", func(s Snapshot) int64 { return s.Errors })
	counter("stack_overflows_total", "Schedules aborted at the maximum stack depth", func(s Snapshot) int64 { return s.StackOverflows })
	counter("evicted_total", "State table entries moved out of memory", func(s Snapshot) int64 { return s.Evicted })
	counter("iterations_total", "Completed iterations", func(s Snapshot) int64 { return s.Iterations })
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	for i, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, c.values[i](snap))
	}
}
