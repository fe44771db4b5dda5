package lifecycle

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats counts span lifecycle events of a Manager.
type Stats struct {
	started        atomic.Int64
	finished       atomic.Int64
	doubleFinished atomic.Int64
	orphaned       atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Started        int64
	Finished       int64
	DoubleFinished int64
	Orphaned       int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Started:        s.started.Load(),
		Finished:       s.finished.Load(),
		DoubleFinished: s.doubleFinished.Load(),
		Orphaned:       s.orphaned.Load(),
	}
}

var _ prometheus.Collector = (*Collector)(nil)

// Collector exposes Stats as prometheus counters.
//
// Example:
//
//	prometheus.MustRegister(lifecycle.NewCollector("myapp", mgr.Stats()))
type Collector struct {
	stats *Stats

	started        *prometheus.Desc
	finished       *prometheus.Desc
	doubleFinished *prometheus.Desc
	orphaned       *prometheus.Desc
}

// NewCollector creates a collector for stats under the given namespace.
func NewCollector(namespace string, stats *Stats) *Collector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "datastore", n)
	}
	return &Collector{
		stats: stats,
		started: prometheus.NewDesc(name("spans_started_total"),
			"Datastore spans started.", nil, nil),
		finished: prometheus.NewDesc(name("spans_finished_total"),
			"Datastore spans finished.", nil, nil),
		doubleFinished: prometheus.NewDesc(name("spans_double_finished_total"),
			"Finish notifications received for already finished datastore spans.", nil, nil),
		orphaned: prometheus.NewDesc(name("spans_orphaned_total"),
			"Datastore spans finished after their unit of work ended.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.started
	ch <- c.finished
	ch <- c.doubleFinished
	ch <- c.orphaned
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.started, prometheus.CounterValue, float64(snap.Started))
	ch <- prometheus.MustNewConstMetric(c.finished, prometheus.CounterValue, float64(snap.Finished))
	ch <- prometheus.MustNewConstMetric(c.doubleFinished, prometheus.CounterValue, float64(snap.DoubleFinished))
	ch <- prometheus.MustNewConstMetric(c.orphaned, prometheus.CounterValue, float64(snap.Orphaned))
}
