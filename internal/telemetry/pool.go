package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TimurManjosov/querygate/internal/db"
)

// PoolCollector reads pool statistics at scrape time.
type PoolCollector struct {
	stats func() db.Stats

	acquired     *prometheus.Desc
	idle         *prometheus.Desc
	total        *prometheus.Desc
	max          *prometheus.Desc
	acquireCount *prometheus.Desc
	emptyAcquire *prometheus.Desc
	canceled     *prometheus.Desc
	acquireSecs  *prometheus.Desc
}

func NewPoolCollector(stats func() db.Stats) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("db_pool_"+name, help, nil, nil)
	}
	return &PoolCollector{
		stats:        stats,
		acquired:     desc("acquired_conns", "Connections currently leased"),
		idle:         desc("idle_conns", "Idle connections"),
		total:        desc("total_conns", "Open connections"),
		max:          desc("max_conns", "Configured pool capacity"),
		acquireCount: desc("acquire_total", "Successful acquires"),
		emptyAcquire: desc("empty_acquire_total", "Acquires that had to wait for a connection"),
		canceled:     desc("canceled_acquire_total", "Acquires canceled by their context"),
		acquireSecs:  desc("acquire_duration_seconds_total", "Cumulative time spent acquiring"),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.acquireCount
	ch <- c.emptyAcquire
	ch <- c.canceled
	ch <- c.acquireSecs
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(s.AcquireCount))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(s.EmptyAcquireCount))
	ch <- prometheus.MustNewConstMetric(c.canceled, prometheus.CounterValue, float64(s.CanceledAcquireCount))
	ch <- prometheus.MustNewConstMetric(c.acquireSecs, prometheus.CounterValue, s.AcquireDuration.Seconds())
}
