// Package metrics exports cache statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fengzhizi715/multi-level-cache/cache"
)

// Source is what a Collector reads on every scrape. *cache.Coordinator
// implements it.
type Source interface {
	Stats() cache.Stats
	LocalMetrics() cache.LocalCacheMetrics
}

// Collector is a prometheus.Collector over a Source. Values are read at
// scrape time, so the cache never blocks on metric updates.
type Collector struct {
	source Source

	requests      *prometheus.Desc
	localFailures *prometheus.Desc
	invalidations *prometheus.Desc
	bloomMemoHits *prometheus.Desc
	evictions     *prometheus.Desc
	entries       *prometheus.Desc
}

// NewCollector creates a Collector. namespace prefixes every metric name and
// constLabels are attached to every sample (typically the pod id).
func NewCollector(source Source, namespace string, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		source:        source,
		requests:      desc("requests_total", "Cache lookups by layer and result.", "layer", "result"),
		localFailures: desc("local_failures_total", "Local cache writes that were rejected."),
		invalidations: desc("invalidations_total", "Local entries dropped on a remote invalidation event."),
		bloomMemoHits: desc("bloom_memo_hits_total", "Bloom filter checks answered from the local memo."),
		evictions:     desc("local_evictions_total", "Entries evicted from the local cache."),
		entries:       desc("local_entries", "Entries currently held by the local cache."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.localFailures
	ch <- c.invalidations
	ch <- c.bloomMemoHits
	ch <- c.evictions
	ch <- c.entries
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	m := c.source.LocalMetrics()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.requests, s.LocalHits, "local", "hit")
	counter(c.requests, s.LocalMisses, "local", "miss")
	counter(c.requests, s.RemoteHits, "remote", "hit")
	counter(c.requests, s.RemoteMisses, "remote", "miss")
	counter(c.requests, s.RemoteErrors, "remote", "error")
	counter(c.localFailures, s.LocalFailures)
	counter(c.invalidations, s.Invalidations)
	counter(c.bloomMemoHits, s.BloomMemoHits)
	counter(c.evictions, m.Evictions)

	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.LocalSize))
}

// Register creates a Collector for source and registers it with reg.
func Register(reg prometheus.Registerer, source Source, namespace string, constLabels prometheus.Labels) (*Collector, error) {
	c := NewCollector(source, namespace, constLabels)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}
