package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/firehose/internal/writer"
)

// SinkSources returns sink statistics. A nil source is not exported.
type SinkSources struct {
	Hub      func() writer.HubStats
	Postgres func() writer.WriterMetrics
}

// SinkCollector reads sink statistics on every scrape.
type SinkCollector struct {
	sources SinkSources

	hubSubscribers *prometheus.Desc
	hubSent        *prometheus.Desc
	hubDropped     *prometheus.Desc
	pgInserts      *prometheus.Desc
	pgConflicts    *prometheus.Desc
	pgErrors       *prometheus.Desc
	pgFlushes      *prometheus.Desc
}

// NewSinkCollector creates a SinkCollector. instance is attached as a constant label.
func NewSinkCollector(sources SinkSources, instance string) *SinkCollector {
	labels := prometheus.Labels{"instance_id": instance}
	desc := func(sink, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "sink_"+sink, name), help, nil, labels)
	}

	return &SinkCollector{
		sources: sources,

		hubSubscribers: desc("websocket", "subscribers", "Connected websocket subscribers."),
		hubSent:        desc("websocket", "sent_total", "Batches queued to websocket subscribers."),
		hubDropped:     desc("websocket", "dropped_total", "Subscribers dropped for falling behind."),
		pgInserts:      desc("postgres", "inserts_total", "Messages inserted."),
		pgConflicts:    desc("postgres", "conflicts_total", "Messages skipped as already stored."),
		pgErrors:       desc("postgres", "errors_total", "Batches that failed to insert."),
		pgFlushes:      desc("postgres", "flushes_total", "Batches inserted."),
	}
}

// Describe implements prometheus.Collector.
func (c *SinkCollector) Describe(ch chan<- *prometheus.Desc) {
	if c.sources.Hub != nil {
		ch <- c.hubSubscribers
		ch <- c.hubSent
		ch <- c.hubDropped
	}
	if c.sources.Postgres != nil {
		ch <- c.pgInserts
		ch <- c.pgConflicts
		ch <- c.pgErrors
		ch <- c.pgFlushes
	}
}

// Collect implements prometheus.Collector.
func (c *SinkCollector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	if c.sources.Hub != nil {
		s := c.sources.Hub()
		ch <- prometheus.MustNewConstMetric(c.hubSubscribers, prometheus.GaugeValue, float64(s.Subscribers))
		counter(c.hubSent, s.Sent)
		counter(c.hubDropped, s.Dropped)
	}
	if c.sources.Postgres != nil {
		s := c.sources.Postgres()
		counter(c.pgInserts, s.Inserts)
		counter(c.pgConflicts, s.Conflicts)
		counter(c.pgErrors, s.Errors)
		counter(c.pgFlushes, s.Flushes)
	}
}
