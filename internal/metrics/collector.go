package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/firehose/internal/stream"
)

const namespace = "firehose"

// StatsSource returns a snapshot of engine statistics.
type StatsSource func() stream.Stats

// Collector reads engine statistics on every scrape.
type Collector struct {
	source StatsSource
	now    func() time.Time

	connected       *prometheus.Desc
	connects        *prometheus.Desc
	failures        *prometheus.Desc
	retries         *prometheus.Desc
	nextRetry       *prometheus.Desc
	frames          *prometheus.Desc
	keepAlives      *prometheus.Desc
	parseErrors     *prometheus.Desc
	dropped         *prometheus.Desc
	batches         *prometheus.Desc
	writeErrors     *prometheus.Desc
	sinceReceive    *prometheus.Desc
	channelPending  *prometheus.Desc
	channelAppended *prometheus.Desc
	channelFlushed  *prometheus.Desc
}

// NewCollector creates a Collector. instance is attached as a constant label.
func NewCollector(source StatsSource, instance string) *Collector {
	labels := prometheus.Labels{"instance_id": instance}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "stream", name), help, variable, labels)
	}

	return &Collector{
		source: source,
		now:    time.Now,

		connected:       desc("connected", "Whether a stream connection is open (1) or not (0)."),
		connects:        desc("connects_total", "Successful stream connects."),
		failures:        desc("failures_total", "Stream failures by kind.", "kind"),
		retries:         desc("retries_scheduled_total", "Reconnect attempts scheduled."),
		nextRetry:       desc("next_retry_delay_seconds", "Delay the next reconnect attempt would use."),
		frames:          desc("frames_total", "Data frames received."),
		keepAlives:      desc("keepalives_total", "Keep-alive frames received."),
		parseErrors:     desc("parse_errors_total", "Frames whose payload was not a JSON object."),
		dropped:         desc("dropped_total", "Messages the classifier dropped."),
		batches:         desc("batches_total", "Batches handed to the writer."),
		writeErrors:     desc("write_errors_total", "Batches the writer failed to accept."),
		sinceReceive:    desc("seconds_since_receive", "Seconds since any byte was received."),
		channelPending:  desc("channel_pending", "Messages waiting for the next flush.", "channel"),
		channelAppended: desc("channel_appended_total", "Messages appended to a channel.", "channel"),
		channelFlushed:  desc("channel_flushed_total", "Messages flushed from a channel.", "channel"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.connected, c.connects, c.failures, c.retries, c.nextRetry,
		c.frames, c.keepAlives, c.parseErrors, c.dropped, c.batches,
		c.writeErrors, c.sinceReceive, c.channelPending, c.channelAppended,
		c.channelFlushed,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()

	connected := 0.0
	if s.Connected {
		connected = 1
	}

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(c.connected, connected)
	counter(c.connects, s.Connects)
	counter(c.failures, s.ConnectFailures, "connect")
	counter(c.failures, s.ReadFailures, "read")
	counter(c.failures, s.StaleTimeouts, "stale")
	counter(c.retries, s.RetriesScheduled)
	gauge(c.nextRetry, s.NextRetryDelay.Seconds())
	counter(c.frames, s.Frames)
	counter(c.keepAlives, s.KeepAlives)
	counter(c.parseErrors, s.ParseErrors)
	counter(c.dropped, s.Dropped)
	counter(c.batches, s.Batches)
	counter(c.writeErrors, s.WriteErrors)

	if !s.LastReceive.IsZero() {
		gauge(c.sinceReceive, c.now().Sub(s.LastReceive).Seconds())
	}

	for name, cs := range s.Channels {
		gauge(c.channelPending, float64(cs.Pending), name)
		counter(c.channelAppended, cs.Appended, name)
		counter(c.channelFlushed, cs.Flushed, name)
	}
}
