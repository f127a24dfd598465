package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/firehose/internal/router"
	"github.com/rickgao/firehose/internal/stream"
	"github.com/rickgao/firehose/internal/writer"
)

func scrape(t *testing.T, source StatsSource) string {
	t.Helper()

	reg := NewRegistry(source, "test")
	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector(t *testing.T) {
	stats := stream.Stats{
		Connected:        true,
		Connects:         3,
		ConnectFailures:  2,
		ReadFailures:     1,
		StaleTimeouts:    1,
		RetriesScheduled: 4,
		NextRetryDelay:   2 * time.Second,
		Frames:           100,
		KeepAlives:       7,
		ParseErrors:      1,
		Dropped:          5,
		Channels: map[string]router.ChannelStats{
			"tweets": {Pending: 4, Appended: 90, Flushed: 86},
		},
	}

	out := scrape(t, func() stream.Stats { return stats })

	for _, line := range []string{
		`firehose_stream_connected{instance_id="test"} 1`,
		`firehose_stream_connects_total{instance_id="test"} 3`,
		`firehose_stream_failures_total{instance_id="test",kind="connect"} 2`,
		`firehose_stream_failures_total{instance_id="test",kind="stale"} 1`,
		`firehose_stream_next_retry_delay_seconds{instance_id="test"} 2`,
		`firehose_stream_frames_total{instance_id="test"} 100`,
		`firehose_stream_channel_pending{channel="tweets",instance_id="test"} 4`,
		`firehose_stream_channel_flushed_total{channel="tweets",instance_id="test"} 86`,
	} {
		assert.Contains(t, out, line)
	}

	// No receive yet, no staleness gauge.
	assert.NotContains(t, out, "firehose_stream_seconds_since_receive")

	// Runtime collectors are registered too.
	assert.Contains(t, out, "go_goroutines")
}

func TestCollector_SinceReceive(t *testing.T) {
	last := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	c := NewCollector(func() stream.Stats { return stream.Stats{LastReceive: last} }, "test")
	c.now = func() time.Time { return last.Add(30 * time.Second) }

	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	found := false
	for m := range ch {
		if m.Desc() == c.sinceReceive {
			found = true
		}
	}
	assert.True(t, found, "expected seconds_since_receive once data has arrived")
}

func TestSinkCollector(t *testing.T) {
	sinks := NewSinkCollector(SinkSources{
		Hub: func() writer.HubStats {
			return writer.HubStats{Subscribers: 2, Sent: 40, Dropped: 1}
		},
		Postgres: func() writer.WriterMetrics {
			return writer.WriterMetrics{Inserts: 90, Conflicts: 3, Errors: 1, Flushes: 12}
		},
	}, "test")

	reg := NewRegistry(func() stream.Stats { return stream.Stats{} }, "test", sinks)
	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)

	for _, line := range []string{
		`firehose_sink_websocket_subscribers{instance_id="test"} 2`,
		`firehose_sink_websocket_sent_total{instance_id="test"} 40`,
		`firehose_sink_websocket_dropped_total{instance_id="test"} 1`,
		`firehose_sink_postgres_inserts_total{instance_id="test"} 90`,
		`firehose_sink_postgres_conflicts_total{instance_id="test"} 3`,
		`firehose_sink_postgres_errors_total{instance_id="test"} 1`,
		`firehose_sink_postgres_flushes_total{instance_id="test"} 12`,
	} {
		assert.Contains(t, out, line)
	}
}

func TestSinkCollector_DisabledSinks(t *testing.T) {
	sinks := NewSinkCollector(SinkSources{}, "test")

	ch := make(chan prometheus.Metric, 16)
	sinks.Collect(ch)
	close(ch)
	assert.Empty(t, ch)

	// Registering a collector that describes nothing is allowed.
	reg := prometheus.NewRegistry()
	assert.NoError(t, reg.Register(sinks))
}
