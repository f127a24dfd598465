package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/firehose/internal/connection"
	"github.com/rickgao/firehose/internal/router"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// testFeed sends anything with "text" to "tweets", anything with "drop"
// nowhere and the rest to "other".
type testFeed struct {
	url    string
	resets atomic.Int64
}

func (f *testFeed) Endpoint() connection.Endpoint {
	return connection.Endpoint{Method: http.MethodGet, URL: f.url}
}

func (f *testFeed) Classify(msg router.Message) (string, router.Message, bool) {
	if _, ok := msg["drop"]; ok {
		return "", nil, false
	}
	if _, ok := msg["text"]; ok {
		return "tweets", msg, true
	}
	return "other", msg, true
}

func (f *testFeed) Reset() {
	f.resets.Add(1)
}

// recordingWriter keeps every batch it is given.
type recordingWriter struct {
	mu      sync.Mutex
	batches []router.Batch
	err     error
}

func (w *recordingWriter) Write(ctx context.Context, batch router.Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, batch)
	return w.err
}

func (w *recordingWriter) Batches() []router.Batch {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]router.Batch, len(w.batches))
	copy(out, w.batches)
	return out
}

// streamServer writes frames then holds the connection open until the
// client goes away.
type streamServer struct {
	*httptest.Server
	requests atomic.Int64
}

func newStreamServer(t *testing.T, frames ...string) *streamServer {
	t.Helper()

	s := &streamServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			io.WriteString(w, f)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestEngine(t *testing.T, url string, writer Writer) (*Engine, *clock.Mock, *testFeed) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(epoch)

	feed := &testFeed{url: url}
	cfg := DefaultConfig()
	cfg.Connector.ConnectTimeout = 5 * time.Second

	e := NewEngine(cfg, feed, nil, writer, nil, WithClock(mock))
	return e, mock, feed
}

func stopEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
}

// advance moves the mock forward one step at a time so every tick is seen.
func advance(mock *clock.Mock, d, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		mock.Add(step)
		time.Sleep(time.Millisecond)
	}
}

func TestEngine_StartTwice(t *testing.T) {
	server := newStreamServer(t)
	e, _, _ := newTestEngine(t, server.URL, &recordingWriter{})

	require.NoError(t, e.Start(context.Background()))
	defer stopEngine(t, e)

	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)
}

func TestEngine_FlushOnTick(t *testing.T) {
	server := newStreamServer(t,
		frame(`{"text":"one"}`+"\r\n"),
		"\r\n",
		frame(`{"limit":{"track":5}}`+"\r\n"),
		frame(`{"text":"two"}`+"\r\n"),
	)

	writer := &recordingWriter{}
	e, mock, _ := newTestEngine(t, server.URL, writer)

	require.NoError(t, e.Start(context.Background()))
	defer stopEngine(t, e)

	require.Eventually(t, func() bool { return e.Stats().Frames == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), e.Stats().KeepAlives)
	assert.Empty(t, writer.Batches(), "nothing is written before the flush interval")

	mock.Add(2 * time.Second)

	require.Eventually(t, func() bool { return len(writer.Batches()) == 2 }, 2*time.Second, 5*time.Millisecond)

	byChannel := map[string]router.Batch{}
	for _, b := range writer.Batches() {
		byChannel[b.Channel] = b
	}

	tweets := byChannel["tweets"]
	require.Len(t, tweets.Messages, 2)
	assert.Equal(t, "one", tweets.Messages[0]["text"])
	assert.Equal(t, "two", tweets.Messages[1]["text"])
	assert.True(t, tweets.FlushedAt.Equal(epoch.Add(2*time.Second)))
	assert.Len(t, byChannel["other"].Messages, 1)

	// Empty channels produce no batch.
	mock.Add(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, writer.Batches(), 2)

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.Channels["tweets"].Flushed)
	assert.Equal(t, 0, stats.Channels["tweets"].Pending)
}

func TestEngine_MalformedJSONDoesNotReconnect(t *testing.T) {
	server := newStreamServer(t,
		frame(`{"text": broken`+"\r\n"),
		frame(`{"text":"ok"}`+"\r\n"),
		frame(`{"drop":true}`+"\r\n"),
	)

	writer := &recordingWriter{}
	e, _, _ := newTestEngine(t, server.URL, writer)

	require.NoError(t, e.Start(context.Background()))
	defer stopEngine(t, e)

	require.Eventually(t, func() bool { return e.Stats().Frames == 3 }, 2*time.Second, 5*time.Millisecond)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.ParseErrors)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(0), stats.ReadFailures)
	assert.Equal(t, int64(0), stats.RetriesScheduled)
	assert.Equal(t, int64(1), stats.Connects)
	assert.True(t, stats.Connected)

	e.Flush(context.Background())
	batches := writer.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "tweets", batches[0].Channel)
	assert.Len(t, batches[0].Messages, 1)
}

func TestEngine_BackoffDoublesOnFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	e, mock, _ := newTestEngine(t, server.URL, &recordingWriter{})

	require.NoError(t, e.Start(context.Background()))
	defer stopEngine(t, e)

	failures := func(n int64) func() bool {
		return func() bool { return e.Stats().ConnectFailures == n }
	}

	// Delays run 1s, 2s, 4s, 8s.
	require.Eventually(t, failures(1), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2*time.Second, e.Stats().NextRetryDelay)

	wait := time.Second
	for k := int64(2); k <= 4; k++ {
		// Just short of the delay: no attempt yet.
		mock.Add(wait - time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, k-1, e.Stats().ConnectFailures, "attempt %d fired early", k)

		mock.Add(time.Millisecond)
		require.Eventually(t, failures(k), 2*time.Second, 5*time.Millisecond)

		wait *= 2
		require.Eventually(t, func() bool { return e.Stats().NextRetryDelay == wait*2 }, time.Second, time.Millisecond)
	}

	assert.Equal(t, int64(4), e.Stats().RetriesScheduled)
	assert.Equal(t, int64(0), e.Stats().Connects)
}

func TestEngine_BackoffResetsAfterConnect(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	e, mock, _ := newTestEngine(t, server.URL, &recordingWriter{})

	require.NoError(t, e.Start(context.Background()))
	defer stopEngine(t, e)

	require.Eventually(t, func() bool { return e.Stats().ConnectFailures == 1 }, 2*time.Second, 5*time.Millisecond)
	mock.Add(time.Second)
	require.Eventually(t, func() bool { return e.Stats().ConnectFailures == 2 }, 2*time.Second, 5*time.Millisecond)
	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return e.Stats().Connected }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, time.Second, e.Stats().NextRetryDelay)
}

func TestEngine_StaleConnectionReconnectsOnce(t *testing.T) {
	server := newStreamServer(t, frame(`{"text":"hello"}`+"\r\n"))

	e, mock, feed := newTestEngine(t, server.URL, &recordingWriter{})

	require.NoError(t, e.Start(context.Background()))
	defer stopEngine(t, e)

	require.Eventually(t, func() bool { return e.Stats().Frames == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, e.LastReceive().Equal(epoch))

	// Silence up to the threshold is tolerated.
	advance(mock, 90*time.Second, time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), e.Stats().StaleTimeouts)

	// The next check sees 91s without data.
	advance(mock, time.Second, time.Second)
	require.Eventually(t, func() bool { return e.Stats().StaleTimeouts == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), e.Stats().RetriesScheduled)

	// Retry after the 1s floor.
	advance(mock, time.Second, time.Second)
	require.Eventually(t, func() bool { return server.requests.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return e.Stats().Frames == 2 }, 2*time.Second, 5*time.Millisecond)

	// The replaced reader exits without scheduling another attempt.
	advance(mock, 30*time.Second, time.Second)
	time.Sleep(20 * time.Millisecond)

	stats := e.Stats()
	assert.Equal(t, int64(2), server.requests.Load())
	assert.Equal(t, int64(1), stats.StaleTimeouts)
	assert.Equal(t, int64(1), stats.RetriesScheduled)
	assert.Equal(t, int64(0), stats.ReadFailures)
	assert.Equal(t, int64(2), stats.Connects)
	assert.Equal(t, int64(2), feed.resets.Load())
}

func TestEngine_ReadFailureReconnects(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if calls.Add(1) == 1 {
			// Truncated frame, then EOF.
			io.WriteString(w, "50\r\n{\"text\":")
			return
		}
		io.WriteString(w, frame(`{"text":"back"}`+"\r\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	e, mock, _ := newTestEngine(t, server.URL, &recordingWriter{})

	require.NoError(t, e.Start(context.Background()))
	defer stopEngine(t, e)

	require.Eventually(t, func() bool { return e.Stats().ReadFailures == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), e.Stats().RetriesScheduled)

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return e.Stats().Frames == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), e.Stats().Connects)
}

func TestEngine_StopDrainsAndDisconnects(t *testing.T) {
	server := newStreamServer(t,
		frame(`{"text":"pending"}`+"\r\n"),
	)

	writer := &recordingWriter{}
	e, mock, _ := newTestEngine(t, server.URL, writer)

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return e.Stats().Frames == 1 }, 2*time.Second, 5*time.Millisecond)

	stopEngine(t, e)

	batches := writer.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "tweets", batches[0].Channel)

	stats := e.Stats()
	assert.False(t, stats.Connected)
	assert.Equal(t, int64(0), stats.ReadFailures)
	assert.Equal(t, int64(0), stats.RetriesScheduled)

	// Nothing runs after stop.
	advance(mock, 120*time.Second, 10*time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), server.requests.Load())
	assert.Len(t, writer.Batches(), 1)

	// Stop is idempotent.
	stopEngine(t, e)
}

func TestEngine_StopCancelsPendingRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	e, mock, _ := newTestEngine(t, server.URL, &recordingWriter{})

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return e.Stats().RetriesScheduled == 1 }, 2*time.Second, 5*time.Millisecond)

	stopEngine(t, e)

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), e.Stats().ConnectFailures)
}

// ctxWriter fails once the context it is handed is done.
type ctxWriter struct {
	recordingWriter
}

func (w *ctxWriter) Write(ctx context.Context, batch router.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.recordingWriter.Write(ctx, batch)
}

func TestEngine_CancelledStartContextKeepsFlushing(t *testing.T) {
	server := newStreamServer(t, frame(`{"text":"buffered"}`+"\r\n"))

	writer := &ctxWriter{}
	e, mock, _ := newTestEngine(t, server.URL, writer)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	defer stopEngine(t, e)

	require.Eventually(t, func() bool { return e.Stats().Frames == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !e.Stats().Connected }, 2*time.Second, 5*time.Millisecond)

	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return len(writer.Batches()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "buffered", writer.Batches()[0].Messages[0]["text"])

	// No reconnects once the context is done.
	advance(mock, 10*time.Second, time.Second)
	time.Sleep(20 * time.Millisecond)

	stats := e.Stats()
	assert.Equal(t, int64(0), stats.WriteErrors)
	assert.Equal(t, int64(0), stats.ReadFailures)
	assert.Equal(t, int64(0), stats.RetriesScheduled)
	assert.Equal(t, int64(1), server.requests.Load())
}

func TestEngine_WriteErrorsAreCounted(t *testing.T) {
	server := newStreamServer(t, frame(`{"text":"x"}`+"\r\n"))

	writer := &recordingWriter{err: errors.New("sink unavailable")}
	e, _, _ := newTestEngine(t, server.URL, writer)

	require.NoError(t, e.Start(context.Background()))
	defer stopEngine(t, e)

	require.Eventually(t, func() bool { return e.Stats().Frames == 1 }, 2*time.Second, 5*time.Millisecond)

	e.Flush(context.Background())

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Batches)
	assert.Equal(t, int64(1), stats.WriteErrors)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{StaleThreshold: 500 * time.Millisecond}.withDefaults()

	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.StaleCheckInterval, "check interval is clamped to the threshold")
	assert.Equal(t, time.Second, cfg.Backoff.Floor)
	assert.Equal(t, 16<<20, cfg.MaxFrameSize)
}
