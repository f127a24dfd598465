package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/firehose/internal/router"
)

var flushedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testBatch(channel string, texts ...string) router.Batch {
	msgs := make([]router.Message, len(texts))
	for i, text := range texts {
		msgs[i] = router.Message{"text": text}
	}
	return router.NewBatch(channel, msgs, flushedAt)
}

// fakeDB records queued statements and answers every Exec with tag.
type fakeDB struct {
	execs   []string
	batches []*pgx.Batch
	tags    []string
	err     error
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), db.err
}

func (db *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	db.batches = append(db.batches, b)
	return &fakeResults{tags: db.tags, err: db.err}
}

type fakeResults struct {
	tags []string
	i    int
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := "INSERT 0 1"
	if r.i < len(r.tags) {
		tag = r.tags[r.i]
	}
	r.i++
	return pgconn.NewCommandTag(tag), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row         { return nil }
func (r *fakeResults) Close() error              { return nil }

func TestPostgresWriter_Write(t *testing.T) {
	db := &fakeDB{tags: []string{"INSERT 0 1", "INSERT 0 0", "INSERT 0 1"}}
	w := NewPostgresWriter(db, "", nil)

	batch := testBatch("tweets", "a", "b", "c")
	require.NoError(t, w.Write(context.Background(), batch))

	require.Len(t, db.batches, 1)
	queued := db.batches[0].QueuedQueries
	require.Len(t, queued, 3)

	assert.Contains(t, queued[0].SQL, `INSERT INTO "stream_messages"`)
	assert.Equal(t, batch.ID, queued[1].Arguments[0])
	assert.Equal(t, 1, queued[1].Arguments[1])
	assert.Equal(t, "tweets", queued[1].Arguments[2])
	assert.JSONEq(t, `{"text":"b"}`, string(queued[1].Arguments[4].([]byte)))

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Inserts)
	assert.Equal(t, int64(1), stats.Conflicts)
	assert.Equal(t, int64(1), stats.Flushes)
}

func TestPostgresWriter_EmptyBatch(t *testing.T) {
	db := &fakeDB{}
	w := NewPostgresWriter(db, "", nil)

	require.NoError(t, w.Write(context.Background(), router.Batch{Channel: "tweets"}))
	assert.Empty(t, db.batches)
}

func TestPostgresWriter_Error(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewPostgresWriter(db, "events_raw", nil)

	err := w.Write(context.Background(), testBatch("events", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int64(1), w.Stats().Errors)
}

func TestPostgresWriter_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	w := NewPostgresWriter(db, "events_raw", nil)

	require.NoError(t, w.EnsureSchema(context.Background()))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0], `CREATE TABLE IF NOT EXISTS "events_raw"`)
	assert.Contains(t, db.execs[0], "PRIMARY KEY (batch_id, position)")
}

func TestLogWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	w := NewLogWriter(logger)
	require.NoError(t, w.Write(context.Background(), testBatch("limit", "one", "two")))

	out := buf.String()
	assert.Contains(t, out, "flushed batch")
	assert.Contains(t, out, "channel=limit")
	assert.Contains(t, out, "count=2")
	assert.Equal(t, 2, strings.Count(out, "msg=message"))
}

type funcWriter func(ctx context.Context, batch router.Batch) error

func (f funcWriter) Write(ctx context.Context, batch router.Batch) error { return f(ctx, batch) }

func TestFanout(t *testing.T) {
	var a, b atomic.Int64

	f := NewFanout(
		funcWriter(func(ctx context.Context, batch router.Batch) error {
			a.Add(int64(len(batch.Messages)))
			return nil
		}),
		funcWriter(func(ctx context.Context, batch router.Batch) error {
			return errors.New("sink down")
		}),
	)
	f.Add(funcWriter(func(ctx context.Context, batch router.Batch) error {
		b.Add(int64(len(batch.Messages)))
		return nil
	}))

	err := f.Write(context.Background(), testBatch("tweets", "x", "y"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writer 1: sink down")

	// The failure does not stop the others.
	assert.Equal(t, int64(2), a.Load())
	assert.Equal(t, int64(2), b.Load())
	assert.Equal(t, 3, f.Len())
}

func TestFanout_Empty(t *testing.T) {
	assert.NoError(t, NewFanout().Write(context.Background(), testBatch("tweets", "x")))
}

func dialHub(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	all := dialHub(t, server, "")
	limits := dialHub(t, server, "?channel=limit")

	require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Write(context.Background(), testBatch("tweets", "hello")))
	require.NoError(t, hub.Write(context.Background(), testBatch("limit", "l")))

	all.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got router.Batch
	_, data, err := all.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "tweets", got.Channel)
	assert.Equal(t, "hello", got.Messages[0]["text"])

	// Filtered subscriber only sees its channel.
	limits.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = limits.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "limit", got.Channel)

	assert.Equal(t, int64(3), hub.Stats().Sent)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server, "")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Subscribers())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "error = %v", err)

	assert.ErrorIs(t, hub.Write(context.Background(), testBatch("tweets", "x")), ErrHubClosed)
}

func TestHub_SubscriberDisconnect(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dialHub(t, server, "")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
