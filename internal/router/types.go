package router

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNotObject = errors.New("payload is not a JSON object")
	ErrEmpty     = errors.New("empty payload")
)

// Message is one decoded JSON object from the stream.
type Message map[string]any

// Batch is everything one channel accumulated between two flushes.
type Batch struct {
	ID        uuid.UUID `json:"id"`
	Channel   string    `json:"channel"`
	Messages  []Message `json:"messages"`
	FlushedAt time.Time `json:"flushed_at"`
}

// NewBatch stamps a drained channel with a fresh batch ID.
func NewBatch(channel string, msgs []Message, at time.Time) Batch {
	return Batch{
		ID:        uuid.New(),
		Channel:   channel,
		Messages:  msgs,
		FlushedAt: at,
	}
}

// Classifier assigns decoded messages to output channels.
//
// Implementations are supplied per feed type. Classify may transform the
// message (field projection, derived counters) and returns ok=false to drop it.
type Classifier interface {
	Classify(msg Message) (channel string, out Message, ok bool)

	// Reset clears any state that is only valid for one connection.
	Reset()
}

// ChannelStats holds counters for a single channel.
type ChannelStats struct {
	Pending  int
	Appended int64
	Flushed  int64
}
