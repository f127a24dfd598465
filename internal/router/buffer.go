package router

import (
	"sort"
	"sync"
)

// ChannelBuffer holds pending items per named channel.
//
// Every channel has its own lock, so appends to "tweets" never wait on a
// flush of "limit". Channels are created lazily on first use; creation is
// guarded by a single registry lock. Channels are never removed, only drained.
type ChannelBuffer[T any] struct {
	mu       sync.Mutex // guards channels map (lock creation only)
	channels map[string]*channelState[T]
}

// channelState is one channel's pending list and its lock.
type channelState[T any] struct {
	mu      sync.Mutex
	pending []T

	// Stats
	appended int64
	flushed  int64
}

// NewChannelBuffer creates an empty buffer. Any names given are created
// up front so they show up in Names and Stats before the first append.
func NewChannelBuffer[T any](names ...string) *ChannelBuffer[T] {
	b := &ChannelBuffer[T]{
		channels: make(map[string]*channelState[T], len(names)),
	}
	for _, name := range names {
		b.channels[name] = &channelState[T]{}
	}
	return b
}

// channel returns the state for name, creating it if needed.
func (b *ChannelBuffer[T]) channel(name string) *channelState[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[name]
	if !ok {
		ch = &channelState[T]{}
		b.channels[name] = ch
	}
	return ch
}

// Append adds an item to the end of the named channel.
func (b *ChannelBuffer[T]) Append(name string, item T) {
	ch := b.channel(name)

	ch.mu.Lock()
	ch.pending = append(ch.pending, item)
	ch.appended++
	ch.mu.Unlock()
}

// Swap replaces the channel's pending list with an empty one and returns
// the old list in insertion order. Returns nil when nothing was pending.
func (b *ChannelBuffer[T]) Swap(name string) []T {
	ch := b.channel(name)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if len(ch.pending) == 0 {
		return nil
	}

	// Take ownership of current list
	items := ch.pending
	ch.pending = nil
	ch.flushed += int64(len(items))

	return items
}

// Names returns a sorted snapshot of all known channel names.
func (b *ChannelBuffer[T]) Names() []string {
	b.mu.Lock()
	names := make([]string, 0, len(b.channels))
	for name := range b.channels {
		names = append(names, name)
	}
	b.mu.Unlock()

	sort.Strings(names)
	return names
}

// Len returns the number of pending items in the named channel.
func (b *ChannelBuffer[T]) Len(name string) int {
	ch := b.channel(name)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.pending)
}

// Stats returns per-channel statistics.
func (b *ChannelBuffer[T]) Stats() map[string]ChannelStats {
	stats := make(map[string]ChannelStats)
	for _, name := range b.Names() {
		ch := b.channel(name)

		ch.mu.Lock()
		stats[name] = ChannelStats{
			Pending:  len(ch.pending),
			Appended: ch.appended,
			Flushed:  ch.flushed,
		}
		ch.mu.Unlock()
	}
	return stats
}
