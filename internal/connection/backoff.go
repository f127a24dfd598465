package connection

import (
	"sync"
	"time"
)

// Backoff tracks the delay before the next reconnect attempt.
//
// Next returns the current delay and doubles it; Reset restores the floor.
// After k consecutive failures the k-th delay is Floor * 2^(k-1).
type Backoff struct {
	mu      sync.Mutex
	cfg     BackoffConfig
	current time.Duration
}

// NewBackoff creates a Backoff starting at the configured floor.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Floor <= 0 {
		cfg.Floor = DefaultBackoffConfig().Floor
	}
	if cfg.Max > 0 && cfg.Max < cfg.Floor {
		cfg.Max = cfg.Floor
	}
	return &Backoff{
		cfg:     cfg,
		current: cfg.Floor,
	}
}

// Next returns the delay to use now and doubles it for next time.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current

	next := b.current * 2
	if next < b.current {
		// Overflow; stay where we are.
		next = b.current
	}
	if b.cfg.Max > 0 && next > b.cfg.Max {
		next = b.cfg.Max
	}
	b.current = next

	return delay
}

// Peek returns the delay Next would return, without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset restores the delay to the floor.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = b.cfg.Floor
	b.mu.Unlock()
}
