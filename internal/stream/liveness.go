package stream

import (
	"sync/atomic"
	"time"
)

// LivenessClock records when the last byte was received.
// It only ever moves forward.
type LivenessClock struct {
	last atomic.Int64 // UnixNano
}

// Touch records a receive at t. Earlier timestamps are ignored.
func (l *LivenessClock) Touch(t time.Time) {
	n := t.UnixNano()
	for {
		cur := l.last.Load()
		if n <= cur {
			return
		}
		if l.last.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Last returns the time of the last receive (zero if none).
func (l *LivenessClock) Last() time.Time {
	n := l.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Since returns how long ago the last receive was, relative to now.
func (l *LivenessClock) Since(now time.Time) time.Duration {
	return now.Sub(l.Last())
}
