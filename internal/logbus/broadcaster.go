// Package logbus implements a bounded in-memory log feed with fan-out to
// live subscribers. It is not durable; the ring exists so late subscribers
// and the status endpoint can replay recent lines.
package logbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/scanforge/bookscan/internal/metrics"
)

// Level classifies a log line for the control panel.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelSuccess  Level = "SUCCESS"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Line is one entry in the scan log feed.
type Line struct {
	Time    time.Time `json:"timestamp"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

const (
	// ringSize bounds the replayable history.
	ringSize = 500
	// subBuffer is the per-subscriber headroom on top of a full replay.
	subBuffer = 64
)

// Broadcaster keeps the last ringSize lines and fans new lines out to every
// open subscriber. Publish never blocks on a slow subscriber; lines that do
// not fit in a subscriber's queue are dropped for that subscriber only.
type Broadcaster struct {
	mu   sync.Mutex
	ring []Line
	subs map[*Subscription]struct{}
}

// New creates an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		ring: make([]Line, 0, ringSize),
		subs: make(map[*Subscription]struct{}),
	}
}

// Publish appends a line to the ring and offers it to every subscriber.
func (b *Broadcaster) Publish(level Level, message string) {
	line := Line{Time: time.Now(), Level: level, Message: message}

	b.mu.Lock()
	if len(b.ring) == ringSize {
		copy(b.ring, b.ring[1:])
		b.ring = b.ring[:ringSize-1]
	}
	b.ring = append(b.ring, line)
	for sub := range b.subs {
		select {
		case sub.ch <- line:
		default:
			metrics.LogDropTotal.Inc()
		}
	}
	b.mu.Unlock()
}

// Publishf is Publish with a format string.
func (b *Broadcaster) Publishf(level Level, format string, args ...any) {
	b.Publish(level, fmt.Sprintf(format, args...))
}

// Recent returns up to n of the most recent lines, oldest first.
func (b *Broadcaster) Recent(n int) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.ring) {
		n = len(b.ring)
	}
	out := make([]Line, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}

// Subscribe registers a new live subscriber. The current backlog is replayed
// into the subscription's channel before any live line is delivered, so a
// late subscriber sees history followed by new lines in order. The caller
// must Close the subscription when done.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		b:  b,
		ch: make(chan Line, ringSize+subBuffer),
	}
	for _, line := range b.ring {
		sub.ch <- line
	}
	b.subs[sub] = struct{}{}
	metrics.LogSubscribers.Inc()
	return sub
}

// Subscription is one live feed of log lines.
type Subscription struct {
	b    *Broadcaster
	ch   chan Line
	once sync.Once
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan Line {
	return s.ch
}

// Close detaches the subscription from the broadcaster and closes its
// channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()
		metrics.LogSubscribers.Dec()
		close(s.ch)
	})
}
