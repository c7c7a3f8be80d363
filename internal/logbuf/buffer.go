// Package logbuf keeps the most recent log records in memory so they can be
// served to clients that poll or tail the backend logs.
package logbuf

import (
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 500

// subscriberBuffer bounds each subscriber channel. Slow subscribers miss
// entries rather than block logging.
const subscriberBuffer = 64

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a fixed-capacity ring of log entries. The oldest entry is
// evicted when the buffer is full.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	subs    map[int]chan Entry
	nextSub int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries: make([]Entry, capacity),
		subs:    make(map[int]chan Entry),
	}
}

// Capacity returns the maximum number of retained entries.
func (b *Buffer) Capacity() int { return len(b.entries) }

// Append stores e and fans it out to subscribers.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Snapshot returns the retained entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]Entry, b.next)
		copy(out, b.entries[:b.next])
		return out
	}
	out := make([]Entry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	return append(out, b.entries[:b.next]...)
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Subscribe returns a channel receiving every entry appended after the call
// and a cancel func that closes it.
func (b *Buffer) Subscribe() (<-chan Entry, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Entry, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}
