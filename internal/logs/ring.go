// Package logs keeps a bounded in-memory ring of recent log records and
// answers the get_logs operation with container log lines.
package logs

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultRingCapacity is the number of records the ring keeps.
const DefaultRingCapacity = 1000

// Record is one captured log record.
type Record struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// Ring is a fixed-capacity buffer of the most recent log records. Safe for
// concurrent use.
type Ring struct {
	mu   sync.Mutex
	buf  []Record
	next int
	full bool
}

// NewRing creates a ring. A capacity of zero or less selects the default.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{buf: make([]Record, capacity)}
}

// Add appends a record, evicting the oldest when the ring is full.
func (r *Ring) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = rec
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Recent returns up to limit records, oldest first. A limit of zero or less
// returns everything in the ring.
func (r *Ring) Recent(limit int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Record
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	out = append(out, r.buf[:r.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of records currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
