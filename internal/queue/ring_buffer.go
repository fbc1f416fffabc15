// Package queue provides a thread-safe overwriting ring buffer that holds
// the most recent events for windowed pattern evaluation.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"sentinel-ueba/internal/schema"
)

// EventRing is a fixed-capacity circular buffer over events. When full,
// appending overwrites the oldest entry. The index wraps; traversal via
// Snapshot is always oldest-first.
type EventRing struct {
	buffer []*schema.Event
	size   int
	head   int // next write position
	count  int
	mu     sync.RWMutex

	// Metrics (accessed atomically)
	totalAppended uint64
	totalEvicted  uint64
}

// NewEventRing creates a new EventRing with the specified capacity.
func NewEventRing(size int) *EventRing {
	if size <= 0 {
		size = 1000 // Default capacity
	}
	return &EventRing{
		buffer: make([]*schema.Event, size),
		size:   size,
	}
}

// Append adds an event to the ring, evicting the oldest if at capacity.
func (r *EventRing) Append(event *schema.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == r.size {
		atomic.AddUint64(&r.totalEvicted, 1)
	} else {
		r.count++
	}

	r.buffer[r.head] = event
	r.head = (r.head + 1) % r.size
	atomic.AddUint64(&r.totalAppended, 1)
}

// Snapshot returns the buffered events in oldest-first order.
func (r *EventRing) Snapshot() []*schema.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*schema.Event, 0, r.count)
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		out = append(out, r.buffer[(start+i)%r.size])
	}
	return out
}

// Window returns buffered events with timestamps in [from, to],
// oldest-first. Events are filtered by timestamp, not arrival position.
func (r *EventRing) Window(from, to time.Time) []*schema.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*schema.Event, 0, r.count)
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		event := r.buffer[(start+i)%r.size]
		if event.Timestamp.Before(from) || event.Timestamp.After(to) {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Len returns the current number of buffered events.
func (r *EventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the capacity of the ring.
func (r *EventRing) Cap() int {
	return r.size
}

// Metrics returns ring statistics.
func (r *EventRing) Metrics() RingMetrics {
	return RingMetrics{
		Appended: atomic.LoadUint64(&r.totalAppended),
		Evicted:  atomic.LoadUint64(&r.totalEvicted),
		Depth:    r.Len(),
		Capacity: r.size,
	}
}

// RingMetrics holds statistics about ring operations.
type RingMetrics struct {
	Appended uint64 `json:"appended"`
	Evicted  uint64 `json:"evicted"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
