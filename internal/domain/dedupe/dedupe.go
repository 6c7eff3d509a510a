// Package dedupe tracks submission ids that are already in flight so intake
// does not queue the same content twice.
package dedupe

import (
	"context"
	"sync"

	"github.com/okian/assay/pkg/metrics"
)

// DefaultMaxSize bounds the number of remembered submission ids.
const DefaultMaxSize = 100_000

// Deduper records seen submission ids.
type Deduper interface {
	// SeenAndRecord reports whether id was already recorded and records it
	// when it was not. The check and the insert are atomic.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so the submission can be retried, for example after
	// the queue rejected it.
	Unrecord(ctx context.Context, id string)

	// Size returns the number of remembered ids.
	Size() int64
}

// inMemoryDeduper keeps ids in a ring ordered by insertion. When the ring is
// full the oldest id is forgotten. A non-positive maxSize disables eviction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	slots   map[string]int
	ring    []string
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.slots = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.slots[id]; ok {
		metrics.RecordSubmissionDuplicate()
		return true
	}
	if d.ring == nil {
		d.slots[id] = -1
		return false
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.slots, old)
	}
	d.ring[d.next] = id
	d.slots[id] = d.next
	d.next = (d.next + 1) % len(d.ring)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.slots[id]
	if !ok {
		return
	}
	delete(d.slots, id)
	if slot >= 0 {
		d.ring[slot] = ""
	}
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.slots))
}
