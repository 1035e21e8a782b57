package detect

import (
	"sync"

	"github.com/ringlab/go-passage/internal/sensor"
)

// History is a bounded ring of the most recent readings. The consumer
// appends; any detector whose inference may outlast a sample period works on
// a Snapshot copy instead of holding the live buffer, so the producer side
// is never stalled.
type History struct {
	mu   sync.Mutex
	data []sensor.Reading
	pos  int
	full bool
}

// NewHistory creates a history ring with the given capacity
func NewHistory(capacity int) *History {
	return &History{
		data: make([]sensor.Reading, capacity),
	}
}

// Append records one reading
func (h *History) Append(r sensor.Reading) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data[h.pos] = r
	h.pos++
	if h.pos >= len(h.data) {
		h.pos = 0
		h.full = true
	}
}

// Len returns the number of stored readings
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lenLocked()
}

func (h *History) lenLocked() int {
	if h.full {
		return len(h.data)
	}
	return h.pos
}

// Snapshot copies out the stored readings in insertion order
func (h *History) Snapshot() []sensor.Reading {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.lenLocked()
	out := make([]sensor.Reading, n)
	if h.full {
		copy(out, h.data[h.pos:])
		copy(out[len(h.data)-h.pos:], h.data[:h.pos])
	} else {
		copy(out, h.data[:h.pos])
	}
	return out
}

// Reset discards all stored readings
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = 0
	h.full = false
}
