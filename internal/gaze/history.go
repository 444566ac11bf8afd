package gaze

import "github.com/e7canasta/orion-gaze/internal/types"

// History is a fixed-capacity FIFO window of accepted samples.
//
// Storage is allocated once at construction; head indexes the oldest sample
// and size never exceeds len(buf). Push at capacity overwrites the oldest.
type History struct {
	buf  []types.Sample
	head int
	size int
}

// NewHistory creates an empty window holding at most capacity samples.
// capacity must be > 0 (enforced by Config.Validate).
func NewHistory(capacity int) *History {
	return &History{buf: make([]types.Sample, capacity)}
}

// Push appends s, evicting the oldest sample when full. O(1).
func (h *History) Push(s types.Sample) {
	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = s
		h.size++
		return
	}
	h.buf[h.head] = s
	h.head = (h.head + 1) % len(h.buf)
}

// Last returns the most recently pushed sample, or false when empty.
func (h *History) Last() (types.Sample, bool) {
	if h.size == 0 {
		return types.Sample{}, false
	}
	return h.buf[(h.head+h.size-1)%len(h.buf)], true
}

// Len returns the number of retained samples.
func (h *History) Len() int { return h.size }

// Cap returns the configured capacity.
func (h *History) Cap() int { return len(h.buf) }

// Samples returns the retained samples, oldest first, as a copy.
func (h *History) Samples() []types.Sample {
	out := make([]types.Sample, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}
