package workflow

import "sync"

// DefaultHistoryCapacity is the number of records kept when no capacity is
// configured.
const DefaultHistoryCapacity = 100

// History is a fixed-capacity ring of workflow records. When full, recording
// evicts the oldest entry. There is no update or delete.
type History struct {
	mu    sync.RWMutex
	buf   []Record
	start int // index of the oldest record
	n     int
}

// NewHistory returns an empty history holding up to capacity records.
// capacity <= 0 uses DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]Record, capacity)}
}

// Record appends rec.
func (h *History) Record(rec Record) {
	rec = rec.clone()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = rec
		h.n++
		return
	}
	h.buf[h.start] = rec
	h.start = (h.start + 1) % len(h.buf)
}

// Query returns up to limit records, most recent first. limit <= 0 returns
// everything retained.
func (h *History) Query(limit int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > h.n {
		limit = h.n
	}
	out := make([]Record, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (h.start + h.n - 1 - i) % len(h.buf)
		out = append(out, h.buf[idx].clone())
	}
	return out
}

// Len returns the number of records retained.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Cap returns the capacity.
func (h *History) Cap() int {
	return len(h.buf)
}
