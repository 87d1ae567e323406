package links

import (
	"sync"
	"time"
)

// Diagnostic describes one capture that could not be decoded.
type Diagnostic struct {
	Time    time.Time `json:"time"`
	Format  Format    `json:"format"`
	Capture string    `json:"capture"`
	Reason  string    `json:"reason"`
	Err     error     `json:"-"`
}

// Recorder keeps the most recent diagnostics in a fixed-size ring.
type Recorder struct {
	mu    sync.Mutex
	items []Diagnostic
	next  int
	full  bool
}

const defaultRecorderCapacity = 64

// NewRecorder returns a Recorder holding up to capacity entries.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{items: make([]Diagnostic, capacity)}
}

// Record stores d, evicting the oldest entry when full.
func (r *Recorder) Record(d Diagnostic) {
	r.mu.Lock()
	r.items[r.next] = d
	r.next++
	if r.next == len(r.items) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Len returns the number of stored diagnostics.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.items)
	}
	return r.next
}

// Recent returns stored diagnostics, oldest first.
func (r *Recorder) Recent() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Diagnostic(nil), r.items[:r.next]...)
	}
	out := make([]Diagnostic, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	out = append(out, r.items[:r.next]...)
	return out
}
