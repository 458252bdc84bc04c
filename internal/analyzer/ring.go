package analyzer

import (
	"sync"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
)

// AlertRing is a fixed-capacity alert buffer. The oldest alert is evicted
// when full. Snapshots are copies ordered newest first.
type AlertRing struct {
	mu       sync.RWMutex
	buf      []contracts.Alert
	capacity int
	next     int
	full     bool
}

// NewAlertRing creates a ring holding at most capacity alerts.
func NewAlertRing(capacity int) *AlertRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &AlertRing{buf: make([]contracts.Alert, capacity), capacity: capacity}
}

// Append stores one alert, evicting the oldest when full.
func (r *AlertRing) Append(a contracts.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = a
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Amend appends suffix to the description of the alert with the given id,
// if it is still in the ring. Used by probe follow-ups.
func (r *AlertRing) Amend(id, suffix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.buf {
		if r.buf[i].ID == id {
			r.buf[i].Description += suffix
			return true
		}
	}
	return false
}

// Len returns the number of stored alerts.
func (r *AlertRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return r.capacity
	}
	return r.next
}

// Snapshot returns a copy of the stored alerts, newest first.
func (r *AlertRing) Snapshot() []contracts.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.next
	size := n
	if r.full {
		size = r.capacity
	}
	out := make([]contracts.Alert, 0, size)
	for i := 1; i <= size; i++ {
		idx := (n - i + r.capacity) % r.capacity
		out = append(out, r.buf[idx])
	}
	return out
}
