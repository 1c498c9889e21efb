// Package progress relays asset download samples to a single consumer,
// keeping only the most recent one.
package progress

import (
	"math"
	"sync"
)

// Sample is one (key, current, total) report from the removal library.
type Sample struct {
	Key     string `json:"key"`
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
}

// Percent is round(current/total*100) clamped to [0,100]. Unknown totals
// report 0.
func (s Sample) Percent() int {
	if s.Total <= 0 || s.Current <= 0 {
		return 0
	}
	p := math.Round(float64(s.Current) / float64(s.Total) * 100)
	if p > 100 {
		return 100
	}
	return int(p)
}

// Update is delivered on the relay stream. A nil Sample means the display
// was cleared.
type Update struct {
	Sample *Sample
}

// Relay overwrites its sample on every publish. The update stream holds at
// most one pending update; a newer update replaces an unread one.
type Relay struct {
	mu      sync.Mutex
	latest  *Sample
	updates chan Update
}

func NewRelay() *Relay {
	return &Relay{
		updates: make(chan Update, 1),
	}
}

// Publish records s as the displayed sample.
func (r *Relay) Publish(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = &s
	r.emit(Update{Sample: &s})
}

// Report adapts the relay to the removal progress callback signature.
func (r *Relay) Report(key string, current, total int64) {
	r.Publish(Sample{Key: key, Current: current, Total: total})
}

// Clear removes the displayed sample.
func (r *Relay) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return
	}
	r.latest = nil
	r.emit(Update{})
}

// Latest returns the displayed sample, if any.
func (r *Relay) Latest() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Sample{}, false
	}
	return *r.latest, true
}

// Updates is the stream for the single subscriber.
func (r *Relay) Updates() <-chan Update {
	return r.updates
}

// emit must be called with r.mu held.
func (r *Relay) emit(u Update) {
	select {
	case r.updates <- u:
		return
	default:
	}
	// drop the stale pending update
	select {
	case <-r.updates:
	default:
	}
	select {
	case r.updates <- u:
	default:
	}
}
