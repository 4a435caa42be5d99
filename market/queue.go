package market

import (
	"sync"
	"time"

	"github.com/calvincs/ODL-Live/models"
)

// VenueQueue is the time-bounded FIFO of normalized market events for a
// single venue. The venue's connector is the only writer; the correlation
// engine reads concurrently, so all access goes through the mutex.
type VenueQueue struct {
	mu     sync.RWMutex
	venue  string
	ttl    time.Duration
	events []models.MarketEvent
}

// NewVenueQueue creates an empty queue retaining events for ttl.
func NewVenueQueue(venue string, ttl time.Duration) *VenueQueue {
	return &VenueQueue{
		venue: venue,
		ttl:   ttl,
	}
}

// Venue returns the owning venue's name.
func (q *VenueQueue) Venue() string {
	return q.venue
}

// Push appends events in arrival order.
func (q *VenueQueue) Push(events ...models.MarketEvent) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	q.events = append(q.events, events...)
	q.mu.Unlock()
}

// Len reports the number of retained events.
func (q *VenueQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.events)
}

// Evict drops every event at or past the retention horizon and returns how
// many were removed. Insertion order of the survivors is preserved.
func (q *VenueQueue) Evict(now time.Time) int {
	horizon := now.Unix() - int64(q.ttl/time.Second)

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.events[:0]
	for _, e := range q.events {
		if e.Timestamp > horizon {
			kept = append(kept, e)
		}
	}
	removed := len(q.events) - len(kept)
	q.events = kept
	return removed
}

// EventsBetween returns the events of one side whose timestamps fall within
// [from, to] inclusive, in insertion order.
func (q *VenueQueue) EventsBetween(side models.Side, from, to int64) []models.MarketEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []models.MarketEvent
	for _, e := range q.events {
		if e.Side == side && e.Timestamp >= from && e.Timestamp <= to {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot copies the current contents, oldest first.
func (q *VenueQueue) Snapshot() []models.MarketEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]models.MarketEvent, len(q.events))
	copy(out, q.events)
	return out
}

// ContainsID reports whether any retained event carries the given venue
// event id. Used by polling connectors to de-duplicate fetch overlap.
func (q *VenueQueue) ContainsID(id string) bool {
	if id == "" {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, e := range q.events {
		if e.EventID == id {
			return true
		}
	}
	return false
}

// Closest returns the event whose quantity has the minimum absolute distance
// to target. When several events tie, the last one encountered wins. The
// second return is false when events is empty.
func Closest(events []models.MarketEvent, target float64) (models.MarketEvent, bool) {
	if len(events) == 0 {
		return models.MarketEvent{}, false
	}
	best := events[0]
	bestDist := abs(events[0].Quantity - target)
	for _, e := range events[1:] {
		if d := abs(e.Quantity - target); d <= bestDist {
			bestDist = d
			best = e
		}
	}
	return best, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Registry holds one queue per venue.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*VenueQueue
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*VenueQueue)}
}

// Add registers a queue under its venue name, replacing any previous one.
func (r *Registry) Add(q *VenueQueue) {
	r.mu.Lock()
	r.queues[q.Venue()] = q
	r.mu.Unlock()
}

// Get returns the queue for a venue, or nil when the venue is unknown.
func (r *Registry) Get(venue string) *VenueQueue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queues[venue]
}

// Depths reports the current queue length per venue.
func (r *Registry) Depths() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.queues))
	for name, q := range r.queues {
		out[name] = q.Len()
	}
	return out
}
