package reconcile

import "slices"

// Timestamped is satisfied by every event type
type Timestamped interface {
	EventTime() int64
}

// History accumulates events per label in arrival order, least recent first.
// Events are never re-sorted; a late arrival is stored where it lands.
type History[E Timestamped] struct {
	byLabel  map[string][]E
	order    []string
	arrivals []E
}

// NewHistory creates an empty history
func NewHistory[E Timestamped]() *History[E] {
	return &History[E]{byLabel: make(map[string][]E)}
}

// Append records ev for label. When the most recent event for label carries
// the same timestamp the append is treated as a redelivery and dropped;
// Append then returns false. This is a heuristic: distinct events sharing a
// timestamp are coalesced too.
func (h *History[E]) Append(label string, ev E) bool {
	prior, seen := h.byLabel[label]
	if n := len(prior); n > 0 && prior[n-1].EventTime() == ev.EventTime() {
		return false
	}
	if !seen {
		h.order = append(h.order, label)
	}
	h.byLabel[label] = append(prior, ev)
	h.arrivals = append(h.arrivals, ev)
	return true
}

// Get returns a copy of the history of label
func (h *History[E]) Get(label string) []E {
	return slices.Clone(h.byLabel[label])
}

// Latest returns the most recently appended event of label
func (h *History[E]) Latest(label string) (E, bool) {
	evs := h.byLabel[label]
	if len(evs) == 0 {
		var zero E
		return zero, false
	}
	return evs[len(evs)-1], true
}

// Count returns the number of events recorded for label
func (h *History[E]) Count(label string) int {
	return len(h.byLabel[label])
}

// Labels returns every label with at least one event, in first-seen order
func (h *History[E]) Labels() []string {
	return slices.Clone(h.order)
}

// Arrivals returns every accepted event across labels in arrival order
func (h *History[E]) Arrivals() []E {
	return slices.Clone(h.arrivals)
}

// Total returns the number of accepted events across labels
func (h *History[E]) Total() int {
	return len(h.arrivals)
}
