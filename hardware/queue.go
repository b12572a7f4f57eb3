package hardware

import (
	"github.com/lefinal/vr-arbiter/vr"
)

// DefaultMaxPendingEvents is the default limit of state events held by an
// EventQueue between polls.
const DefaultMaxPendingEvents = 256

// EventQueue holds display events until the next poll. Backends use it so
// that pending events stay bounded while nobody polls:
//
//   - A state event replaces a pending one with the same type for the same
//     display.
//   - A vr.EventDisconnect for a display with a pending vr.EventConnect drops
//     both together with all pending events for that display.
//   - If more than the limit of state events is pending, the oldest one is
//     dropped. vr.EventConnect and vr.EventDisconnect are never dropped this way.
//
// EventQueue is not safe for concurrent use.
type EventQueue struct {
	// limit is the maximum number of pending state events.
	limit  int
	events []vr.DisplayEvent
	// stateEvents is the number of events in events that are neither
	// vr.EventConnect nor vr.EventDisconnect.
	stateEvents int
}

// NewEventQueue creates an EventQueue holding at most the given number of state
// events. A limit less than one uses DefaultMaxPendingEvents.
func NewEventQueue(limit int) *EventQueue {
	if limit < 1 {
		limit = DefaultMaxPendingEvents
	}
	return &EventQueue{limit: limit}
}

func isLifecycleEvent(eventType vr.EventType) bool {
	return eventType == vr.EventConnect || eventType == vr.EventDisconnect
}

// Push adds the given event.
func (q *EventQueue) Push(e vr.DisplayEvent) {
	id := e.Display.DisplayID
	switch e.Type {
	case vr.EventConnect:
		q.events = append(q.events, e)
	case vr.EventDisconnect:
		if q.removeFor(id, func(pending vr.DisplayEvent) bool { return pending.Type == vr.EventConnect }) {
			// Never reported as connected, so forget everything.
			q.removeFor(id, func(_ vr.DisplayEvent) bool { return true })
			return
		}
		q.events = append(q.events, e)
	default:
		q.removeFor(id, func(pending vr.DisplayEvent) bool { return pending.Type == e.Type })
		q.events = append(q.events, e)
		q.stateEvents++
		if q.stateEvents > q.limit {
			q.dropOldestState()
		}
	}
}

// removeFor removes all pending events for the display with the given id that
// match. It reports whether any event was removed.
func (q *EventQueue) removeFor(id vr.DisplayID, match func(pending vr.DisplayEvent) bool) bool {
	removed := false
	kept := q.events[:0]
	for _, pending := range q.events {
		if pending.Display.DisplayID == id && match(pending) {
			removed = true
			if !isLifecycleEvent(pending.Type) {
				q.stateEvents--
			}
			continue
		}
		kept = append(kept, pending)
	}
	clear(q.events[len(kept):])
	q.events = kept
	return removed
}

func (q *EventQueue) dropOldestState() {
	for i, pending := range q.events {
		if isLifecycleEvent(pending.Type) {
			continue
		}
		q.events = append(q.events[:i], q.events[i+1:]...)
		q.stateEvents--
		return
	}
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	return len(q.events)
}

// Drain returns and clears all pending events. The result is never nil.
func (q *EventQueue) Drain() []vr.DisplayEvent {
	events := q.events
	q.events = nil
	q.stateEvents = 0
	if events == nil {
		return []vr.DisplayEvent{}
	}
	return events
}
