// Package events holds scheduled exogenous events (policy changes,
// shocks) keyed by the tick at which they become due.
package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrPastTick is returned when an event is scheduled before the
// simulation's current tick.
var ErrPastTick = fmt.Errorf("event scheduled in the past")

// Event is an exogenous occurrence injected into a simulation. The
// payload is opaque here; the decision dispatcher interprets it when
// building prompts. Only the Applied flag ever changes after creation,
// and it transitions false→true exactly once.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	SimulationID uuid.UUID       `json:"simulation_id"`
	Type         string          `json:"type"` // e.g. "ubi", "market_shock"
	Description  string          `json:"description,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Tick         uint64          `json:"tick"` // tick at which the event is due
	Applied      bool            `json:"applied"`
}

// Queue holds a simulation's pending and applied events. Safe for
// concurrent use.
type Queue struct {
	mu     sync.Mutex
	events []*Event // insertion order
	byID   map[uuid.UUID]*Event
}

// NewQueue creates an empty event queue.
func NewQueue() *Queue {
	return &Queue{byID: make(map[uuid.UUID]*Event)}
}

// Restore rebuilds a queue from persisted events, preserving order.
func Restore(evs []*Event) *Queue {
	q := NewQueue()
	for _, e := range evs {
		c := *e
		q.events = append(q.events, &c)
		q.byID[c.ID] = &c
	}
	return q
}

// Enqueue adds an event. The event's tick must not precede currentTick.
func (q *Queue) Enqueue(ev Event, currentTick uint64) error {
	if ev.Tick < currentTick {
		return fmt.Errorf("%w: scheduled tick %d, current tick %d", ErrPastTick, ev.Tick, currentTick)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	c := ev
	q.events = append(q.events, &c)
	q.byID[c.ID] = &c
	return nil
}

// DueAt returns copies of the unapplied events due exactly at tick, in
// insertion order. Applied flags are not touched: they advance only via
// MarkApplied, after the tick's persistence is acknowledged.
func (q *Queue) DueAt(tick uint64) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []Event
	for _, e := range q.events {
		if e.Tick == tick && !e.Applied {
			due = append(due, *e)
		}
	}
	return due
}

// Remove drops an event by id. Removing an unknown event is a no-op.
// Used to roll back an enqueue whose persistence failed.
func (q *Queue) Remove(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[id]; !ok {
		return
	}
	delete(q.byID, id)
	for i, e := range q.events {
		if e.ID == id {
			q.events = append(q.events[:i], q.events[i+1:]...)
			break
		}
	}
}

// MarkApplied sets the applied flag on the given events. Marking an
// already-applied or unknown event is a no-op, not an error.
func (q *Queue) MarkApplied(ids []uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		if e, ok := q.byID[id]; ok {
			e.Applied = true
		}
	}
}

// All returns copies of every event in insertion order.
func (q *Queue) All() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.events))
	for i, e := range q.events {
		out[i] = *e
	}
	return out
}
