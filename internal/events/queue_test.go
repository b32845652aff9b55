package events_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polisim/internal/events"
)

func newEvent(tick uint64, typ string) events.Event {
	return events.Event{
		ID:           uuid.New(),
		SimulationID: uuid.New(),
		Type:         typ,
		Tick:         tick,
	}
}

func TestEnqueueRejectsPastTick(t *testing.T) {
	q := events.NewQueue()
	err := q.Enqueue(newEvent(3, "ubi"), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, events.ErrPastTick)
	assert.Empty(t, q.All())
}

func TestEnqueueAcceptsCurrentTick(t *testing.T) {
	q := events.NewQueue()
	require.NoError(t, q.Enqueue(newEvent(5, "ubi"), 5))
	assert.Len(t, q.DueAt(5), 1)
}

func TestDueAtFiltersByTickAndApplied(t *testing.T) {
	q := events.NewQueue()
	early := newEvent(1, "shock")
	late := newEvent(2, "ubi")
	require.NoError(t, q.Enqueue(early, 0))
	require.NoError(t, q.Enqueue(late, 0))

	due := q.DueAt(1)
	require.Len(t, due, 1)
	assert.Equal(t, early.ID, due[0].ID)

	q.MarkApplied([]uuid.UUID{early.ID})
	assert.Empty(t, q.DueAt(1))

	due = q.DueAt(2)
	require.Len(t, due, 1)
	assert.Equal(t, late.ID, due[0].ID)
}

func TestDueAtPreservesInsertionOrder(t *testing.T) {
	q := events.NewQueue()
	first := newEvent(7, "a")
	second := newEvent(7, "b")
	third := newEvent(7, "c")
	for _, ev := range []events.Event{first, second, third} {
		require.NoError(t, q.Enqueue(ev, 0))
	}

	due := q.DueAt(7)
	require.Len(t, due, 3)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID},
		[]uuid.UUID{due[0].ID, due[1].ID, due[2].ID})
}

func TestDueAtDoesNotMutate(t *testing.T) {
	q := events.NewQueue()
	require.NoError(t, q.Enqueue(newEvent(4, "ubi"), 0))

	// Reading the due set twice yields the same events: reading never
	// flips applied flags.
	assert.Len(t, q.DueAt(4), 1)
	assert.Len(t, q.DueAt(4), 1)
}

func TestMarkAppliedIsIdempotent(t *testing.T) {
	q := events.NewQueue()
	ev := newEvent(2, "ubi")
	require.NoError(t, q.Enqueue(ev, 0))

	q.MarkApplied([]uuid.UUID{ev.ID})
	q.MarkApplied([]uuid.UUID{ev.ID})
	q.MarkApplied([]uuid.UUID{uuid.New()}) // unknown id is a no-op

	all := q.All()
	require.Len(t, all, 1)
	assert.True(t, all[0].Applied)
}

func TestRestorePreservesAppliedFlags(t *testing.T) {
	applied := newEvent(1, "shock")
	applied.Applied = true
	pending := newEvent(3, "ubi")

	q := events.Restore([]*events.Event{&applied, &pending})

	assert.Empty(t, q.DueAt(1), "applied events stay applied after restore")
	require.Len(t, q.DueAt(3), 1)

	all := q.All()
	require.Len(t, all, 2)
	assert.True(t, all[0].Applied)
	assert.False(t, all[1].Applied)
}
