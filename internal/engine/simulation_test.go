package engine_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polisim/internal/agents"
	"polisim/internal/engine"
	"polisim/internal/events"
)

func TestNewSimulationValidatesConfig(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Concurrency = 0
	_, err := engine.NewSimulation("bad", cfg)
	assert.Error(t, err)

	cfg = engine.DefaultConfig()
	cfg.BeliefMin = 1
	cfg.BeliefMax = -1
	_, err = engine.NewSimulation("bad", cfg)
	assert.Error(t, err)
}

func TestNewSimulationStartsPending(t *testing.T) {
	sim, err := engine.NewSimulation("fresh", engine.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, engine.StatusPending, sim.Status())
	assert.EqualValues(t, 0, sim.CurrentTick())
	assert.Nil(t, sim.Snapshot())
	assert.NotEqual(t, sim.ID.String(), "")
}

func TestSetPopulationValidation(t *testing.T) {
	cfg := fastConfig()
	sim, err := engine.NewSimulation("v", cfg)
	require.NoError(t, err)

	wrongDim := makeAgent()
	wrongDim.Beliefs = []float64{0, 0, 0}
	assert.Error(t, sim.SetPopulation([]*agents.Agent{wrongDim}))

	negative := makeAgent()
	negative.Wealth = -1
	assert.Error(t, sim.SetPopulation([]*agents.Agent{negative}))

	assert.NoError(t, sim.SetPopulation([]*agents.Agent{makeAgent()}))
}

func TestSetPopulationRejectedAfterFirstTick(t *testing.T) {
	sched := newScheduler(nil, &fakeStore{})
	sim := newTestSimulation(t, 2)

	_, err := sched.RunTick(context.Background(), sim)
	require.NoError(t, err)

	err = sim.SetPopulation([]*agents.Agent{makeAgent()})
	assert.Error(t, err)
}

func TestInjectEventAssignsIdentity(t *testing.T) {
	sim := newTestSimulation(t, 1)
	stored, err := sim.InjectEvent(events.Event{Type: "ubi", Tick: 3})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, stored.ID)
	assert.Equal(t, sim.ID, stored.SimulationID)

	// The returned event is the stored one, so the caller can persist
	// it without re-reading the queue.
	evs := sim.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, stored, evs[0])
}

func TestRemoveEventWithdrawsIt(t *testing.T) {
	sim := newTestSimulation(t, 1)
	stored, err := sim.InjectEvent(events.Event{Type: "ubi", Tick: 3})
	require.NoError(t, err)
	kept, err := sim.InjectEvent(events.Event{Type: "shock", Tick: 4})
	require.NoError(t, err)

	sim.RemoveEvent(stored.ID)

	evs := sim.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, kept.ID, evs[0].ID)

	// Unknown ids are a no-op.
	sim.RemoveEvent(stored.ID)
	assert.Len(t, sim.Events(), 1)
}

func TestInjectEventRejectsPastTick(t *testing.T) {
	sched := newScheduler(nil, &fakeStore{})
	sim := newTestSimulation(t, 1)

	_, err := sched.RunTick(context.Background(), sim)
	require.NoError(t, err)
	require.EqualValues(t, 1, sim.CurrentTick())

	_, err = sim.InjectEvent(events.Event{Type: "late", Tick: 0})
	assert.ErrorIs(t, err, events.ErrPastTick)
}

func TestRegistry(t *testing.T) {
	reg := engine.NewRegistry()
	sim, err := engine.NewSimulation("a", engine.DefaultConfig())
	require.NoError(t, err)

	_, ok := reg.Get(sim.ID)
	assert.False(t, ok)

	reg.Add(sim)
	got, ok := reg.Get(sim.ID)
	require.True(t, ok)
	assert.Same(t, sim, got)
	assert.Len(t, reg.List(), 1)

	reg.Remove(sim.ID)
	_, ok = reg.Get(sim.ID)
	assert.False(t, ok)
	assert.Empty(t, reg.List())
}
