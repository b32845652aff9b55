// Tick orchestration — the per-tick state machine. A tick either
// reaches Completed (snapshot replaced, tick counter advanced, events
// marked applied, record persisted) or Failed, in which case the
// simulation is left exactly at its last completed tick and the same
// tick can be retried.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"polisim/internal/agents"
	"polisim/internal/metrics"
)

// Phase identifies where in the tick state machine an error occurred.
type Phase uint8

const (
	PhasePending Phase = iota
	PhaseEventsApplying
	PhaseDecisionsDispatching
	PhaseCommitting
	PhaseMetricsComputing
	PhasePersisting
	PhaseCompleted
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	names := []string{
		"pending", "events_applying", "decisions_dispatching",
		"committing", "metrics_computing", "persisting",
		"completed", "failed",
	}
	if int(p) < len(names) {
		return names[p]
	}
	return "unknown"
}

// TickError is the single error surface for a failed tick. It carries
// the phase that failed and, where applicable, the offending agent or
// event.
type TickError struct {
	SimulationID uuid.UUID
	Tick         uint64
	Phase        Phase
	Err          error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("tick %d failed in phase %s: %v", e.Tick, e.Phase, e.Err)
}

func (e *TickError) Unwrap() error { return e.Err }

// TickRecord summarizes one committed tick. Append-only, one per
// successful tick, immutable once written.
type TickRecord struct {
	SimulationID   uuid.UUID `json:"simulation_id" db:"simulation_id"`
	Tick           uint64    `json:"tick" db:"tick"`
	Gini           float64   `json:"gini" db:"gini"`
	BeliefVariance float64   `json:"belief_variance" db:"belief_variance"`
	FallbackCount  int       `json:"fallback_count" db:"fallback_count"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

// TickStore is the persistence collaborator. SaveTick must be atomic
// from the scheduler's viewpoint: the record, the replacement snapshot,
// the applied-event marks, and the advanced tick counter land together
// or not at all.
type TickStore interface {
	SaveTick(ctx context.Context, rec TickRecord, snap *agents.Snapshot, appliedEventIDs []uuid.UUID) error
	TickHistory(ctx context.Context, simulationID uuid.UUID) ([]TickRecord, error)
}

// MemoryRecorder receives committed decisions for the memory stream.
// Optional; nil disables recording.
type MemoryRecorder interface {
	Add(agentID uuid.UUID, tick uint64, content string, importance float64)
}

// Scheduler runs ticks. One scheduler serves any number of
// simulations; per-simulation sequencing comes from the simulation's
// own lock.
type Scheduler struct {
	Dispatcher *Dispatcher
	Store      TickStore
	Memory     MemoryRecorder
}

// RunTick advances the simulation by exactly one tick. On success the
// returned record equals the one persisted. On failure the simulation
// is unchanged and the error is a *TickError.
func (sc *Scheduler) RunTick(ctx context.Context, sim *Simulation) (*TickRecord, error) {
	// Ticks are strictly sequential per simulation: tick N+1 cannot
	// begin until tick N reached Completed or Failed.
	sim.mu.Lock()
	defer sim.mu.Unlock()

	tick := sim.tick
	fail := func(phase Phase, err error) (*TickRecord, error) {
		sim.status = StatusFailed
		slog.Warn("tick failed",
			"simulation", sim.ID, "tick", tick, "phase", phase.String(), "error", err)
		return nil, &TickError{SimulationID: sim.ID, Tick: tick, Phase: phase, Err: err}
	}

	if sim.snapshot == nil || len(sim.snapshot.Agents) == 0 {
		return fail(PhasePending, fmt.Errorf("simulation has no population"))
	}

	slog.Info("tick starting",
		"simulation", sim.ID, "tick", tick, "agents", len(sim.snapshot.Agents))

	// Events due this tick become the shared environment context.
	// Applied flags do not advance yet: that happens only after the
	// persistence collaborator acknowledges, so a crash or failure here
	// leaves them untouched and a retried tick sees the same events.
	due := sim.queue.DueAt(tick)
	env := EnvironmentContext{Tick: tick, Events: due}

	// Fan out decisions. Every agent resolves to a delta (LLM or
	// fallback); the call itself is the synchronization barrier.
	deltas := sc.Dispatcher.DispatchAll(ctx, sim.snapshot, env, sim.Config)

	next, err := Commit(sim.snapshot, deltas, sim.Config)
	if err != nil {
		return fail(PhaseCommitting, err)
	}

	gini := metrics.Gini(next.Wealths())
	variance, err := metrics.BeliefVariance(next.BeliefVectors())
	if err != nil {
		return fail(PhaseMetricsComputing, err)
	}

	fallbacks := 0
	for _, d := range deltas {
		if d.Provenance == agents.ProvenanceFallback {
			fallbacks++
		}
	}

	rec := TickRecord{
		SimulationID:   sim.ID,
		Tick:           tick,
		Gini:           gini,
		BeliefVariance: variance,
		FallbackCount:  fallbacks,
		Timestamp:      time.Now().UTC(),
	}

	appliedIDs := make([]uuid.UUID, len(due))
	for i, ev := range due {
		appliedIDs[i] = ev.ID
	}

	if err := sc.Store.SaveTick(ctx, rec, next, appliedIDs); err != nil {
		return fail(PhasePersisting, err)
	}

	// Persistence acknowledged: the tick is committed everywhere at
	// once from the caller's viewpoint.
	sim.queue.MarkApplied(appliedIDs)
	sim.snapshot = next
	sim.tick = tick + 1
	sim.status = StatusRunning

	if sc.Memory != nil {
		sc.recordDecisions(tick, deltas)
	}

	slog.Info("tick completed",
		"simulation", sim.ID,
		"tick", tick,
		"gini", fmt.Sprintf("%.4f", gini),
		"belief_variance", fmt.Sprintf("%.4f", variance),
		"fallbacks", fallbacks,
		"events_applied", len(appliedIDs),
	)

	return &rec, nil
}

// TickHistory returns the simulation's tick records in tick order.
func (sc *Scheduler) TickHistory(ctx context.Context, simulationID uuid.UUID) ([]TickRecord, error) {
	return sc.Store.TickHistory(ctx, simulationID)
}

func (sc *Scheduler) recordDecisions(tick uint64, deltas []agents.Delta) {
	for _, d := range deltas {
		if d.Provenance != agents.ProvenanceLLM {
			continue
		}
		content := fmt.Sprintf("Tick %d: I chose to %s", tick, d.Action)
		if d.Dialogue != "" {
			content += fmt.Sprintf(", saying %q", d.Dialogue)
		}
		sc.Memory.Add(d.AgentID, tick, content, 0.5)
	}
}
