// Snapshot commit — merges per-agent deltas into the next population
// snapshot, enforcing invariants. All-or-nothing: the input snapshot is
// never touched, and a partially-built snapshot is never returned.
package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"polisim/internal/agents"
)

var (
	// ErrMissingDelta means an agent had no delta at commit time. This
	// is a programming error upstream (the barrier guarantees one delta
	// per agent) and aborts the tick.
	ErrMissingDelta = errors.New("missing delta for agent")
	// ErrInvariant means corrupted state reached the committer: a
	// negative economic attribute, a belief dimension mismatch, or an
	// invalid delta.
	ErrInvariant = errors.New("population invariant violated")
)

// Commit applies exactly one delta per agent and returns the snapshot
// for the next tick. Belief values are clamped to the configured range
// (out-of-range proposals are clamped, not rejected); wealth is floored
// at zero.
func Commit(snap *agents.Snapshot, deltas []agents.Delta, cfg Config) (*agents.Snapshot, error) {
	byID := make(map[uuid.UUID]agents.Delta, len(deltas))
	for _, d := range deltas {
		if _, dup := byID[d.AgentID]; dup {
			return nil, fmt.Errorf("%w: duplicate delta for agent %s", ErrInvariant, d.AgentID)
		}
		byID[d.AgentID] = d
	}

	next := make([]*agents.Agent, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		d, ok := byID[a.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingDelta, a.ID)
		}
		if !d.Valid {
			return nil, fmt.Errorf("%w: invalid delta for agent %s", ErrInvariant, a.ID)
		}
		if a.Wealth < 0 {
			return nil, fmt.Errorf("%w: agent %s has negative wealth %g", ErrInvariant, a.ID, a.Wealth)
		}
		if d.BeliefShift != nil && len(d.BeliefShift) != len(a.Beliefs) {
			return nil, fmt.Errorf("%w: agent %s belief shift dimension %d, want %d",
				ErrInvariant, a.ID, len(d.BeliefShift), len(a.Beliefs))
		}

		c := a.Clone()
		for i, shift := range d.BeliefShift {
			v := c.Beliefs[i] + shift
			if v < cfg.BeliefMin {
				v = cfg.BeliefMin
			}
			if v > cfg.BeliefMax {
				v = cfg.BeliefMax
			}
			c.Beliefs[i] = v
		}
		c.Wealth += d.WealthShift
		if c.Wealth < 0 {
			c.Wealth = 0
		}
		next = append(next, c)
	}

	return &agents.Snapshot{Tick: snap.Tick + 1, Agents: next}, nil
}
