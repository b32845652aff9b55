// Package agents provides the population data model: agent profiles,
// snapshots, and per-tick state deltas.
package agents

import (
	"github.com/google/uuid"
)

// Demographics are fixed at agent creation and never change.
type Demographics struct {
	Age            int    `json:"age"`
	EducationLevel string `json:"education_level,omitempty"` // e.g. "High School", "Bachelor's"
	Location       string `json:"location,omitempty"`        // e.g. "District A"
	HouseholdSize  int    `json:"household_size"`
}

// Trait vector dimensions. The trait vector is immutable after creation.
const (
	TraitConformity = iota
	TraitRiskAversion
	TraitEmpathy
	TraitSocialSusceptibility
	TraitConsumptionPreference

	NumTraits
)

// TraitName returns a human-readable label for a trait dimension.
func TraitName(dim int) string {
	names := []string{
		"conformity", "risk_aversion", "empathy",
		"social_susceptibility", "consumption_preference",
	}
	if dim < 0 || dim >= len(names) {
		return "unknown"
	}
	return names[dim]
}

// Agent is a simulated individual. Demographics and Traits are immutable
// after creation; Beliefs and Wealth change only through committed deltas.
type Agent struct {
	ID           uuid.UUID    `json:"id"`
	SimulationID uuid.UUID    `json:"simulation_id"`
	Archetype    string       `json:"archetype,omitempty"`
	Demographics Demographics `json:"demographics"`

	// Traits is a fixed-dimension numeric vector, each value in [0, 1].
	Traits []float64 `json:"traits"`

	// Beliefs is the ideology vector, each dimension clamped to the
	// simulation's belief range. Its dimension is fixed for the lifetime
	// of the simulation.
	Beliefs []float64 `json:"beliefs"`

	// Wealth is the economic attribute. Invariant: never negative.
	Wealth float64 `json:"wealth"`

	// MemoryRef is an opaque handle into the external long-term-memory
	// store. Not interpreted here.
	MemoryRef string `json:"memory_ref,omitempty"`
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Traits = append([]float64(nil), a.Traits...)
	c.Beliefs = append([]float64(nil), a.Beliefs...)
	return &c
}

// Snapshot is the complete population state at a given tick. A snapshot
// is treated as immutable once built: ticks produce a replacement
// snapshot rather than editing agents in place.
type Snapshot struct {
	Tick   uint64   `json:"tick"`
	Agents []*Agent `json:"agents"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	agents := make([]*Agent, len(s.Agents))
	for i, a := range s.Agents {
		agents[i] = a.Clone()
	}
	return &Snapshot{Tick: s.Tick, Agents: agents}
}

// Wealths collects the economic attribute of every agent.
func (s *Snapshot) Wealths() []float64 {
	vals := make([]float64, len(s.Agents))
	for i, a := range s.Agents {
		vals[i] = a.Wealth
	}
	return vals
}

// BeliefVectors collects the belief vector of every agent.
func (s *Snapshot) BeliefVectors() [][]float64 {
	vecs := make([][]float64, len(s.Agents))
	for i, a := range s.Agents {
		vecs[i] = a.Beliefs
	}
	return vecs
}

// Provenance records how a delta was produced.
type Provenance string

const (
	ProvenanceLLM      Provenance = "llm"
	ProvenanceFallback Provenance = "fallback"
)

// Delta is a proposed per-agent state change for one tick. Deltas are
// ephemeral: produced by the dispatcher, consumed by the committer,
// never persisted on their own.
type Delta struct {
	AgentID     uuid.UUID  `json:"agent_id"`
	BeliefShift []float64  `json:"belief_shift,omitempty"` // nil means no belief change
	WealthShift float64    `json:"wealth_shift"`
	Action      string     `json:"action,omitempty"`
	Dialogue    string     `json:"dialogue,omitempty"`
	Provenance  Provenance `json:"provenance"`
	Valid       bool       `json:"valid"`
}

// FallbackDelta carries an agent's state forward unchanged. Used when
// the LLM-driven decision cannot be obtained.
func FallbackDelta(agentID uuid.UUID) Delta {
	return Delta{
		AgentID:    agentID,
		Action:     "carry_forward",
		Provenance: ProvenanceFallback,
		Valid:      true,
	}
}
