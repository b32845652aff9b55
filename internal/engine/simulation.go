// Package engine drives simulations forward one tick at a time: event
// application, bounded-concurrency decision fan-out, snapshot commit,
// metrics, and persistence.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"polisim/internal/agents"
	"polisim/internal/events"
)

// Status is a simulation's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Config holds the per-simulation tick parameters. Validated when the
// simulation is created, before any tick executes.
type Config struct {
	// Concurrency bounds simultaneous outstanding LLM calls.
	Concurrency int `json:"concurrency" toml:"concurrency"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"max_retries" toml:"max_retries"`
	// BackoffBase is the first retry delay; each retry doubles it,
	// capped at BackoffCap.
	BackoffBase time.Duration `json:"backoff_base" toml:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap" toml:"backoff_cap"`
	// CallTimeout bounds a single LLM call.
	CallTimeout time.Duration `json:"call_timeout" toml:"call_timeout"`
	// TickTimeout bounds the whole dispatch phase; agents still
	// unresolved when it expires are forced to the fallback path.
	TickTimeout time.Duration `json:"tick_timeout" toml:"tick_timeout"`

	// BeliefDim is the fixed belief vector dimension.
	BeliefDim int `json:"belief_dim" toml:"belief_dim"`
	// Belief values are clamped per dimension to [BeliefMin, BeliefMax].
	BeliefMin float64 `json:"belief_min" toml:"belief_min"`
	BeliefMax float64 `json:"belief_max" toml:"belief_max"`
}

// DefaultConfig returns the standard tick parameters.
func DefaultConfig() Config {
	return Config{
		Concurrency: 10,
		MaxRetries:  3,
		BackoffBase: 250 * time.Millisecond,
		BackoffCap:  4 * time.Second,
		CallTimeout: 30 * time.Second,
		TickTimeout: 5 * time.Minute,
		BeliefDim:   5,
		BeliefMin:   -1,
		BeliefMax:   1,
	}
}

// Validate rejects configurations that cannot run a tick.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.BeliefDim <= 0 {
		return fmt.Errorf("belief_dim must be positive, got %d", c.BeliefDim)
	}
	if c.BeliefMin >= c.BeliefMax {
		return fmt.Errorf("belief range [%g, %g] is empty", c.BeliefMin, c.BeliefMax)
	}
	if c.CallTimeout <= 0 || c.TickTimeout <= 0 {
		return fmt.Errorf("call and tick timeouts must be positive")
	}
	return nil
}

// Simulation is one population evolving over ticks. All tick-visible
// state (tick counter, current snapshot, event queue) lives here rather
// than in process-wide globals, so independent simulations can run
// concurrently.
type Simulation struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Config    Config    `json:"config"`
	CreatedAt time.Time `json:"created_at"`

	mu       sync.Mutex // serializes ticks and guards the fields below
	status   Status
	tick     uint64
	snapshot *agents.Snapshot
	queue    *events.Queue
}

// NewSimulation creates a simulation at tick 0 with an empty population.
func NewSimulation(name string, cfg Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	return &Simulation{
		ID:        uuid.New(),
		Name:      name,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
		status:    StatusPending,
		queue:     events.NewQueue(),
	}, nil
}

// RestoreSimulation rebuilds a simulation from persisted state.
func RestoreSimulation(id uuid.UUID, name string, cfg Config, createdAt time.Time,
	status Status, tick uint64, snap *agents.Snapshot, evs []*events.Event) *Simulation {
	return &Simulation{
		ID:        id,
		Name:      name,
		Config:    cfg,
		CreatedAt: createdAt,
		status:    status,
		tick:      tick,
		snapshot:  snap,
		queue:     events.Restore(evs),
	}
}

// CurrentTick returns the number of completed ticks.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Status returns the simulation's lifecycle state.
func (s *Simulation) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus updates the lifecycle state (e.g. marking completed from
// the API layer).
func (s *Simulation) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Snapshot returns a deep copy of the current population snapshot, so
// callers can inspect it without racing a tick's replacement.
func (s *Simulation) Snapshot() *agents.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.Clone()
}

// SetPopulation installs the initial population. Only valid before the
// first tick completes.
func (s *Simulation) SetPopulation(population []*agents.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tick > 0 {
		return fmt.Errorf("population already fixed: simulation is at tick %d", s.tick)
	}
	for _, a := range population {
		if len(a.Beliefs) != s.Config.BeliefDim {
			return fmt.Errorf("agent %s belief dimension %d, simulation requires %d",
				a.ID, len(a.Beliefs), s.Config.BeliefDim)
		}
		if a.Wealth < 0 {
			return fmt.Errorf("agent %s has negative wealth %g", a.ID, a.Wealth)
		}
	}
	s.snapshot = &agents.Snapshot{Tick: 0, Agents: population}
	return nil
}

// InjectEvent schedules an event and returns it as stored, with its
// assigned id. Events scheduled before the current tick are rejected
// synchronously.
func (s *Simulation) InjectEvent(ev events.Event) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.SimulationID = s.ID
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if err := s.queue.Enqueue(ev, s.tick); err != nil {
		return events.Event{}, err
	}
	return ev, nil
}

// RemoveEvent withdraws a scheduled event, undoing InjectEvent when
// its persistence failed.
func (s *Simulation) RemoveEvent(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Remove(id)
}

// Events returns all events in insertion order.
func (s *Simulation) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.All()
}

// Registry indexes live simulations by id. Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	sims map[uuid.UUID]*Simulation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sims: make(map[uuid.UUID]*Simulation)}
}

// Add registers a simulation.
func (r *Registry) Add(s *Simulation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sims[s.ID] = s
}

// Get looks up a simulation by id.
func (r *Registry) Get(id uuid.UUID) (*Simulation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sims[id]
	return s, ok
}

// Remove drops a simulation from the registry.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sims, id)
}

// List returns all registered simulations.
func (r *Registry) List() []*Simulation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Simulation, 0, len(r.sims))
	for _, s := range r.sims {
		out = append(out, s)
	}
	return out
}
