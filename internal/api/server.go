// Package api provides the HTTP API for managing simulations.
// GET endpoints are public (read-only observation).
// POST and DELETE endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"polisim/internal/agents"
	"polisim/internal/engine"
	"polisim/internal/events"
	"polisim/internal/persistence"
)

// Server serves the simulation control plane over HTTP.
type Server struct {
	Registry  *engine.Registry
	Scheduler *engine.Scheduler
	Store     *persistence.Store
	Port      int
	AdminKey  string // Bearer token for mutating endpoints. Empty = mutation disabled.
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	handler := s.routes()

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

func (s *Server) routes() http.Handler {
	// Advancing a tick fans out one LLM call per agent, so the tick
	// endpoint gets its own limiter.
	tickLimiter := NewRateLimiter(60, time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/simulations", s.handleSimulations)
	mux.HandleFunc("/api/v1/simulations/", s.handleSimulationRoutes(tickLimiter))
	return mux
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on mutating
// requests. GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no POLISIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// handleSimulations serves the collection: list (GET) and create (POST).
func (s *Server) handleSimulations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSimulations(w, r)
	case http.MethodPost:
		s.adminOnly(s.handleCreateSimulation)(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSimulationRoutes dispatches /api/v1/simulations/:id[/sub].
func (s *Server) handleSimulationRoutes(tickLimiter *RateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimSuffix(r.URL.Path, "/"), "/")
		// /api/v1/simulations/:id → [ "" api v1 simulations :id (sub) ]
		if len(parts) < 5 {
			http.Error(w, "missing simulation id", http.StatusBadRequest)
			return
		}
		id, err := uuid.Parse(parts[4])
		if err != nil {
			http.Error(w, "invalid simulation id", http.StatusBadRequest)
			return
		}
		sim, ok := s.Registry.Get(id)
		if !ok {
			http.Error(w, "simulation not found", http.StatusNotFound)
			return
		}

		sub := ""
		if len(parts) >= 6 {
			sub = parts[5]
		}

		switch sub {
		case "":
			switch r.Method {
			case http.MethodGet:
				writeJSON(w, simulationSummary(sim))
			case http.MethodDelete:
				s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
					s.handleDeleteSimulation(w, r, sim)
				})(w, r)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
		case "seed":
			s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
				s.handleSeed(w, r, sim)
			})(w, r)
		case "events":
			if r.Method == http.MethodGet {
				writeJSON(w, sim.Events())
				return
			}
			s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
				s.handleInjectEvent(w, r, sim)
			})(w, r)
		case "status":
			s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
				s.handleSetStatus(w, r, sim)
			})(w, r)
		case "tick":
			s.adminOnly(RateLimitMiddleware(tickLimiter, func(w http.ResponseWriter, r *http.Request) {
				s.handleTick(w, r, sim)
			}))(w, r)
		case "ticks":
			s.handleTickHistory(w, r, sim)
		case "agents":
			s.handleAgents(w, r, sim)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}
}

func simulationSummary(sim *engine.Simulation) map[string]any {
	snap := sim.Snapshot()
	population := 0
	if snap != nil {
		population = len(snap.Agents)
	}
	return map[string]any{
		"id":           sim.ID,
		"name":         sim.Name,
		"status":       sim.Status(),
		"current_tick": sim.CurrentTick(),
		"population":   population,
		"created_at":   sim.CreatedAt,
	}
}

func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	sims := s.Registry.List()
	result := make([]map[string]any, 0, len(sims))
	for _, sim := range sims {
		result = append(result, simulationSummary(sim))
	}
	writeJSON(w, result)
}

func (s *Server) handleCreateSimulation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string         `json:"name"`
		Config *engine.Config `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	cfg := engine.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}

	sim, err := engine.NewSimulation(req.Name, cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Store.SaveSimulation(r.Context(), sim); err != nil {
		slog.Error("save simulation failed", "error", err)
		http.Error(w, "persistence failure", http.StatusInternalServerError)
		return
	}
	s.Registry.Add(sim)

	slog.Info("simulation created", "simulation", sim.ID, "name", sim.Name)
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, simulationSummary(sim))
}

func (s *Server) handleDeleteSimulation(w http.ResponseWriter, r *http.Request, sim *engine.Simulation) {
	err := s.Store.DeleteSimulation(r.Context(), sim.ID)
	// A registered simulation missing from the database means an earlier
	// persistence failure; dropping it from the registry is still right.
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		slog.Error("delete simulation failed", "simulation", sim.ID, "error", err)
		http.Error(w, "persistence failure", http.StatusInternalServerError)
		return
	}
	s.Registry.Remove(sim.ID)
	slog.Info("simulation deleted", "simulation", sim.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request, sim *engine.Simulation) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := agents.DefaultSeedConfig()
	cfg.BeliefDim = sim.Config.BeliefDim
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	spawner := agents.NewSpawner(cfg.Seed)
	population, err := spawner.SpawnPopulation(sim.ID, cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := sim.SetPopulation(population); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := s.Store.SavePopulation(r.Context(), sim.ID, population); err != nil {
		slog.Error("save population failed", "simulation", sim.ID, "error", err)
		http.Error(w, "persistence failure", http.StatusInternalServerError)
		return
	}

	slog.Info("population seeded", "simulation", sim.ID, "agents", len(population))
	writeJSON(w, map[string]any{"seeded": len(population)})
}

func (s *Server) handleInjectEvent(w http.ResponseWriter, r *http.Request, sim *engine.Simulation) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Type        string          `json:"type"`
		Description string          `json:"description"`
		Payload     json.RawMessage `json:"payload"`
		Tick        uint64          `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	ev := events.Event{
		Type:        req.Type,
		Description: req.Description,
		Payload:     req.Payload,
		Tick:        req.Tick,
	}
	stored, err := sim.InjectEvent(ev)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Store.SaveEvent(r.Context(), stored); err != nil {
		// Withdraw the event so memory never drifts ahead of the
		// database: an unpersisted event must not enter prompts.
		sim.RemoveEvent(stored.ID)
		slog.Error("save event failed", "simulation", sim.ID, "error", err)
		http.Error(w, "persistence failure", http.StatusInternalServerError)
		return
	}

	slog.Info("event injected",
		"simulation", sim.ID, "event", stored.ID, "type", stored.Type, "tick", stored.Tick)
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, stored)
}

// handleSetStatus marks a simulation completed, closing it to further
// ticks being meaningful while keeping its history queryable.
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request, sim *engine.Simulation) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if engine.Status(req.Status) != engine.StatusCompleted {
		http.Error(w, `status must be "completed"`, http.StatusBadRequest)
		return
	}

	sim.SetStatus(engine.StatusCompleted)
	if err := s.Store.SaveSimulation(r.Context(), sim); err != nil {
		slog.Error("save simulation failed", "simulation", sim.ID, "error", err)
		http.Error(w, "persistence failure", http.StatusInternalServerError)
		return
	}

	slog.Info("simulation completed", "simulation", sim.ID)
	writeJSON(w, simulationSummary(sim))
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request, sim *engine.Simulation) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec, err := s.Scheduler.RunTick(r.Context(), sim)
	if err != nil {
		var tickErr *engine.TickError
		if errors.As(err, &tickErr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			writeJSON(w, map[string]any{
				"error": tickErr.Error(),
				"phase": tickErr.Phase.String(),
				"tick":  tickErr.Tick,
			})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, rec)
}

func (s *Server) handleTickHistory(w http.ResponseWriter, r *http.Request, sim *engine.Simulation) {
	records, err := s.Scheduler.TickHistory(r.Context(), sim.ID)
	if err != nil {
		slog.Error("tick history query failed", "simulation", sim.ID, "error", err)
		http.Error(w, "persistence failure", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []engine.TickRecord{}
	}
	writeJSON(w, records)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request, sim *engine.Simulation) {
	snap := sim.Snapshot()
	if snap == nil {
		writeJSON(w, []any{})
		return
	}

	type agentSummary struct {
		ID        uuid.UUID `json:"id"`
		Archetype string    `json:"archetype"`
		Age       int       `json:"age"`
		Location  string    `json:"location"`
		Beliefs   []float64 `json:"beliefs"`
		Wealth    float64   `json:"wealth"`
	}

	result := make([]agentSummary, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		result = append(result, agentSummary{
			ID:        a.ID,
			Archetype: a.Archetype,
			Age:       a.Demographics.Age,
			Location:  a.Demographics.Location,
			Beliefs:   a.Beliefs,
			Wealth:    a.Wealth,
		})
	}
	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
