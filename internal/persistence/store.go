// Package persistence provides SQLite-backed storage for simulations,
// their populations, injected events, and per-tick metric records.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"polisim/internal/agents"
	"polisim/internal/engine"
	"polisim/internal/events"
)

// ErrNotFound is returned when a requested simulation does not exist.
var ErrNotFound = errors.New("simulation not found")

// Store wraps a SQLite connection.
type Store struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	st := &Store{conn: conn}
	if err := st.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return st, nil
}

// Close closes the database connection.
func (st *Store) Close() error {
	return st.conn.Close()
}

func (st *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS simulations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		current_tick INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		simulation_id TEXT NOT NULL,
		archetype TEXT NOT NULL,
		age INTEGER NOT NULL,
		education_level TEXT NOT NULL,
		location TEXT NOT NULL,
		household_size INTEGER NOT NULL,
		traits_json TEXT NOT NULL,
		beliefs_json TEXT NOT NULL,
		wealth REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		simulation_id TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		tick INTEGER NOT NULL,
		applied INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tick_records (
		simulation_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		gini REAL NOT NULL,
		belief_variance REAL NOT NULL,
		fallback_count INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		PRIMARY KEY (simulation_id, tick)
	);

	CREATE INDEX IF NOT EXISTS idx_agents_simulation ON agents(simulation_id);
	CREATE INDEX IF NOT EXISTS idx_events_simulation ON events(simulation_id, tick);
	`
	_, err := st.conn.Exec(schema)
	return err
}

// SaveSimulation inserts or replaces a simulation row. Called on
// create and whenever status changes outside a tick.
func (st *Store) SaveSimulation(ctx context.Context, sim *engine.Simulation) error {
	cfgJSON, err := json.Marshal(sim.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = st.conn.ExecContext(ctx, `INSERT OR REPLACE INTO simulations
		(id, name, status, current_tick, config_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sim.ID.String(), sim.Name, string(sim.Status()), sim.CurrentTick(),
		string(cfgJSON), sim.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SavePopulation writes a simulation's agents (full replace). Called
// when a population is seeded.
func (st *Store) SavePopulation(ctx context.Context, simulationID uuid.UUID, population []*agents.Agent) error {
	tx, err := st.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := replaceAgents(tx, simulationID, population); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveEvent appends an injected event.
func (st *Store) SaveEvent(ctx context.Context, ev events.Event) error {
	payload := "null"
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}
	_, err := st.conn.ExecContext(ctx, `INSERT INTO events
		(id, simulation_id, type, description, payload_json, tick, applied)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		ev.ID.String(), ev.SimulationID.String(), ev.Type, ev.Description,
		payload, ev.Tick,
	)
	return err
}

// SaveTick commits one completed tick in a single transaction: the
// metric record, the replacement population, the applied-event marks,
// and the simulation's advanced tick counter. If any part fails the
// whole tick rolls back and the simulation's stored state stays at the
// previous tick.
func (st *Store) SaveTick(ctx context.Context, rec engine.TickRecord, snap *agents.Snapshot, appliedEventIDs []uuid.UUID) error {
	tx, err := st.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	simID := rec.SimulationID.String()

	if _, err := tx.ExecContext(ctx, `INSERT INTO tick_records
		(simulation_id, tick, gini, belief_variance, fallback_count, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		simID, rec.Tick, rec.Gini, rec.BeliefVariance, rec.FallbackCount,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert tick record: %w", err)
	}

	if err := replaceAgents(tx, rec.SimulationID, snap.Agents); err != nil {
		return err
	}

	for _, id := range appliedEventIDs {
		if _, err := tx.ExecContext(ctx,
			"UPDATE events SET applied = 1 WHERE id = ?", id.String(),
		); err != nil {
			return fmt.Errorf("mark event applied: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE simulations SET current_tick = ?, status = ? WHERE id = ?",
		snap.Tick, string(engine.StatusRunning), simID,
	); err != nil {
		return fmt.Errorf("update simulation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Debug("tick persisted", "simulation", simID, "tick", rec.Tick)
	return nil
}

func replaceAgents(tx *sqlx.Tx, simulationID uuid.UUID, population []*agents.Agent) error {
	if _, err := tx.Exec("DELETE FROM agents WHERE simulation_id = ?", simulationID.String()); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(id, simulation_id, archetype, age, education_level, location,
		 household_size, traits_json, beliefs_json, wealth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range population {
		traitsJSON, _ := json.Marshal(a.Traits)
		beliefsJSON, _ := json.Marshal(a.Beliefs)

		_, err := stmt.Exec(
			a.ID.String(), simulationID.String(), a.Archetype,
			a.Demographics.Age, a.Demographics.EducationLevel,
			a.Demographics.Location, a.Demographics.HouseholdSize,
			string(traitsJSON), string(beliefsJSON), a.Wealth,
		)
		if err != nil {
			return fmt.Errorf("insert agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// TickHistory returns a simulation's tick records in tick order.
func (st *Store) TickHistory(ctx context.Context, simulationID uuid.UUID) ([]engine.TickRecord, error) {
	rows, err := st.conn.QueryxContext(ctx, `SELECT
		simulation_id, tick, gini, belief_variance, fallback_count, timestamp
		FROM tick_records WHERE simulation_id = ? ORDER BY tick`,
		simulationID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []engine.TickRecord
	for rows.Next() {
		var (
			rec          engine.TickRecord
			simID, stamp string
		)
		if err := rows.Scan(&simID, &rec.Tick, &rec.Gini, &rec.BeliefVariance,
			&rec.FallbackCount, &stamp); err != nil {
			return nil, err
		}
		rec.SimulationID, err = uuid.Parse(simID)
		if err != nil {
			return nil, fmt.Errorf("parse simulation id: %w", err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteSimulation removes a simulation and all its rows. Returns
// ErrNotFound when no simulation row exists.
func (st *Store) DeleteSimulation(ctx context.Context, simulationID uuid.UUID) error {
	tx, err := st.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id := simulationID.String()
	for _, q := range []string{
		"DELETE FROM agents WHERE simulation_id = ?",
		"DELETE FROM events WHERE simulation_id = ?",
		"DELETE FROM tick_records WHERE simulation_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM simulations WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// LoadSimulations restores every stored simulation, including its
// population and unapplied events, for registry rebuild at startup.
func (st *Store) LoadSimulations(ctx context.Context) ([]*engine.Simulation, error) {
	rows, err := st.conn.QueryxContext(ctx,
		"SELECT id, name, status, current_tick, config_json, created_at FROM simulations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type simRow struct {
		id, name, status, cfgJSON, createdAt string
		tick                                 uint64
	}
	var simRows []simRow
	for rows.Next() {
		var r simRow
		if err := rows.Scan(&r.id, &r.name, &r.status, &r.tick, &r.cfgJSON, &r.createdAt); err != nil {
			return nil, err
		}
		simRows = append(simRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sims := make([]*engine.Simulation, 0, len(simRows))
	for _, r := range simRows {
		id, err := uuid.Parse(r.id)
		if err != nil {
			return nil, fmt.Errorf("parse simulation id: %w", err)
		}

		var cfg engine.Config
		if err := json.Unmarshal([]byte(r.cfgJSON), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config for %s: %w", r.id, err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, r.createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", r.id, err)
		}

		population, err := st.loadPopulation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load population for %s: %w", r.id, err)
		}
		evs, err := st.loadEvents(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load events for %s: %w", r.id, err)
		}

		snap := &agents.Snapshot{Tick: r.tick, Agents: population}
		sim := engine.RestoreSimulation(id, r.name, cfg, createdAt,
			engine.Status(r.status), r.tick, snap, evs)
		sims = append(sims, sim)

		slog.Info("simulation restored",
			"simulation", r.id, "name", r.name, "tick", r.tick,
			"agents", len(population), "events", len(evs))
	}
	return sims, nil
}

func (st *Store) loadPopulation(ctx context.Context, simulationID uuid.UUID) ([]*agents.Agent, error) {
	rows, err := st.conn.QueryxContext(ctx, `SELECT
		id, archetype, age, education_level, location, household_size,
		traits_json, beliefs_json, wealth
		FROM agents WHERE simulation_id = ? ORDER BY id`,
		simulationID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var population []*agents.Agent
	for rows.Next() {
		var (
			a                   agents.Agent
			id, traits, beliefs string
		)
		if err := rows.Scan(&id, &a.Archetype, &a.Demographics.Age,
			&a.Demographics.EducationLevel, &a.Demographics.Location,
			&a.Demographics.HouseholdSize, &traits, &beliefs, &a.Wealth); err != nil {
			return nil, err
		}
		a.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse agent id: %w", err)
		}
		a.SimulationID = simulationID
		if err := json.Unmarshal([]byte(traits), &a.Traits); err != nil {
			return nil, fmt.Errorf("unmarshal traits for %s: %w", id, err)
		}
		if err := json.Unmarshal([]byte(beliefs), &a.Beliefs); err != nil {
			return nil, fmt.Errorf("unmarshal beliefs for %s: %w", id, err)
		}
		population = append(population, &a)
	}
	return population, rows.Err()
}

func (st *Store) loadEvents(ctx context.Context, simulationID uuid.UUID) ([]*events.Event, error) {
	rows, err := st.conn.QueryxContext(ctx, `SELECT
		id, type, description, payload_json, tick, applied
		FROM events WHERE simulation_id = ? ORDER BY rowid`,
		simulationID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evs []*events.Event
	for rows.Next() {
		var (
			ev          events.Event
			id, payload string
			applied     int
		)
		if err := rows.Scan(&id, &ev.Type, &ev.Description, &payload, &ev.Tick, &applied); err != nil {
			return nil, err
		}
		ev.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		ev.SimulationID = simulationID
		ev.Payload = json.RawMessage(payload)
		ev.Applied = applied != 0
		evs = append(evs, &ev)
	}
	return evs, rows.Err()
}

// SimulationExists reports whether a simulation row is present.
func (st *Store) SimulationExists(ctx context.Context, simulationID uuid.UUID) (bool, error) {
	var one int
	err := st.conn.GetContext(ctx, &one,
		"SELECT 1 FROM simulations WHERE id = ?", simulationID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
