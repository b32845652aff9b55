// Agent decision dispatch — per-agent LLM calls with retry, backoff,
// and fallback, fanned out under a bounded worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polisim/internal/agents"
	"polisim/internal/events"
	"polisim/internal/llm"
	"polisim/internal/memory"
)

// EnvironmentContext is the shared, read-only context every agent sees
// for one tick: the tick number and the events due at it.
type EnvironmentContext struct {
	Tick   uint64
	Events []events.Event
}

// Dispatcher turns one agent plus environment context into a proposed
// delta. It never mutates agent state and never fails: exhausted
// retries produce a zero-adjustment fallback delta, so a tick always
// reaches the commit barrier.
type Dispatcher struct {
	// LLM is the decision collaborator. Nil disables LLM decisions and
	// routes every agent to fallback.
	LLM llm.Completer
	// Memory optionally augments prompts with relevant excerpts.
	Memory memory.Fetcher
}

const memoryExcerpts = 5

// Decide produces the delta for a single agent. Transport failures,
// rate limiting, and malformed responses are retried with exponential
// backoff; when retries are exhausted (or the context is done) the
// agent's state is carried forward unchanged via fallback.
func (d *Dispatcher) Decide(ctx context.Context, a *agents.Agent, env EnvironmentContext, cfg Config) agents.Delta {
	if d.LLM == nil {
		return agents.FallbackDelta(a.ID)
	}

	dc := &llm.DecisionContext{
		Tick:         env.Tick,
		Agent:        a,
		BeliefDim:    cfg.BeliefDim,
		ActiveEvents: env.Events,
	}
	if d.Memory != nil {
		dc.Memories = d.Memory.FetchRelevant(a.ID, memoryQuery(env), memoryExcerpts)
	}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return agents.FallbackDelta(a.ID)
			case <-time.After(backoffDelay(cfg, attempt)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		dec, err := llm.GenerateDecision(callCtx, d.LLM, dc)
		cancel()

		if err == nil {
			return agents.Delta{
				AgentID:     a.ID,
				BeliefShift: dec.BeliefShift,
				WealthShift: dec.WealthShift,
				Action:      dec.Action,
				Dialogue:    dec.Dialogue,
				Provenance:  agents.ProvenanceLLM,
				Valid:       true,
			}
		}

		if !retryable(err) || ctx.Err() != nil {
			slog.Debug("decision unrecoverable, falling back",
				"agent", a.ID, "attempt", attempt, "error", err)
			return agents.FallbackDelta(a.ID)
		}
		slog.Debug("decision attempt failed",
			"agent", a.ID, "attempt", attempt, "error", err)
	}

	return agents.FallbackDelta(a.ID)
}

// DispatchAll fans Decide out across the snapshot under the configured
// concurrency bound. It returns exactly one delta per agent, in
// snapshot order, and does not return until every agent is resolved:
// agents still unresolved when the tick timeout expires are forced to
// fallback rather than blocking the tick.
func (d *Dispatcher) DispatchAll(ctx context.Context, snap *agents.Snapshot, env EnvironmentContext, cfg Config) []agents.Delta {
	tickCtx, cancel := context.WithTimeout(ctx, cfg.TickTimeout)
	defer cancel()

	sem := make(chan struct{}, cfg.Concurrency)
	deltas := make([]agents.Delta, len(snap.Agents))

	var wg sync.WaitGroup
	for i, a := range snap.Agents {
		wg.Add(1)
		go func(i int, a *agents.Agent) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-tickCtx.Done():
				deltas[i] = agents.FallbackDelta(a.ID)
				return
			}
			deltas[i] = d.Decide(tickCtx, a, env, cfg)
		}(i, a)
	}
	wg.Wait()

	return deltas
}

func retryable(err error) bool {
	return errors.Is(err, llm.ErrTransport) ||
		errors.Is(err, llm.ErrRateLimited) ||
		errors.Is(err, llm.ErrParse)
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := cfg.BackoffBase << (attempt - 1)
	if delay > cfg.BackoffCap || delay <= 0 {
		delay = cfg.BackoffCap
	}
	return delay
}

func memoryQuery(env EnvironmentContext) string {
	q := fmt.Sprintf("tick %d", env.Tick)
	for _, ev := range env.Events {
		q += " " + ev.Type
		if ev.Description != "" {
			q += " " + ev.Description
		}
	}
	return q
}
