// Agent decision codec — builds the per-agent prompt and parses the
// structured response into a proposed state delta.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"polisim/internal/agents"
	"polisim/internal/events"
)

// ErrParse indicates a response that could not be decoded into a valid
// decision: no JSON, wrong belief dimension, or non-finite numbers.
// Not fatal — the dispatcher routes it to retry, then fallback.
var ErrParse = errors.New("llm: malformed decision")

const decisionMaxTokens = 400

// Decision is the structured output expected from the decision prompt.
type Decision struct {
	Action      string    `json:"action"`
	Dialogue    string    `json:"dialogue,omitempty"`
	BeliefShift []float64 `json:"belief_shift"`
	WealthShift float64   `json:"wealth_shift"`
}

// DecisionContext carries everything the prompt needs: the agent's
// profile and state, the tick's environment, and optional memory
// excerpts supplied by the caller.
type DecisionContext struct {
	Tick         uint64
	Agent        *agents.Agent
	BeliefDim    int
	ActiveEvents []events.Event
	Memories     []string
}

// GenerateDecision calls the completer and parses the response.
func GenerateDecision(ctx context.Context, c Completer, dc *DecisionContext) (*Decision, error) {
	system := buildSystemPrompt(dc)
	user := buildUserPrompt(dc)

	text, err := c.Complete(ctx, system, user, decisionMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("agent decision: %w", err)
	}

	return ParseDecision(text, dc.BeliefDim)
}

func buildSystemPrompt(dc *DecisionContext) string {
	a := dc.Agent
	return fmt.Sprintf(
		`You are a %d-year-old %s resident of %s with a household of %d.
Your wealth is %.0f. Your personality traits (0-1): %s.
Your current beliefs (each -1 to 1): %s.

You are an individual in a socio-economic simulation. React to your
circumstances as this person would.

Respond ONLY with a JSON object:
- "action": a short verb phrase for what you do this period
- "dialogue": one sentence of inner monologue
- "belief_shift": array of %d floats, how each belief dimension moves (small values, e.g. -0.1 to 0.1)
- "wealth_shift": float, the net change to your wealth this period`,
		a.Demographics.Age, a.Demographics.EducationLevel, a.Demographics.Location,
		a.Demographics.HouseholdSize, a.Wealth,
		formatTraits(a.Traits), formatVector(a.Beliefs), dc.BeliefDim,
	)
}

func formatTraits(traits []float64) string {
	parts := make([]string, len(traits))
	for i, v := range traits {
		parts[i] = fmt.Sprintf("%s %.2f", agents.TraitName(i), v)
	}
	return strings.Join(parts, ", ")
}

func buildUserPrompt(dc *DecisionContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "It is tick %d.\n\n", dc.Tick)

	if len(dc.ActiveEvents) > 0 {
		b.WriteString("Happening now:\n")
		for _, ev := range dc.ActiveEvents {
			desc := ev.Description
			if desc == "" {
				desc = ev.Type
			}
			fmt.Fprintf(&b, "- [%s] %s", ev.Type, desc)
			if len(ev.Payload) > 0 {
				fmt.Fprintf(&b, " (details: %s)", string(ev.Payload))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(dc.Memories) > 0 {
		b.WriteString("You remember:\n")
		for _, m := range dc.Memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		b.WriteString("\n")
	}

	b.WriteString("What do you do? Respond with the JSON object only.")
	return b.String()
}

// ParseDecision extracts the JSON object from the response text and
// validates it. The LLM may wrap the object in explanation or fences.
func ParseDecision(text string, beliefDim int) (*Decision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrParse)
	}

	var d Decision
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if d.BeliefShift != nil && len(d.BeliefShift) != beliefDim {
		return nil, fmt.Errorf("%w: belief_shift has %d dimensions, want %d",
			ErrParse, len(d.BeliefShift), beliefDim)
	}
	for i, v := range d.BeliefShift {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: belief_shift[%d] is not finite", ErrParse, i)
		}
	}
	if math.IsNaN(d.WealthShift) || math.IsInf(d.WealthShift, 0) {
		return nil, fmt.Errorf("%w: wealth_shift is not finite", ErrParse)
	}

	return &d, nil
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.2f", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
