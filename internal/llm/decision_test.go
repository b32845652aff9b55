package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polisim/internal/agents"
	"polisim/internal/llm"
)

func TestParseDecisionPlainJSON(t *testing.T) {
	d, err := llm.ParseDecision(
		`{"action":"cut spending","dialogue":"Times are tight.","belief_shift":[0.05,-0.02,0,0,0.01],"wealth_shift":-12.5}`,
		5,
	)
	require.NoError(t, err)
	assert.Equal(t, "cut spending", d.Action)
	assert.Equal(t, "Times are tight.", d.Dialogue)
	assert.Equal(t, []float64{0.05, -0.02, 0, 0, 0.01}, d.BeliefShift)
	assert.Equal(t, -12.5, d.WealthShift)
}

func TestParseDecisionWrappedInProse(t *testing.T) {
	text := "Here is my decision:\n```json\n" +
		`{"action":"save","belief_shift":[0,0],"wealth_shift":3}` +
		"\n```\nLet me know if you need anything else."
	d, err := llm.ParseDecision(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "save", d.Action)
}

func TestParseDecisionNilBeliefShift(t *testing.T) {
	d, err := llm.ParseDecision(`{"action":"wait","wealth_shift":0}`, 5)
	require.NoError(t, err)
	assert.Nil(t, d.BeliefShift)
}

func TestParseDecisionNoJSON(t *testing.T) {
	_, err := llm.ParseDecision("I refuse to answer in the requested format.", 5)
	assert.ErrorIs(t, err, llm.ErrParse)
}

func TestParseDecisionWrongDimension(t *testing.T) {
	_, err := llm.ParseDecision(`{"action":"x","belief_shift":[0.1,0.2],"wealth_shift":0}`, 5)
	assert.ErrorIs(t, err, llm.ErrParse)
}

func TestParseDecisionNonFiniteNumber(t *testing.T) {
	// 1e999 overflows float64; the decode failure maps to ErrParse.
	_, err := llm.ParseDecision(`{"action":"x","belief_shift":[1e999],"wealth_shift":0}`, 1)
	assert.ErrorIs(t, err, llm.ErrParse)
}

func TestParseDecisionMalformedJSON(t *testing.T) {
	_, err := llm.ParseDecision(`{"action": "unterminated`, 5)
	assert.ErrorIs(t, err, llm.ErrParse)
}

type stubCompleter struct {
	text string
	err  error

	lastSystem string
	lastUser   string
}

func (s *stubCompleter) Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	s.lastSystem = system
	s.lastUser = userPrompt
	return s.text, s.err
}

func testAgent() *agents.Agent {
	return &agents.Agent{
		ID: uuid.New(),
		Demographics: agents.Demographics{
			Age: 44, EducationLevel: "college", Location: "urban", HouseholdSize: 3,
		},
		Traits:  []float64{0.4, 0.6, 0.5, 0.2, 0.8},
		Beliefs: []float64{0.1, -0.3, 0, 0.5, -0.9},
		Wealth:  2500,
	}
}

func TestGenerateDecisionPromptMentionsState(t *testing.T) {
	stub := &stubCompleter{text: `{"action":"work","belief_shift":[0,0,0,0,0],"wealth_shift":10}`}
	dc := &llm.DecisionContext{
		Tick:      7,
		Agent:     testAgent(),
		BeliefDim: 5,
		Memories:  []string{"Tick 4: I chose to protest"},
	}

	d, err := llm.GenerateDecision(context.Background(), stub, dc)
	require.NoError(t, err)
	assert.Equal(t, "work", d.Action)

	assert.Contains(t, stub.lastSystem, "44-year-old")
	assert.Contains(t, stub.lastSystem, "urban")
	// Traits appear under their names, not as a bare vector.
	assert.Contains(t, stub.lastSystem, "conformity 0.40")
	assert.Contains(t, stub.lastSystem, "risk_aversion 0.60")
	assert.Contains(t, stub.lastUser, "tick 7")
	assert.Contains(t, stub.lastUser, "I chose to protest")
}

func TestGenerateDecisionPropagatesCompleterError(t *testing.T) {
	stub := &stubCompleter{err: llm.ErrRateLimited}
	dc := &llm.DecisionContext{Tick: 0, Agent: testAgent(), BeliefDim: 5}

	_, err := llm.GenerateDecision(context.Background(), stub, dc)
	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assert.False(t, errors.Is(err, llm.ErrParse))
}
