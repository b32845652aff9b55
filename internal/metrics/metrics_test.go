package metrics_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polisim/internal/metrics"
)

func TestGiniDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, metrics.Gini(nil))
	assert.Equal(t, 0.0, metrics.Gini([]float64{}))
	assert.Equal(t, 0.0, metrics.Gini([]float64{42}))
}

func TestGiniEqualWealth(t *testing.T) {
	assert.InDelta(t, 0.0, metrics.Gini([]float64{5, 5, 5, 5}), 1e-12)
}

func TestGiniZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, metrics.Gini([]float64{0, 0, 0}))
}

func TestGiniKnownValue(t *testing.T) {
	// Hand-computed: sorted [1,2,3,4], sum 10,
	// weighted = -3*1 + -1*2 + 1*3 + 3*4 = 10, gini = 10/40.
	assert.InDelta(t, 0.25, metrics.Gini([]float64{4, 1, 3, 2}), 1e-12)
}

func TestGiniMaxConcentration(t *testing.T) {
	// One agent holds everything: gini approaches 1 - 1/n.
	for _, n := range []int{2, 10, 100} {
		values := make([]float64, n)
		values[n-1] = 1000
		want := 1 - 1.0/float64(n)
		assert.InDelta(t, want, metrics.Gini(values), 1e-12, "n=%d", n)
	}
}

func TestGiniOrderInvariantAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 50)
	for i := range values {
		values[i] = rng.Float64() * 1000
	}

	g := metrics.Gini(values)
	assert.GreaterOrEqual(t, g, 0.0)
	assert.LessOrEqual(t, g, 1.0)

	shuffled := append([]float64(nil), values...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	assert.Equal(t, g, metrics.Gini(shuffled))
}

func TestGiniInputNotMutated(t *testing.T) {
	values := []float64{3, 1, 2}
	metrics.Gini(values)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestBeliefVarianceEmpty(t *testing.T) {
	v, err := metrics.BeliefVariance(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestBeliefVarianceUniformPopulation(t *testing.T) {
	vectors := [][]float64{
		{0.5, -0.2, 0.1},
		{0.5, -0.2, 0.1},
		{0.5, -0.2, 0.1},
	}
	v, err := metrics.BeliefVariance(vectors)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, v, 1e-12)
}

func TestBeliefVarianceKnownValue(t *testing.T) {
	// Dim 0: values ±1, population variance 1. Dim 1: constant, 0.
	// Mean across dimensions: 0.5.
	vectors := [][]float64{
		{1, 0},
		{-1, 0},
	}
	v, err := metrics.BeliefVariance(vectors)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 1e-12)
}

func TestBeliefVarianceSingleAgent(t *testing.T) {
	v, err := metrics.BeliefVariance([][]float64{{0.3, -0.7}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestBeliefVarianceDimensionMismatch(t *testing.T) {
	_, err := metrics.BeliefVariance([][]float64{
		{1, 0},
		{1, 0, 0},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, metrics.ErrDimensionMismatch)
}
