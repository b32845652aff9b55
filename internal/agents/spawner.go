// Population seeding — generates agents with correlated belief and
// income distributions, deterministic from a seed.
package agents

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"
	opensimplex "github.com/ojrac/opensimplex-go"
)

// SeedConfig controls population generation.
type SeedConfig struct {
	PopulationSize int     `json:"population_size" toml:"population_size"`
	BeliefDim      int     `json:"belief_dim" toml:"belief_dim"`
	AgeMean        float64 `json:"age_mean" toml:"age_mean"`
	AgeStddev      float64 `json:"age_stddev" toml:"age_stddev"`
	IncomeMean     float64 `json:"income_mean" toml:"income_mean"`
	IncomeStddev   float64 `json:"income_stddev" toml:"income_stddev"`
	Seed           int64   `json:"seed" toml:"seed"`
}

// DefaultSeedConfig returns a reasonable seeding configuration.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PopulationSize: 100,
		BeliefDim:      5,
		AgeMean:        40,
		AgeStddev:      14,
		IncomeMean:     45000,
		IncomeStddev:   18000,
		Seed:           42,
	}
}

// Validate rejects configurations that cannot produce a population.
func (c SeedConfig) Validate() error {
	if c.PopulationSize <= 0 {
		return fmt.Errorf("population_size must be positive, got %d", c.PopulationSize)
	}
	if c.BeliefDim <= 0 {
		return fmt.Errorf("belief_dim must be positive, got %d", c.BeliefDim)
	}
	return nil
}

var archetypes = []string{
	"pragmatist", "idealist", "traditionalist", "opportunist", "skeptic",
}

// Spawner generates agent populations. The noise field gives nearby
// agents (in seeding order, a stand-in for social locality) correlated
// beliefs and incomes, instead of pure i.i.d. draws.
type Spawner struct {
	rng   *rand.Rand
	noise opensimplex.Noise
}

// NewSpawner creates a spawner seeded deterministically.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:   rand.New(rand.NewSource(seed)),
		noise: opensimplex.NewNormalized(seed + 1),
	}
}

// SpawnPopulation generates the initial population for a simulation.
func (sp *Spawner) SpawnPopulation(simulationID uuid.UUID, cfg SeedConfig) ([]*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	educations := []string{"High School", "Bachelor's", "Master's", "PhD"}
	out := make([]*Agent, 0, cfg.PopulationSize)

	for i := 0; i < cfg.PopulationSize; i++ {
		// Noise coordinate along the seeding axis. Low frequency so
		// runs of agents share a leaning.
		x := float64(i) * 0.08

		traits := make([]float64, NumTraits)
		for d := range traits {
			traits[d] = clip01(sp.rng.NormFloat64()*0.2 + 0.5)
		}

		beliefs := make([]float64, cfg.BeliefDim)
		for d := range beliefs {
			// Normalized noise is in [0, 1]; recenter to [-1, 1] and jitter.
			base := sp.noise.Eval2(x, float64(d)*7.31)*2 - 1
			beliefs[d] = clamp(base+sp.rng.NormFloat64()*0.1, -1, 1)
		}

		// Income follows the configured gaussian, modulated by the same
		// field so wealth clusters with belief locality.
		incomeMod := 0.7 + 0.6*sp.noise.Eval2(x, -3.17)
		income := math.Max(0, sp.rng.NormFloat64()*cfg.IncomeStddev+cfg.IncomeMean*incomeMod)

		age := int(math.Max(18, sp.rng.NormFloat64()*cfg.AgeStddev+cfg.AgeMean))

		out = append(out, &Agent{
			ID:           uuid.New(),
			SimulationID: simulationID,
			Archetype:    archetypes[sp.rng.Intn(len(archetypes))],
			Demographics: Demographics{
				Age:            age,
				EducationLevel: educations[sp.rng.Intn(len(educations))],
				Location:       fmt.Sprintf("District %c", 'A'+byte(i%8)),
				HouseholdSize:  1 + sp.rng.Intn(5),
			},
			Traits:  traits,
			Beliefs: beliefs,
			Wealth:  income,
		})
	}

	return out, nil
}

func clip01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
