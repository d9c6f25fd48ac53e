package evo

import (
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rings/internal/model"
)

func rankedRamp(levels ...float64) []ScoredGenome {
	out := make([]ScoredGenome, len(levels))
	for i, l := range levels {
		out[i] = ScoredGenome{Genome: rampGenome(string(rune('a'+i)), l), Health: 1 - l}
	}
	return out
}

func TestOrderedPairingMatesNeighbours(t *testing.T) {
	pairs, err := OrderedPairing{}.Pairs(nil, rankedRamp(0.1, 0.2, 0.3, 0.4), 10)
	require.NoError(t, err)
	want := [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}}
	require.Len(t, pairs, len(want))
	for i, w := range want {
		assert.Equal(t, w, [2]string{pairs[i].First.ID, pairs[i].Second.ID}, "pair %d", i)
	}

	limited, err := OrderedPairing{}.Pairs(nil, rankedRamp(0.1, 0.2, 0.3, 0.4), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
	single, err := OrderedPairing{}.Pairs(nil, rankedRamp(0.1), 5)
	require.NoError(t, err)
	assert.Empty(t, single, "one genome makes no pair")
	_, err = OrderedPairing{}.Pairs(nil, nil, -1)
	assert.Error(t, err)
}

func TestTournamentPairingFavoursHealthierGenomes(t *testing.T) {
	ranked := rankedRamp(0.1, 0.2, 0.3, 0.4, 0.5, 0.6)
	p := TournamentPairing{TournamentSize: 3}
	pairs, err := p.Pairs(rand.New(rand.NewSource(5)), ranked, 200)
	require.NoError(t, err)
	require.Len(t, pairs, 200)
	counts := map[string]int{}
	for _, pair := range pairs {
		require.NotEqual(t, pair.First.ID, pair.Second.ID, "genome paired with itself")
		counts[pair.First.ID]++
	}
	assert.Greater(t, counts["a"], counts["f"], "the best genome wins more tournaments")

	_, err = p.Pairs(nil, ranked, 1)
	assert.Error(t, err, "missing rng")
	none, err := p.Pairs(rand.New(rand.NewSource(1)), rankedRamp(0.1), 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSharingPostprocessorPenalisesCrowding(t *testing.T) {
	scored := []ScoredGenome{
		{Genome: rampGenome("a", 0.10), Health: 1},
		{Genome: rampGenome("b", 0.11), Health: 1},
		{Genome: rampGenome("c", 0.90), Health: 1},
	}
	out := SharingPostprocessor{Radius: 0.2}.Process(scored)
	assert.Less(t, out[0].Health, 1.0)
	assert.Less(t, out[1].Health, 1.0)
	assert.Equal(t, 1.0, out[2].Health, "isolated genome keeps its health")
	assert.Equal(t, 1.0, scored[0].Health, "input is not mutated")

	same := NoopPostprocessor{}.Process(scored)
	for i := range same {
		assert.Equal(t, scored[i].Health, same[i].Health)
	}
}

func TestSummarizeGeneration(t *testing.T) {
	ranked := []ScoredGenome{
		{Genome: rampGenome("a", 0.1), Health: 0.9},
		{Genome: rampGenome("b", 0.4), Health: 0.5},
		{Genome: rampGenome("c", 0.7), Health: 0.1},
	}
	d := summarizeGeneration(ranked, 3)
	assert.Equal(t, 3, d.Generation)
	assert.Equal(t, 3, d.Evaluated)
	assert.Equal(t, "a", d.BestGenomeID)
	assert.Equal(t, 0.9, d.BestHealth)
	assert.Equal(t, 0.1, d.MinHealth)
	assert.InDelta(t, 0.5, d.MeanHealth, 1e-12)
	assert.InDelta(t, 0.4, d.StdDevHealth, 1e-12)
	assert.InDelta(t, 0.4, d.Diversity, 1e-12)

	empty := summarizeGeneration(nil, 2)
	assert.Equal(t, 2, empty.Generation)
	assert.Zero(t, empty.Evaluated)

	single := summarizeGeneration(ranked[:1], 1)
	assert.Zero(t, single.StdDevHealth)
	assert.Zero(t, single.Diversity)
}

func TestMetricsGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.generation(model.GenerationDiagnostics{BestHealth: 0.8, MeanHealth: 0.4, Bred: 3, Generated: 2}, 5)
	m.storeFailure()

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	for _, want := range []string{
		"rings_optimizer_generations_total",
		"rings_optimizer_offspring_total",
		"rings_optimizer_best_health",
		"rings_optimizer_store_failures_total",
	} {
		assert.Contains(t, names, want)
	}

	var none *Metrics
	assert.NotPanics(t, func() {
		none.generation(model.GenerationDiagnostics{}, 1)
		none.storeFailure()
	})
}

func TestPairingByName(t *testing.T) {
	for name, want := range map[string]string{"": "ordered", "ordered": "ordered", "tournament": "tournament"} {
		p, err := PairingByName(name, 2)
		require.NoError(t, err, "pairing %q", name)
		assert.Equal(t, want, p.Name(), "pairing %q", name)
	}
	_, err := PairingByName("roulette", 0)
	assert.Error(t, err)
	assert.Equal(t, "none", PostprocessorFor(0).Name())
	assert.Equal(t, "sharing", PostprocessorFor(0.1).Name())
}
