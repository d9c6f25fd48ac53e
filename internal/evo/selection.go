package evo

import (
	"fmt"
	"math/rand"

	"rings/internal/heredity"
)

// ScoredGenome is a genome with the health it earned this generation.
type ScoredGenome struct {
	Genome heredity.Genome
	Health float64
	Frames int
}

// Pair is one breeding couple.
type Pair struct {
	First, Second heredity.Genome
}

// Pairing chooses breeding couples from genomes ranked best first.
type Pairing interface {
	Name() string
	Pairs(rng *rand.Rand, ranked []ScoredGenome, limit int) ([]Pair, error)
}

// OrderedPairing mates neighbours in rank order: the best with the second,
// the second with the third, and so on.
type OrderedPairing struct{}

func (OrderedPairing) Name() string {
	return "ordered"
}

func (OrderedPairing) Pairs(_ *rand.Rand, ranked []ScoredGenome, limit int) ([]Pair, error) {
	if limit < 0 {
		return nil, fmt.Errorf("invalid pair limit: %d", limit)
	}
	var out []Pair
	for i := 1; i < len(ranked) && len(out) < limit; i++ {
		out = append(out, Pair{First: ranked[i-1].Genome, Second: ranked[i].Genome})
	}
	return out, nil
}

// TournamentPairing samples candidates from the top of the ranking and mates
// the best of two tournaments.
type TournamentPairing struct {
	PoolSize       int
	TournamentSize int
}

func (TournamentPairing) Name() string {
	return "tournament"
}

func (s TournamentPairing) Pairs(rng *rand.Rand, ranked []ScoredGenome, limit int) ([]Pair, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if limit < 0 {
		return nil, fmt.Errorf("invalid pair limit: %d", limit)
	}
	if len(ranked) < 2 {
		return nil, nil
	}

	poolSize := s.PoolSize
	if poolSize <= 0 || poolSize > len(ranked) {
		poolSize = len(ranked)
	}
	if poolSize < 2 {
		poolSize = 2
	}
	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 3
	}
	if tournamentSize > poolSize {
		tournamentSize = poolSize
	}

	pick := func() int {
		best := rng.Intn(poolSize)
		for i := 1; i < tournamentSize; i++ {
			if c := rng.Intn(poolSize); ranked[c].Health > ranked[best].Health {
				best = c
			}
		}
		return best
	}

	out := make([]Pair, 0, limit)
	for len(out) < limit {
		a := pick()
		b := pick()
		for b == a {
			b = rng.Intn(poolSize)
		}
		out = append(out, Pair{First: ranked[a].Genome, Second: ranked[b].Genome})
	}
	return out, nil
}

// PairingByName resolves a configured pairing. An empty name is ordered.
func PairingByName(name string, tournamentSize int) (Pairing, error) {
	switch name {
	case "", "ordered":
		return OrderedPairing{}, nil
	case "tournament":
		return TournamentPairing{TournamentSize: tournamentSize}, nil
	default:
		return nil, fmt.Errorf("unsupported pairing: %s", name)
	}
}
