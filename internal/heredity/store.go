package heredity

import (
	"fmt"
	"sync"
)

// Store is the backing storage a live genome resolves against. It is
// allocated by the first assignment and reused for every later one, so a cell
// graph built over its views never has to be rebuilt.
type Store struct {
	mu       sync.Mutex
	values   []Chromosome
	shape    Shape
	assigned string
	active   *Binding
}

func NewStore() *Store {
	return &Store{}
}

// Assign copies g's values into the store. The first assignment fixes the
// shape; later ones must match it.
func (s *Store) Assign(g Genome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignLocked(g)
}

func (s *Store) assignLocked(g Genome) error {
	shape := g.Shape()
	if s.shape == nil {
		s.values = g.Clone().Chromosomes
		s.shape = shape
		s.assigned = g.ID
		return nil
	}
	if !s.shape.Equal(shape) {
		return fmt.Errorf("assign genome %q with shape %s onto %s: %w", g.ID, shape, s.shape, ErrShapeMismatch)
	}
	for c, chromosome := range g.Chromosomes {
		for i, gene := range chromosome {
			copy(s.values[c][i], gene)
		}
	}
	s.assigned = g.ID
	return nil
}

// Bind assigns g and holds the store for it until the returned binding is
// released. Binding while another binding is active fails with
// ErrAlreadyBound and leaves the active values in place.
func (s *Store) Bind(g Genome) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, fmt.Errorf("bind genome %q while %q is active: %w", g.ID, s.active.genomeID, ErrAlreadyBound)
	}
	if err := s.assignLocked(g); err != nil {
		return nil, err
	}
	s.active = &Binding{store: s, genomeID: g.ID}
	return s.active, nil
}

// Active returns the id of the bound genome, if any.
func (s *Store) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.genomeID, true
}

// Assigned returns the id of the genome whose values the store currently holds.
func (s *Store) Assigned() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assigned
}

func (s *Store) Shape() Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shape
}

// Snapshot copies the current values out as a genome.
func (s *Store) Snapshot() Genome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Genome{ID: s.assigned, Chromosomes: s.values}.Clone()
}

// value is read on the per-frame path without locking; the binding protocol
// keeps assignments and evaluations from overlapping.
func (s *Store) value(c, g, f int) float64 {
	return s.values[c][g][f]
}

// Genome returns the live view over the whole store.
func (s *Store) Genome() LiveGenome {
	return LiveGenome{store: s, length: len(s.Shape())}
}

// Binding is the token held by the genome currently occupying a store.
type Binding struct {
	store    *Store
	genomeID string
	released bool
}

func (b *Binding) GenomeID() string {
	return b.genomeID
}

// Release frees the store for the next bind. A binding can only be released
// once.
func (b *Binding) Release() error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.released {
		return fmt.Errorf("release genome %q: %w", b.genomeID, ErrBindingReleased)
	}
	if s.active != b {
		return fmt.Errorf("release genome %q: %w", b.genomeID, ErrNotBound)
	}
	b.released = true
	s.active = nil
	return nil
}
