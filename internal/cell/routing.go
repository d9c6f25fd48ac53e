package cell

import (
	"rings/internal/heredity"
	"rings/internal/plan"
	"rings/internal/signal"
)

// Map replaces each cell's receptor with a newly built cell. The result
// holds the new cells and derives from l.
func (l *List) Map(dest func(i int) Cell) *List {
	out := NewList(l)
	for i, c := range l.cells {
		d := dest(i)
		c.SetReceptor(d)
		out.Add(d)
	}
	return out
}

// Branch fans each cell out to one new cell per branch function.
func (l *List) Branch(dest ...func(i int) Cell) []*List {
	out := make([]*List, len(dest))
	for j := range dest {
		out[j] = NewList(l)
	}
	for i, c := range l.cells {
		targets := make([]Receptor, len(dest))
		for j, fn := range dest {
			d := fn(i)
			out[j].Add(d)
			targets[j] = d
		}
		c.SetReceptor(Fanout(targets...))
	}
	return out
}

// Sum feeds every cell into one summation cell.
func (l *List) Sum() *List {
	sum := NewSummationCell()
	for _, c := range l.cells {
		c.SetReceptor(sum)
	}
	return NewList(l).Add(sum)
}

// Matrix is a routing table. Weight(i, j) scales the signal from source i into
// destination j.
type Matrix interface {
	Rows() int
	Cols(row int) int
	Weight(row, col int) heredity.Factor
}

// GeneMatrix routes with the factors of a chromosome: gene i holds the
// weights from source i.
func GeneMatrix(c heredity.ChromosomeView) Matrix {
	return geneMatrix{c}
}

type geneMatrix struct {
	c heredity.ChromosomeView
}

func (m geneMatrix) Rows() int { return m.c.Len() }

func (m geneMatrix) Cols(row int) int { return m.c.Gene(row).Len() }

func (m geneMatrix) Weight(row, col int) heredity.Factor {
	return m.c.Gene(row).Factor(col)
}

// DenseMatrix is a fixed weight table.
type DenseMatrix [][]float64

func IdentityMatrix(n int) DenseMatrix {
	m := make(DenseMatrix, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	return m
}

func (m DenseMatrix) Rows() int { return len(m) }

func (m DenseMatrix) Cols(row int) int { return len(m[row]) }

func (m DenseMatrix) Weight(row, col int) heredity.Factor {
	return heredity.Scale(m[row][col])
}

// Route connects source i through adapter(i) into a splitter that pushes
// into dest cell j scaled by Weight(i, j). Destinations are addressed by
// index, so routing a list onto itself forms a feedback network without
// cells owning each other. When passthrough is set, each splitter also
// forwards the unweighted signal into passthrough(i) and the result is the
// list of passthrough cells; otherwise it is the destination layer.
func (l *List) Route(adapter func(i int) Cell, m Matrix, dest *List, passthrough func(i int) Cell) *List {
	if dest == nil {
		dest = l
	}
	layer := NewList(l)
	var clean *List
	if passthrough != nil {
		clean = NewList(layer)
	}

	for i, source := range l.cells {
		var through Cell
		if passthrough != nil {
			through = passthrough(i)
		}

		cols := 0
		if i < m.Rows() {
			cols = m.Cols(i)
		}
		targets := make([]int, 0, cols)
		weights := make([]heredity.Factor, 0, cols)
		for j := 0; j < cols && j < dest.Len(); j++ {
			targets = append(targets, j)
			weights = append(weights, m.Weight(i, j))
		}

		split := newSplitter(dest, targets, weights, through)
		a := adapter(i)
		source.SetReceptor(a)
		a.SetReceptor(split)
		layer.Append(a)
		layer.AddRequirement(split)

		for _, j := range targets {
			layer.Append(dest.Cell(j))
		}
		if clean != nil {
			clean.Add(through)
		}
	}

	if clean != nil {
		return clean
	}
	return layer
}

// RouteSelf routes l onto itself.
func (l *List) RouteSelf(adapter func(i int) Cell, m Matrix, passthrough func(i int) Cell) *List {
	return l.Route(adapter, m, l, passthrough)
}

// Splitter pushes one input into several destinations by index, each scaled
// by its weight. A destination whose weight evaluates to zero is skipped for
// that frame.
type Splitter struct {
	dest        *List
	targets     []int
	weights     []signal.Producer
	passthrough Cell
}

func newSplitter(dest *List, targets []int, weights []heredity.Factor, passthrough Cell) *Splitter {
	s := &Splitter{dest: dest, targets: targets, passthrough: passthrough}
	for _, w := range weights {
		s.weights = append(s.weights, heredity.Resultant(w))
	}
	return s
}

// Targets lists destination indices.
func (s *Splitter) Targets() []int {
	return append([]int(nil), s.targets...)
}

// Weights evaluates the current weight of each target.
func (s *Splitter) Weights() []float64 {
	out := make([]float64, len(s.weights))
	for i, w := range s.weights {
		out[i] = w.Scalar()
	}
	return out
}

func (s *Splitter) Push(in signal.Producer) plan.Op {
	l := &latch{}
	ops := []plan.Op{l.capture(in)}
	for k, j := range s.targets {
		w := s.weights[k]
		weighted := func() signal.Frame { return l.frame.Scale(w.Scalar()) }
		push := s.dest.Cell(j).Push(weighted)
		ops = append(ops, plan.New("route", func() error {
			if w.Scalar() == 0 {
				return nil
			}
			return push.Run()
		}))
	}
	if s.passthrough != nil {
		ops = append(ops, s.passthrough.Push(l.producer()))
	}
	return plan.Seq("split", ops...)
}

func (s *Splitter) Tick() plan.Op { return plan.Noop }

func (s *Splitter) Reset() {}

// Mixdown renders l for frames frames during setup, then plays the
// recordings back from static wave cells. The returned list replaces l for
// the rest of the run; resetting it resets the recorded sub-graph.
func (l *List) Mixdown(frames int) *List {
	recorders := make([]*Recorder, l.Len())
	recorded := l.Map(func(i int) Cell {
		recorders[i] = NewRecorder(frames)
		return recorders[i]
	})

	out := NewList()
	waves := make([]*WaveCell, len(recorders))
	for i := range waves {
		waves[i] = NewWaveCell(nil, nil, false)
		out.AddRoot(waves[i])
	}

	render := plan.Loop("mixdown render", recorded.Tick(), frames)
	export := plan.Do("mixdown export", func() {
		for i, r := range recorders {
			waves[i].SetData(r.Export())
		}
	})
	out.AddSetup(plan.Seq("mixdown", recorded.Setup(), render, export))
	out.AddFinal(recorded.Reset)
	return out
}
