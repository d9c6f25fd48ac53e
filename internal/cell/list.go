package cell

import (
	"rings/internal/plan"
	"rings/internal/signal"
)

// List is a layer of cells. Parents are the layers it was derived from; roots
// are self-driving sources pushed once per frame. Everything reachable through
// parents takes part in Setup, Tick and Reset exactly once per call.
type List struct {
	parents      []*List
	cells        []Cell
	roots        []Cell
	setups       []plan.Op
	requirements []Requirement
	finals       []func()
}

func NewList(parents ...*List) *List {
	l := &List{}
	for _, p := range parents {
		if p != nil {
			l.parents = append(l.parents, p)
		}
	}
	return l
}

// Cells builds a root list from count source cells.
func Cells(count int, source func(i int) Cell) *List {
	l := NewList()
	for i := 0; i < count; i++ {
		l.AddRoot(source(i))
	}
	return l
}

// Join combines lists so they set up, tick and reset together.
func Join(lists ...*List) *List {
	l := NewList(lists...)
	for _, p := range lists {
		if p == nil {
			continue
		}
		for _, c := range p.cells {
			l.Append(c)
		}
	}
	return l
}

func (l *List) Add(c Cell) *List {
	l.cells = append(l.cells, c)
	return l
}

// Append adds c unless the list already holds it.
func (l *List) Append(c Cell) *List {
	for _, existing := range l.cells {
		if existing == c {
			return l
		}
	}
	return l.Add(c)
}

// AddRoot registers a self-driving source. Roots are also cells of the list.
func (l *List) AddRoot(c Cell) *List {
	l.roots = append(l.roots, c)
	return l.Add(c)
}

func (l *List) AddRequirement(r ...Requirement) *List {
	l.requirements = append(l.requirements, r...)
	return l
}

func (l *List) AddSetup(op plan.Op) *List {
	l.setups = append(l.setups, op)
	return l
}

// AddFinal registers an action run at the start of every Reset.
func (l *List) AddFinal(fn func()) *List {
	l.finals = append(l.finals, fn)
	return l
}

func (l *List) Len() int {
	return len(l.cells)
}

func (l *List) Cell(i int) Cell {
	return l.cells[i]
}

func (l *List) All() []Cell {
	out := make([]Cell, len(l.cells))
	copy(out, l.cells)
	return out
}

func (l *List) Parents() []*List {
	return l.parents
}

// Setup concatenates ancestor setups, then cell setups, then extra setups.
func (l *List) Setup() plan.Op {
	var ops []plan.Op
	l.visit(make(map[*List]bool), make(map[any]bool), func(seen map[any]bool, cur *List) {
		for _, c := range cur.cells {
			s, ok := c.(Setup)
			if !ok || seen[c] {
				continue
			}
			seen[c] = true
			ops = append(ops, s.Setup())
		}
		ops = append(ops, cur.setups...)
	})
	return plan.Seq("setup", ops...)
}

// Tick pushes zero into every reachable root, then ticks every reachable
// temporal cell and requirement once, in discovery order.
func (l *List) Tick() plan.Op {
	var pushes, ticks []plan.Op
	rootSeen := make(map[any]bool)
	l.visit(make(map[*List]bool), make(map[any]bool), func(seen map[any]bool, cur *List) {
		for _, r := range cur.roots {
			if rootSeen[r] {
				continue
			}
			rootSeen[r] = true
			pushes = append(pushes, r.Push(signal.Zero))
		}
		for _, c := range cur.cells {
			t, ok := c.(Temporal)
			if !ok || seen[c] {
				continue
			}
			seen[c] = true
			ticks = append(ticks, t.Tick())
		}
		for _, r := range cur.requirements {
			if seen[r] {
				continue
			}
			seen[r] = true
			ticks = append(ticks, r.Tick())
		}
	})
	return plan.Seq("tick", plan.Seq("push", pushes...), plan.Seq("temporal", ticks...))
}

func (l *List) visit(lists map[*List]bool, seen map[any]bool, fn func(map[any]bool, *List)) {
	if lists[l] {
		return
	}
	lists[l] = true
	for _, p := range l.parents {
		p.visit(lists, seen, fn)
	}
	fn(seen, l)
}

// Reset runs finals, then resets parents depth first, then local cells and
// requirements. It may be called any number of times.
func (l *List) Reset() {
	for _, fn := range l.finals {
		fn()
	}
	for _, p := range l.parents {
		p.Reset()
	}
	for _, c := range l.cells {
		c.Reset()
	}
	for _, r := range l.requirements {
		r.Reset()
	}
}
