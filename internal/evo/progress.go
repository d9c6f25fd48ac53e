package evo

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Progress prints single character markers: C at the start of a cycle, >
// before each evaluation and S before the population is stored.
type Progress struct {
	w      io.Writer
	cycle  *color.Color
	eval   *color.Color
	stored *color.Color
}

// NewProgress writes markers to w. Colors are used only when w is a
// terminal.
func NewProgress(w io.Writer) *Progress {
	p := &Progress{
		w:      w,
		cycle:  color.New(color.FgCyan, color.Bold),
		eval:   color.New(color.FgGreen),
		stored: color.New(color.FgYellow),
	}
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	for _, c := range []*color.Color{p.cycle, p.eval, p.stored} {
		if tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *Progress) Cycle() {
	if p == nil {
		return
	}
	p.cycle.Fprint(p.w, "C")
}

func (p *Progress) Evaluate() {
	if p == nil {
		return
	}
	p.eval.Fprint(p.w, ">")
}

func (p *Progress) Store() {
	if p == nil {
		return
	}
	p.stored.Fprint(p.w, "S")
}

// Done ends the line of markers for a cycle.
func (p *Progress) Done() {
	if p == nil {
		return
	}
	io.WriteString(p.w, "\n")
}
