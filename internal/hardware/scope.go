package hardware

import (
	"fmt"
	"log/slog"
	"sync"
)

// Scope tracks the context currently in effect. Isolated swaps in a fresh
// context for the duration of a call and always destroys it afterwards.
type Scope struct {
	mu      sync.Mutex
	base    *Context
	current *Context
	logger  *slog.Logger
	seq     int
}

func NewScope(base *Context, logger *slog.Logger) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	if base == nil {
		base = New("default", logger)
	}
	return &Scope{base: base, current: base, logger: logger}
}

func (s *Scope) Current() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scope) Isolated(name string, fn func(*Context) error) error {
	s.mu.Lock()
	if s.current != s.base {
		s.mu.Unlock()
		return fmt.Errorf("isolated scope %q: already inside %q", name, s.current.name)
	}
	s.seq++
	isolated := New(fmt.Sprintf("%s-%d", name, s.seq), s.logger)
	s.current = isolated
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.current = s.base
		s.mu.Unlock()
		isolated.Destroy()
	}()

	return fn(isolated)
}

// Close destroys the base context.
func (s *Scope) Close() {
	s.base.Destroy()
}
