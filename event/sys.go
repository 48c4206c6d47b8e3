package event

import (
	"context"
	"sync"
)

// Sys is a synchronous event bus: Emit delivers the event to every
// attached deriver before returning. Derivers may emit further events
// from within OnEvent; those are delivered depth-first, preserving the
// per-emitter ordering guarantee of the Emitter interface.
type Sys struct {
	mu       sync.RWMutex
	derivers DeriverMux
}

func NewSys() *Sys {
	return &Sys{}
}

// Attach registers a deriver. Attach order is delivery order.
func (s *Sys) Attach(d Deriver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derivers = append(s.derivers, d)
}

func (s *Sys) Emit(ctx context.Context, ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.derivers.OnEvent(ctx, ev)
}

var _ Emitter = (*Sys)(nil)
