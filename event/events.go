// Package event provides a minimal synchronous event system:
// emitters broadcast typed events to attached derivers as they happen.
package event

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
)

type Event interface {
	// String returns the name of the event.
	// The name must be simple and identify the event type, not the event content.
	String() string
}

type Deriver interface {
	// OnEvent runs the event with the context that was used to emit the event.
	// OnEvent returns true if it recognizes the event as "processed".
	OnEvent(ctx context.Context, ev Event) bool
}

type Emitter interface {
	// Emit broadcasts an event to all attached derivers, synchronously.
	// Events emitted by the same module arrive in the order they were sent.
	Emit(ctx context.Context, ev Event)
}

type EmitterFunc func(ctx context.Context, ev Event)

func (fn EmitterFunc) Emit(ctx context.Context, ev Event) {
	fn(ctx, ev)
}

// DeriverFunc implements the Deriver interface as a function,
// similar to how the std-lib http HandlerFunc implements a Handler.
// This can be used for small in-place derivers, test helpers, etc.
type DeriverFunc func(ctx context.Context, ev Event) bool

func (fn DeriverFunc) OnEvent(ctx context.Context, ev Event) bool {
	return fn(ctx, ev)
}

// DeriverMux fans a single event out to all contained derivers, in order.
type DeriverMux []Deriver

func (s *DeriverMux) OnEvent(ctx context.Context, ev Event) bool {
	out := false
	for _, d := range *s {
		out = d.OnEvent(ctx, ev) || out
	}
	return out
}

var _ Deriver = (*DeriverMux)(nil)

type NoopDeriver struct{}

func (d NoopDeriver) OnEvent(ctx context.Context, ev Event) bool { return false }

type NoopEmitter struct{}

func (e NoopEmitter) Emit(ctx context.Context, ev Event) {}

// DebugDeriver logs every event it sees, for test debugging.
type DebugDeriver struct {
	Log log.Logger
}

func (d DebugDeriver) OnEvent(ctx context.Context, ev Event) bool {
	d.Log.Debug("on-event", "event", ev)
	return false
}
