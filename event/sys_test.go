package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type testEvent string

func (ev testEvent) String() string { return string(ev) }

func TestSysDeliversInAttachOrder(t *testing.T) {
	sys := NewSys()
	var order []string
	sys.Attach(DeriverFunc(func(ctx context.Context, ev Event) bool {
		order = append(order, "first:"+ev.String())
		return true
	}))
	sys.Attach(DeriverFunc(func(ctx context.Context, ev Event) bool {
		order = append(order, "second:"+ev.String())
		return true
	}))

	sys.Emit(context.Background(), testEvent("a"))
	sys.Emit(context.Background(), testEvent("b"))
	require.Equal(t, []string{"first:a", "second:a", "first:b", "second:b"}, order)
}

func TestSysSynchronousDelivery(t *testing.T) {
	sys := NewSys()
	seen := 0
	sys.Attach(DeriverFunc(func(ctx context.Context, ev Event) bool {
		seen++
		return true
	}))

	// Emit returns only after every deriver ran.
	sys.Emit(context.Background(), testEvent("x"))
	require.Equal(t, 1, seen)
}

func TestDeriverMuxReportsProcessed(t *testing.T) {
	var mux DeriverMux
	mux = append(mux, NoopDeriver{})
	require.False(t, mux.OnEvent(context.Background(), testEvent("y")))

	mux = append(mux, DeriverFunc(func(ctx context.Context, ev Event) bool { return true }))
	require.True(t, mux.OnEvent(context.Background(), testEvent("y")))
}
