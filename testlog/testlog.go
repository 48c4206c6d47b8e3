// Package testlog provides a log handler for unit tests: all output goes to
// the test log, attributed to the call site that emitted it.
package testlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Testing is the subset of testing.TB the logger needs.
type Testing interface {
	Logf(format string, args ...any)
	Helper()
}

// Logger returns a logger which writes to the unit test log of t,
// emitting records at or above the given level.
func Logger(t Testing, level slog.Level) log.Logger {
	return log.NewLogger(&handler{t: t, level: level})
}

type handler struct {
	t     Testing
	level slog.Level
	attrs []slog.Attr
	mu    sync.Mutex
}

var _ slog.Handler = (*handler)(nil)

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	h.t.Helper()
	var sb strings.Builder
	sb.WriteString(r.Message)
	appendAttr := func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value.Any())
		return true
	}
	h.mu.Lock()
	for _, a := range h.attrs {
		appendAttr(a)
	}
	h.mu.Unlock()
	r.Attrs(appendAttr)
	h.t.Logf("%-5s %s", strings.ToUpper(r.Level.String()), sb.String())
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &handler{t: h.t, level: h.level, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return h // groups are not used in this codebase
}
