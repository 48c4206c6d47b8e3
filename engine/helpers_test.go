package engine

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/event"
	"github.com/mantlenetworkio/engine-driver/metrics"
	"github.com/mantlenetworkio/engine-driver/retry"
	"github.com/mantlenetworkio/engine-driver/testlog"
	"github.com/mantlenetworkio/engine-driver/testutils"
)

// eventRecorder captures all emitted events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) OnEvent(ctx context.Context, ev event.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *eventRecorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event{}, r.events...)
}

func (r *eventRecorder) countOf(name string) int {
	n := 0
	for _, ev := range r.all() {
		if ev.String() == name {
			n++
		}
	}
	return n
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	return cfg
}

type testHarness struct {
	env     *taskEnv
	engine  *testutils.FakeEngine
	clk     *testutils.FakeClock
	tracker *ForkchoiceTracker
	monitor *SyncMonitor
	events  *eventRecorder
	rng     *rand.Rand
}

func setupTaskTest(t *testing.T, cfg Config) *testHarness {
	logger := testlog.Logger(t, log.LevelError)
	fakeEngine := testutils.NewFakeEngine()
	clk := testutils.NewFakeClock(time.Unix(10_000_000, 0))
	sys := event.NewSys()
	recorder := &eventRecorder{}
	sys.Attach(recorder)
	tracker := NewForkchoiceTracker(logger, metrics.NoopMetrics{}, cfg)
	monitor := NewSyncMonitor(logger, metrics.NoopMetrics{}, sys)
	return &testHarness{
		env: &taskEnv{
			log:     logger,
			cfg:     cfg,
			engine:  fakeEngine,
			tracker: tracker,
			monitor: monitor,
			emitter: sys,
			metrics: metrics.NoopMetrics{},
			clk:     clk,
		},
		engine:  fakeEngine,
		clk:     clk,
		tracker: tracker,
		monitor: monitor,
		events:  recorder,
		rng:     rand.New(rand.NewSource(1234)),
	}
}

// seedChain force-resets the tracker to a linear chain and returns it.
// The chain's last ref becomes the unsafe head; safe and finalized point at
// the first ref.
func (h *testHarness) seedChain(n int) []eth.BlockRef {
	start := eth.BlockRef{
		Hash:   testutils.RandomHash(h.rng),
		Number: 100,
		Time:   h.rng.Uint64() % 1_000_000_000,
	}
	chain := testutils.Chain(h.rng, start, n)
	h.tracker.ForceReset(Forkchoice{
		Unsafe:    chain[len(chain)-1],
		Safe:      chain[0],
		Finalized: chain[0],
	})
	for _, ref := range chain {
		h.tracker.Remember(ref)
	}
	return chain
}

// markReady drives the monitor to Ready the only way possible: by observing
// a VALID forkchoice result.
func (h *testHarness) markReady(t *testing.T) {
	h.monitor.OnForkchoiceResult(context.Background(), eth.ExecutionValid)
	if h.monitor.Status() != ExecutionEngineReady {
		t.Fatalf("expected engine to be ready")
	}
}
