// Package engine drives an execution-layer node's chain head from a rollup
// node's view of canonical history. All engine API traffic is serialized
// through a single-flight task queue; canonical head state lives in the
// forkchoice tracker and is only mutated by the executing task.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/engine-driver/clock"
	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/event"
	"github.com/mantlenetworkio/engine-driver/metrics"
	"github.com/mantlenetworkio/engine-driver/retry"
)

type Driver struct {
	log     log.Logger
	cfg     Config
	engine  ExecEngine
	tracker *ForkchoiceTracker
	monitor *SyncMonitor
	queue   *Queue
	events  *event.Sys
	clk     clock.Clock
}

type Option func(d *Driver)

// WithClock substitutes the time source, for deterministic tests.
func WithClock(clk clock.Clock) Option {
	return func(d *Driver) {
		d.clk = clk
	}
}

func NewDriver(logger log.Logger, m metrics.Metricer, cfg Config, eng ExecEngine, opts ...Option) (*Driver, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid driver config: %w", err)
	}
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	d := &Driver{
		log:    logger,
		cfg:    cfg,
		engine: eng,
		events: event.NewSys(),
		clk:    clock.SystemClock,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.tracker = NewForkchoiceTracker(logger, m, cfg)
	d.monitor = NewSyncMonitor(logger, m, d.events)
	env := &taskEnv{
		log:     logger,
		cfg:     cfg,
		engine:  eng,
		tracker: d.tracker,
		monitor: d.monitor,
		emitter: d.events,
		metrics: m,
		clk:     d.clk,
	}
	d.queue = newQueue(logger, env)
	return d, nil
}

// Attach subscribes a deriver to the driver's event stream. Events are
// delivered synchronously as each task completes; attach before Start.
func (d *Driver) Attach(deriver event.Deriver) {
	d.events.Attach(deriver)
}

// Start re-derives the forkchoice triple from the engine and begins
// processing tasks. The driver persists nothing across restarts; the engine's
// own head labels are the source of truth at boot.
func (d *Driver) Start(ctx context.Context) error {
	fc, err := d.resetFromEngine(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize forkchoice state from engine: %w", err)
	}
	d.tracker.ForceReset(fc)
	d.queue.Start(ctx)
	d.log.Info("Engine driver started",
		"unsafe", fc.Unsafe, "safe", fc.Safe, "finalized", fc.Finalized)
	return nil
}

// Close stops the queue after the in-flight task, resolving all queued tasks
// with ErrQueueClosed.
func (d *Driver) Close() error {
	d.queue.Close()
	return nil
}

func (d *Driver) resetFromEngine(ctx context.Context) (Forkchoice, error) {
	var fc Forkchoice
	unsafeRef, err := retry.Do(ctx, d.cfg.Retry, d.clk, func(ctx context.Context) (eth.BlockRef, error) {
		return d.engine.BlockRefByLabel(ctx, eth.Unsafe)
	})
	if err != nil {
		return fc, fmt.Errorf("failed to load chain head: %w", err)
	}
	fc.Unsafe = unsafeRef

	fc.Finalized, err = d.engine.BlockRefByLabel(ctx, eth.Finalized)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			return fc, fmt.Errorf("failed to load finalized head: %w", err)
		}
		d.log.Info("Engine has no finalized block yet")
		fc.Finalized = eth.BlockRef{}
	}
	fc.Safe, err = d.engine.BlockRefByLabel(ctx, eth.Safe)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			return fc, fmt.Errorf("failed to load safe head: %w", err)
		}
		// Without a safe block, fall back to the finalized one.
		d.log.Info("Engine has no safe block yet, using finalized", "finalized", fc.Finalized)
		fc.Safe = fc.Finalized
	}
	return fc, nil
}

// CurrentForkchoice returns a consistent snapshot of the tracked triple.
func (d *Driver) CurrentForkchoice() Forkchoice {
	return d.tracker.Current()
}

// SyncStatus returns the engine readiness classification.
func (d *Driver) SyncStatus() SyncStatus {
	return d.monitor.Status()
}

// Submit schedules any engine task. Prefer the typed helpers below.
func (d *Driver) Submit(task EngineTask) *Pending {
	return d.queue.Submit(task)
}

// InsertUnsafePayload schedules the insertion of a gossip- or
// sequencer-sourced payload as the new unsafe head.
func (d *Driver) InsertUnsafePayload(envelope *eth.ExecutionPayloadEnvelope) *Pending {
	return d.queue.Submit(&InsertUnsafeTask{Envelope: envelope})
}

// BuildPayload schedules a block-building job on the given target forkchoice
// (zero target: current state). The outcome carries the sealed envelope.
func (d *Driver) BuildPayload(attrs *eth.PayloadAttributes, target Forkchoice) *Pending {
	return d.queue.Submit(&BuildTask{Attributes: attrs, Target: target})
}

// Promote schedules a safe/finalized head promotion; zero refs keep the
// respective current head.
func (d *Driver) Promote(safe, finalized eth.BlockRef) *Pending {
	return d.queue.Submit(&PromoteTask{Safe: safe, Finalized: finalized})
}

// Consolidate schedules reconciliation with a derivation-supplied canonical
// segment, resolving a reorg if one is confirmed.
func (d *Driver) Consolidate(chain []eth.BlockRef) *Pending {
	return d.queue.Submit(&ConsolidateTask{Chain: chain})
}
