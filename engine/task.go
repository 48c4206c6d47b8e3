package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/engine-driver/client"
	"github.com/mantlenetworkio/engine-driver/clock"
	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/event"
	"github.com/mantlenetworkio/engine-driver/metrics"
	"github.com/mantlenetworkio/engine-driver/retry"
)

// ExecEngine is the control-plane surface the tasks call through.
// *client.EngineClient implements it; tests use an instrumented fake.
type ExecEngine interface {
	NewPayload(ctx context.Context, payload *eth.ExecutionPayload, parentBeaconBlockRoot *common.Hash) (*eth.PayloadStatusV1, error)
	ForkchoiceUpdate(ctx context.Context, fc *eth.ForkchoiceState, attr *eth.PayloadAttributes) (*eth.ForkchoiceUpdatedResult, error)
	GetPayload(ctx context.Context, payloadInfo eth.PayloadInfo) (*eth.ExecutionPayloadEnvelope, error)
	BlockRefByLabel(ctx context.Context, label eth.BlockLabel) (eth.BlockRef, error)
}

// Task kinds, used for logging and metric labels.
const (
	KindInsertUnsafe = "insert-unsafe"
	KindBuild        = "build-payload"
	KindPromote      = "promote"
	KindConsolidate  = "consolidate"
)

// Outcome is the single resolution of a task. Exactly one of the following
// holds: Err is set (typed failure), Deferred is true (the engine is not
// ready, the caller decides whether to retry later), or the task succeeded
// with Head and/or Envelope populated as applicable.
type Outcome struct {
	// Head is the unsafe head after the task, when the task moved it.
	Head eth.BlockRef
	// Envelope carries the built payload of a BuildPayload task.
	Envelope *eth.ExecutionPayloadEnvelope
	// Deferred is set when the engine reported SYNCING/ACCEPTED and the task
	// left all state untouched.
	Deferred bool
	Err      error
}

// EngineTask is one unit of work against the engine. Tasks execute strictly
// one at a time; each may issue multiple causally-dependent engine calls
// without releasing the single-flight slot.
type EngineTask interface {
	Kind() string
	// RunsWhileSyncing reports whether the scheduler may dequeue the task
	// while the engine peer is still syncing.
	RunsWhileSyncing() bool

	execute(ctx context.Context, env *taskEnv) Outcome
}

// taskEnv is the shared backend handed to the executing task. Only the
// scheduler's worker touches it, so tasks need no further synchronization
// beyond what the tracker provides.
type taskEnv struct {
	log     log.Logger
	cfg     Config
	engine  ExecEngine
	tracker *ForkchoiceTracker
	monitor *SyncMonitor
	emitter event.Emitter
	metrics metrics.Metricer
	clk     clock.Clock
}

// permanentIfTerminal stops the retry loop early for failures no retry can
// fix: bad credentials and input errors the engine explicitly rejected.
func permanentIfTerminal(err error) error {
	if errors.Is(err, client.ErrUnauthorized) {
		return retry.Permanent(err)
	}
	if code, ok := client.ErrorCode(err); ok {
		switch code {
		case eth.InvalidForkchoiceState, eth.InvalidPayloadAttributes, eth.UnknownPayload:
			return retry.Permanent(eth.InputError{Inner: err, Code: code})
		}
	}
	return err
}

// newPayload submits the payload with the retry policy applied. Transport
// errors and timeouts are retried; engine verdicts are returned as-is for the
// task to interpret.
func (env *taskEnv) newPayload(ctx context.Context, envelope *eth.ExecutionPayloadEnvelope) (*eth.PayloadStatusV1, error) {
	return retry.Do(ctx, env.cfg.Retry, env.clk, func(ctx context.Context) (*eth.PayloadStatusV1, error) {
		status, err := env.engine.NewPayload(ctx, envelope.ExecutionPayload, envelope.ParentBeaconBlockRoot)
		if err != nil {
			return nil, permanentIfTerminal(err)
		}
		if !status.Status.Recognized() {
			return nil, retry.Permanent(&MalformedResponseError{
				Method: "newPayload", Detail: fmt.Sprintf("unknown status %q", status.Status)})
		}
		return status, nil
	})
}

// forkchoiceUpdate issues a forkchoice update with the retry policy applied.
// When retrySyncing is set, a SYNCING verdict consumes a retry attempt too;
// the sync monitor observes the verdict of every attempt either way.
func (env *taskEnv) forkchoiceUpdate(ctx context.Context, fc eth.ForkchoiceState, attr *eth.PayloadAttributes, retrySyncing bool) (*eth.ForkchoiceUpdatedResult, error) {
	return retry.Do(ctx, env.cfg.Retry, env.clk, func(ctx context.Context) (*eth.ForkchoiceUpdatedResult, error) {
		result, err := env.engine.ForkchoiceUpdate(ctx, &fc, attr)
		if err != nil {
			return nil, permanentIfTerminal(err)
		}
		status := result.PayloadStatus.Status
		if !status.Recognized() {
			return nil, retry.Permanent(&MalformedResponseError{
				Method: "forkchoiceUpdated", Detail: fmt.Sprintf("unknown status %q", status)})
		}
		env.monitor.OnForkchoiceResult(ctx, status)
		if retrySyncing && status == eth.ExecutionSyncing {
			return nil, errEngineStillSyncing
		}
		return result, nil
	})
}

var errEngineStillSyncing = errors.New("engine still syncing")

// unavailableIfExhausted folds an exhausted retry budget into the
// EngineUnavailable classification the caller acts on.
func unavailableIfExhausted(err error) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return err
}

// Pending is the caller's handle on a submitted task. It resolves exactly
// once: with the task's outcome, with ErrTaskCancelled, or with
// ErrQueueClosed.
type Pending struct {
	kind string
	task EngineTask

	mu       sync.Mutex
	resolved bool
	outcome  Outcome
	done     chan struct{}

	queue *Queue
}

func newPending(q *Queue, task EngineTask) *Pending {
	return &Pending{
		kind:  task.Kind(),
		task:  task,
		done:  make(chan struct{}),
		queue: q,
	}
}

// Kind returns the task kind label.
func (p *Pending) Kind() string {
	return p.kind
}

// Done is closed when the task has resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Outcome returns the resolution. Only valid after Done is closed.
func (p *Pending) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// Wait blocks until the task resolves or the context expires. A context error
// does not cancel the task; it merely stops waiting.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel withdraws the task if it is still queued. Once the task started
// executing it runs to completion, so no engine state is ever mutated without
// a caller tracking the outcome. Returns true if the task was withdrawn.
func (p *Pending) Cancel() bool {
	return p.queue.cancel(p)
}

func (p *Pending) resolve(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	p.resolved = true
	p.outcome = o
	close(p.done)
}
