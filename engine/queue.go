package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Queue serializes all work against the engine: tasks are executed strictly
// one at a time by a single worker, so at most one control-plane call is ever
// in flight. This preserves the engine's single-writer contract; interleaved
// forkchoice updates from concurrent callers would make its state undefined.
type Queue struct {
	log log.Logger
	env *taskEnv

	mu     sync.Mutex
	items  []*Pending
	closed bool
	// halted is set after a ReorgTooDeep failure. Only consolidation is
	// dequeued until one succeeds; the driver refuses to extend a chain it
	// can no longer reconcile.
	halted bool

	wake chan struct{}
	wg   sync.WaitGroup
}

func newQueue(logger log.Logger, env *taskEnv) *Queue {
	return &Queue{
		log:  logger,
		env:  env,
		wake: make(chan struct{}, 1),
	}
}

// Start launches the worker. The queue stops accepting and resolves all
// remaining tasks with ErrQueueClosed when the context ends or Close is called.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Submit enqueues a task without blocking. The caller awaits its own task's
// outcome through the returned Pending, independent of queue depth.
func (q *Queue) Submit(task EngineTask) *Pending {
	p := newPending(q, task)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		p.resolve(Outcome{Err: ErrQueueClosed})
		return p
	}
	q.items = append(q.items, p)
	q.env.metrics.RecordQueueLength(len(q.items))
	q.mu.Unlock()
	q.signal()
	return p
}

// Len reports the number of queued (not yet started) tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the worker after the currently executing task (if any) finishes
// and resolves everything still queued with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	q.wg.Wait()
	q.drainRemaining()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// cancel withdraws a still-queued task. Called via Pending.Cancel.
func (q *Queue) cancel(p *Pending) bool {
	q.mu.Lock()
	for i, item := range q.items {
		if item == p {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.env.metrics.RecordQueueLength(len(q.items))
			q.mu.Unlock()
			p.resolve(Outcome{Err: ErrTaskCancelled})
			return true
		}
	}
	q.mu.Unlock()
	return false
}

// next pops the first eligible task in submission order, or nil.
// While the engine is syncing, only tasks that may run while syncing are
// eligible; the rest hold their queue position, providing backpressure.
func (q *Queue) next() *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	syncing := q.env.monitor.Status() == ExecutionEngineSyncing
	for i, item := range q.items {
		if q.halted && item.kind != KindConsolidate {
			continue
		}
		if syncing && !item.task.RunsWhileSyncing() {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		q.env.metrics.RecordQueueLength(len(q.items))
		return item
	}
	return nil
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	defer q.drainRemaining()
	for {
		p := q.next()
		if p == nil {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.closed = true
				q.mu.Unlock()
				return
			case <-q.wake:
				if q.isClosed() {
					return
				}
				continue
			}
		}
		q.execute(ctx, p)
	}
}

func (q *Queue) execute(ctx context.Context, p *Pending) {
	q.log.Debug("Executing engine task", "kind", p.kind)
	outcome := p.task.execute(ctx, q.env)

	switch {
	case outcome.Err != nil:
		q.env.metrics.RecordTaskResult(p.kind, "failure")
		q.log.Warn("Engine task failed", "kind", p.kind, "err", outcome.Err)
		q.env.emitter.Emit(ctx, TaskFailedEvent{Kind: p.kind, Err: outcome.Err})
		if errors.Is(outcome.Err, ErrReorgTooDeep) {
			q.setHalted(true)
		}
	case outcome.Deferred:
		q.env.metrics.RecordTaskResult(p.kind, "deferred")
	default:
		q.env.metrics.RecordTaskResult(p.kind, "success")
		if p.kind == KindConsolidate {
			q.setHalted(false)
		}
	}
	p.resolve(outcome)
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) setHalted(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.halted != v {
		q.halted = v
		if v {
			q.log.Error("Halting chain progress until consolidation succeeds")
		} else {
			q.log.Info("Resuming chain progress after successful consolidation")
		}
	}
}

func (q *Queue) drainRemaining() {
	q.mu.Lock()
	remaining := q.items
	q.items = nil
	q.env.metrics.RecordQueueLength(0)
	q.mu.Unlock()
	for _, p := range remaining {
		p.resolve(Outcome{Err: ErrQueueClosed})
	}
}
