package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mantlenetworkio/engine-driver/eth"
)

// PromoteTask advances the safe and/or finalized heads to targets supplied by
// the derivation pipeline. Promotion may run while the engine is syncing: it
// is exactly what helps a syncing peer converge on canonical history.
type PromoteTask struct {
	// Safe is the new safe head; a zero ref keeps the current one.
	Safe eth.BlockRef
	// Finalized is the new finalized head; a zero ref keeps the current one.
	Finalized eth.BlockRef
}

var _ EngineTask = (*PromoteTask)(nil)

func (t *PromoteTask) Kind() string { return KindPromote }

func (t *PromoteTask) RunsWhileSyncing() bool { return true }

func (t *PromoteTask) execute(ctx context.Context, env *taskEnv) Outcome {
	fc := env.tracker.Current()
	newSafe, newFinalized := t.Safe, t.Finalized
	promoteSafe := newSafe != (eth.BlockRef{}) && newSafe != fc.Safe
	promoteFinalized := newFinalized != (eth.BlockRef{}) && newFinalized != fc.Finalized
	if !promoteSafe && !promoteFinalized {
		return Outcome{Head: fc.Unsafe} // nothing to do
	}
	if !promoteSafe {
		newSafe = fc.Safe
	}
	if !promoteFinalized {
		newFinalized = fc.Finalized
	}

	// Validate ancestry before touching the engine. A target the tracker
	// cannot reconcile is the caller's problem to re-derive; no call is made.
	if promoteSafe {
		if err := env.tracker.CheckPromoteSafe(newSafe); err != nil {
			return Outcome{Err: err}
		}
	}
	if promoteFinalized {
		check := newFinalized
		// Finalized is validated against the safe head that will be in place.
		if promoteSafe && !env.tracker.isAncestorOrEqual(check, newSafe) {
			return Outcome{Err: fmt.Errorf("%w: finalized target %s is not an ancestor of new safe head %s",
				ErrUnreconciled, check.ID(), newSafe)}
		}
		if !promoteSafe {
			if err := env.tracker.CheckPromoteFinalized(check); err != nil {
				return Outcome{Err: err}
			}
		}
	}

	// A SYNCING verdict consumes retry attempts here: the full triple is
	// re-sent with backoff until the engine accepts it or the budget is gone.
	fcRes, err := env.forkchoiceUpdate(ctx, eth.ForkchoiceState{
		HeadBlockHash:      fc.Unsafe.Hash,
		SafeBlockHash:      newSafe.Hash,
		FinalizedBlockHash: newFinalized.Hash,
	}, nil, true)
	if err != nil {
		if errors.Is(err, errEngineStillSyncing) {
			return Outcome{Err: fmt.Errorf("%w: engine still syncing after retries", ErrEngineUnavailable)}
		}
		return Outcome{Err: unavailableIfExhausted(err)}
	}
	if fcRes.PayloadStatus.Status != eth.ExecutionValid {
		return Outcome{Err: fmt.Errorf("%w: %v", ErrConsolidationFailed,
			eth.ForkchoiceUpdateErr(fcRes.PayloadStatus))}
	}

	// Commit after the engine acknowledged the triple.
	if promoteSafe {
		if err := env.tracker.PromoteSafe(newSafe); err != nil {
			return Outcome{Err: err}
		}
		env.emitter.Emit(ctx, SafeAdvancedEvent{Ref: newSafe})
	}
	if promoteFinalized {
		if err := env.tracker.PromoteFinalized(newFinalized); err != nil {
			return Outcome{Err: err}
		}
		env.emitter.Emit(ctx, FinalizedAdvancedEvent{Ref: newFinalized})
	}
	env.log.Info("Promoted chain heads", "safe", newSafe, "finalized", newFinalized)
	return Outcome{Head: fc.Unsafe}
}
