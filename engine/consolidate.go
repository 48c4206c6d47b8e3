package engine

import (
	"context"
	"fmt"

	"github.com/mantlenetworkio/engine-driver/eth"
)

// ConsolidateTask reconciles the locally tracked unsafe chain with a
// derivation-supplied canonical segment after a divergence was detected.
// This is the only path that may move the unsafe head backward.
type ConsolidateTask struct {
	// Chain is the derivation-supplied canonical segment, in ascending block
	// number order, ending at the tip the unsafe head should move to.
	Chain []eth.BlockRef
}

var _ EngineTask = (*ConsolidateTask)(nil)

func (t *ConsolidateTask) Kind() string { return KindConsolidate }

func (t *ConsolidateTask) RunsWhileSyncing() bool { return true }

func (t *ConsolidateTask) execute(ctx context.Context, env *taskEnv) Outcome {
	if len(t.Chain) == 0 {
		return Outcome{Err: fmt.Errorf("consolidate requires a non-empty canonical segment")}
	}
	fc := env.tracker.Current()
	tip := t.Chain[len(t.Chain)-1]

	// Index the supplied segment by height for the downward walk.
	byNumber := make(map[uint64]eth.BlockRef, len(t.Chain))
	for _, ref := range t.Chain {
		byNumber[ref.Number] = ref
	}

	// Walk the local ancestry down from the unsafe head until a block matches
	// the supplied chain at the same height. Exceeding the depth limit is
	// fatal: the divergence cannot be resolved safely and nothing is mutated.
	ancestor, depth, found := eth.BlockRef{}, uint64(0), false
	cur := fc.Unsafe
	for ; depth <= env.cfg.ReorgDepthLimit; depth++ {
		if remote, ok := byNumber[cur.Number]; ok && remote.Hash == cur.Hash {
			ancestor, found = cur, true
			break
		}
		parent, ok := env.tracker.Ref(cur.ParentHash)
		if !ok {
			// The local view ends here; without the parent link the common
			// ancestor cannot be confirmed.
			break
		}
		cur = parent
	}
	if !found {
		return Outcome{Err: fmt.Errorf("%w: no common ancestor within %d blocks of %s",
			ErrReorgTooDeep, env.cfg.ReorgDepthLimit, fc.Unsafe)}
	}
	if ancestor.Hash == tip.Hash {
		// The supplied chain is a prefix of (or equal to) the local chain;
		// nothing diverged, nothing to reorg.
		return Outcome{Head: fc.Unsafe}
	}

	// Seed the supplied segment so follow-up promotions can verify ancestry
	// through the new chain.
	for _, ref := range t.Chain {
		env.tracker.Remember(ref)
	}

	// Safe and finalized heads survive the reorg only if they are at or below
	// the common ancestor; above it they referenced the abandoned branch.
	newFC := Forkchoice{Unsafe: tip, Safe: fc.Safe, Finalized: fc.Finalized}
	if fc.Safe.Number > ancestor.Number {
		newFC.Safe = ancestor
	}
	if fc.Finalized.Number > ancestor.Number {
		newFC.Finalized = ancestor
	}

	env.tracker.ForceReset(newFC)
	env.metrics.RecordReorgDepth(depth)

	fcRes, err := env.forkchoiceUpdate(ctx, newFC.State(), nil, false)
	if err != nil {
		return Outcome{Err: unavailableIfExhausted(err)}
	}
	if fcRes.PayloadStatus.Status == eth.ExecutionInvalid {
		return Outcome{Err: fmt.Errorf("%w: %v", ErrConsolidationFailed,
			eth.ForkchoiceUpdateErr(fcRes.PayloadStatus))}
	}

	env.emitter.Emit(ctx, ReorgDetectedEvent{OldTip: fc.Unsafe, NewTip: tip})
	env.log.Warn("Resolved unsafe-chain reorg",
		"old_tip", fc.Unsafe, "new_tip", tip, "ancestor", ancestor, "depth", depth)
	return Outcome{Head: tip}
}
