package engine

import (
	"context"
	"fmt"

	"github.com/mantlenetworkio/engine-driver/eth"
)

// InsertUnsafeTask submits a gossip- or sequencer-sourced payload for
// execution and, if valid, advances the unsafe head to it.
type InsertUnsafeTask struct {
	Envelope *eth.ExecutionPayloadEnvelope
}

var _ EngineTask = (*InsertUnsafeTask)(nil)

func (t *InsertUnsafeTask) Kind() string { return KindInsertUnsafe }

// Inserting new chain while the engine is syncing is held back; the engine
// cannot judge validity of blocks it has no parent state for.
func (t *InsertUnsafeTask) RunsWhileSyncing() bool { return false }

func (t *InsertUnsafeTask) execute(ctx context.Context, env *taskEnv) Outcome {
	ref := t.Envelope.ExecutionPayload.BlockRef()
	fc := env.tracker.Current()

	// Re-submission of the block that is already the head is a no-op success:
	// the engine already executed it, and re-proposing it would violate the
	// strictly-increasing head invariant.
	if ref.Hash == fc.Unsafe.Hash {
		env.log.Debug("Ignoring already-inserted unsafe payload", "ref", ref)
		return Outcome{Head: fc.Unsafe}
	}

	status, err := env.newPayload(ctx, t.Envelope)
	if err != nil {
		return Outcome{Err: unavailableIfExhausted(err)}
	}

	switch status.Status {
	case eth.ExecutionInvalid, eth.ExecutionInvalidBlockHash:
		// Terminal for this payload. No state was mutated; the caller must
		// supply a different payload.
		reason := string(status.Status)
		if status.ValidationError != nil {
			reason = *status.ValidationError
		}
		return Outcome{Err: &RejectedPayloadError{ID: ref.ID(), Reason: reason}}
	case eth.ExecutionSyncing, eth.ExecutionAccepted:
		// The engine took the payload optimistically or is still syncing.
		// Leave all state unchanged; the derivation side decides on a retry.
		env.monitor.OnPayloadResult(ctx, status.Status)
		env.log.Info("Unsafe payload deferred, engine not ready", "ref", ref, "status", status.Status)
		return Outcome{Deferred: true}
	}

	// VALID. Verify the payload extends our unsafe chain before telling the
	// engine to adopt it as head; a mismatch means a reorg that only
	// consolidation may perform. The engine's newPayload endpoint is not
	// called again on this path.
	if err := env.tracker.CheckExtendsUnsafe(ref); err != nil {
		return Outcome{Err: err}
	}

	fcRes, err := env.forkchoiceUpdate(ctx, eth.ForkchoiceState{
		HeadBlockHash:      ref.Hash,
		SafeBlockHash:      fc.Safe.Hash,
		FinalizedBlockHash: fc.Finalized.Hash,
	}, nil, false)
	if err != nil {
		return Outcome{Err: unavailableIfExhausted(err)}
	}
	switch fcRes.PayloadStatus.Status {
	case eth.ExecutionValid:
		// Commit only now: the head mutation becomes visible atomically after
		// the engine acknowledged the new forkchoice.
		if err := env.tracker.ProposeUnsafe(ref); err != nil {
			return Outcome{Err: err}
		}
		env.emitter.Emit(ctx, HeadAdvancedEvent{Ref: ref})
		env.log.Info("Inserted new unsafe block", "ref", ref,
			"txs", len(t.Envelope.ExecutionPayload.Transactions))
		return Outcome{Head: ref}
	case eth.ExecutionSyncing:
		return Outcome{Deferred: true}
	default:
		return Outcome{Err: fmt.Errorf("cannot adopt new unsafe head %s: %w",
			ref.ID(), eth.ForkchoiceUpdateErr(fcRes.PayloadStatus))}
	}
}
