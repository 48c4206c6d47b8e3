package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/retry"
)

// BuildTask asks the engine to build a new block on top of the target
// forkchoice and returns the sealed payload. Building never advances the
// canonical head; a follow-up InsertUnsafeTask (or promotion) does that.
type BuildTask struct {
	Attributes *eth.PayloadAttributes
	// Target is the forkchoice triple to build on. A zero Unsafe ref selects
	// the tracker's current state.
	Target Forkchoice
}

var _ EngineTask = (*BuildTask)(nil)

func (t *BuildTask) Kind() string { return KindBuild }

func (t *BuildTask) RunsWhileSyncing() bool { return false }

func (t *BuildTask) execute(ctx context.Context, env *taskEnv) Outcome {
	target := t.Target
	if target.Unsafe == (eth.BlockRef{}) {
		target = env.tracker.Current()
	}

	fcRes, err := env.forkchoiceUpdate(ctx, target.State(), t.Attributes, false)
	if err != nil {
		return Outcome{Err: unavailableIfExhausted(err)}
	}
	switch fcRes.PayloadStatus.Status {
	case eth.ExecutionSyncing:
		env.log.Info("Cannot start block building, engine is syncing", "parent", target.Unsafe)
		return Outcome{Deferred: true}
	case eth.ExecutionValid:
		// continue below
	default:
		return Outcome{Err: fmt.Errorf("cannot start block building on %s: %w",
			target.Unsafe.ID(), eth.ForkchoiceUpdateErr(fcRes.PayloadStatus))}
	}
	if fcRes.PayloadID == nil {
		return Outcome{Err: &MalformedResponseError{
			Method: "forkchoiceUpdated", Detail: "VALID build request without payload ID"}}
	}
	info := eth.PayloadInfo{ID: *fcRes.PayloadID, Timestamp: uint64(t.Attributes.Timestamp)}

	// The build job is useful up to its block's time slot, plus some slack for
	// the engine to seal. After that the job is expired and not worth polling.
	deadline := time.Unix(int64(info.Timestamp), 0).Add(env.cfg.BuildSlack)
	getCtx := ctx
	if remaining := deadline.Sub(env.clk.Now()); remaining > 0 {
		var cancel context.CancelFunc
		getCtx, cancel = context.WithTimeout(ctx, remaining)
		defer cancel()
	}

	envelope, err := retry.Do(getCtx, env.cfg.Retry, env.clk, func(ctx context.Context) (*eth.ExecutionPayloadEnvelope, error) {
		result, err := env.engine.GetPayload(ctx, info)
		if err != nil {
			return nil, permanentIfTerminal(err)
		}
		return result, nil
	})
	if err != nil {
		if code, ok := errorCodeOf(err); ok && code == eth.UnknownPayload {
			return Outcome{Err: fmt.Errorf("build job %s expired or unknown to the engine: %w", info.ID, err)}
		}
		return Outcome{Err: unavailableIfExhausted(err)}
	}

	if err := sanityCheckBuilt(envelope.ExecutionPayload, t.Attributes, target.Unsafe); err != nil {
		return Outcome{Err: fmt.Errorf("engine returned unusable payload for job %s: %w", info.ID, err)}
	}
	env.log.Info("Built new payload", "ref", envelope.ExecutionPayload.BlockRef(),
		"txs", len(envelope.ExecutionPayload.Transactions))
	return Outcome{Envelope: envelope}
}

func errorCodeOf(err error) (eth.ErrorCode, bool) {
	var inputErr eth.InputError
	if errors.As(err, &inputErr) {
		return inputErr.Code, true
	}
	return 0, false
}

// sanityCheckBuilt verifies the sealed payload matches the build request
// before handing it to the caller.
func sanityCheckBuilt(payload *eth.ExecutionPayload, attrs *eth.PayloadAttributes, parent eth.BlockRef) error {
	if payload.BlockHash == (common.Hash{}) {
		return errors.New("empty block hash")
	}
	if payload.ParentHash != parent.Hash {
		return fmt.Errorf("parent hash %s does not match build parent %s", payload.ParentHash, parent)
	}
	if uint64(payload.BlockNumber) != parent.Number+1 {
		return fmt.Errorf("block number %d does not extend parent %s", payload.BlockNumber, parent)
	}
	if payload.Timestamp != attrs.Timestamp {
		return fmt.Errorf("timestamp %d does not match requested %d", payload.Timestamp, attrs.Timestamp)
	}
	return nil
}
