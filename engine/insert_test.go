package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/testutils"
)

func TestInsertUnsafeAdvancesHead(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(3)
	head := chain[len(chain)-1]
	next := testutils.NextRef(h.rng, head)

	task := &InsertUnsafeTask{Envelope: testutils.EnvelopeFor(next)}
	outcome := task.execute(context.Background(), h.env)

	require.NoError(t, outcome.Err)
	require.Equal(t, next, outcome.Head)
	require.Equal(t, next, h.tracker.Current().Unsafe)
	require.Equal(t, chain[0], h.tracker.Current().Safe, "safe head untouched")
	require.Equal(t, 1, h.engine.CallCount("newPayload"))
	require.Equal(t, 1, h.engine.CallCount("forkchoiceUpdated"))
	require.Equal(t, 1, h.events.countOf("head-advanced"))

	// The forkchoice update promoted head only; safe/finalized kept.
	calls := h.engine.Calls()
	fcu := calls[len(calls)-1]
	require.Equal(t, next.Hash, fcu.FC.HeadBlockHash)
	require.Equal(t, chain[0].Hash, fcu.FC.SafeBlockHash)
	require.Equal(t, chain[0].Hash, fcu.FC.FinalizedBlockHash)
}

func TestInsertUnsafeIdempotent(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(3)
	head := chain[len(chain)-1]

	// Re-submitting the current head succeeds without engine calls and
	// without violating head monotonicity.
	task := &InsertUnsafeTask{Envelope: testutils.EnvelopeFor(head)}
	outcome := task.execute(context.Background(), h.env)

	require.NoError(t, outcome.Err)
	require.Equal(t, head, outcome.Head)
	require.Equal(t, head, h.tracker.Current().Unsafe)
	require.Equal(t, 0, h.engine.CallCount("newPayload"))
	require.Equal(t, 0, h.engine.CallCount("forkchoiceUpdated"))
}

func TestInsertUnsafeRejectedPayload(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(3)
	next := testutils.NextRef(h.rng, chain[len(chain)-1])

	h.engine.ExpectNewPayload(eth.ExecutionInvalid, "bad state root", nil)
	task := &InsertUnsafeTask{Envelope: testutils.EnvelopeFor(next)}
	outcome := task.execute(context.Background(), h.env)

	var rejected *RejectedPayloadError
	require.ErrorAs(t, outcome.Err, &rejected)
	require.Equal(t, next.ID(), rejected.ID)
	require.Equal(t, "bad state root", rejected.Reason)
	require.Equal(t, chain[len(chain)-1], h.tracker.Current().Unsafe, "no mutation on rejection")
	require.Equal(t, 0, h.engine.CallCount("forkchoiceUpdated"), "no forkchoice update for rejected payload")
}

func TestInsertUnsafeDeferredWhileSyncing(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(3)
	h.markReady(t)
	next := testutils.NextRef(h.rng, chain[len(chain)-1])

	h.engine.ExpectNewPayload(eth.ExecutionSyncing, "", nil)
	task := &InsertUnsafeTask{Envelope: testutils.EnvelopeFor(next)}
	outcome := task.execute(context.Background(), h.env)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Deferred)
	require.Equal(t, chain[len(chain)-1], h.tracker.Current().Unsafe)
	// Observing SYNCING demotes readiness.
	require.Equal(t, ExecutionEngineSyncing, h.monitor.Status())
}

func TestInsertUnsafeReorgRequired(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(3)

	// A payload branching off an older block: valid to execute, but not an
	// extension of the tracked head.
	fork := testutils.NextRef(h.rng, chain[1])
	task := &InsertUnsafeTask{Envelope: testutils.EnvelopeFor(fork)}
	outcome := task.execute(context.Background(), h.env)

	require.ErrorIs(t, outcome.Err, ErrReorgRequired)
	require.Equal(t, 1, h.engine.CallCount("newPayload"), "submit endpoint called exactly once")
	require.Equal(t, 0, h.engine.CallCount("forkchoiceUpdated"))
	require.Equal(t, chain[len(chain)-1], h.tracker.Current().Unsafe)
}

func TestInsertUnsafeRetriesTransportErrors(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(2)
	next := testutils.NextRef(h.rng, chain[len(chain)-1])

	h.engine.ExpectNewPayload("", "", errors.New("connection refused"))
	h.engine.ExpectNewPayload("", "", errors.New("connection refused"))
	h.engine.ExpectNewPayload(eth.ExecutionValid, "", nil)

	task := &InsertUnsafeTask{Envelope: testutils.EnvelopeFor(next)}
	outcome := task.execute(context.Background(), h.env)

	require.NoError(t, outcome.Err)
	require.Equal(t, next, h.tracker.Current().Unsafe)
	require.Equal(t, 3, h.engine.CallCount("newPayload"))
	require.Len(t, h.clk.Waits(), 2, "two backoff delays before the third attempt")
}

func TestInsertUnsafeBudgetExhausted(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(2)
	next := testutils.NextRef(h.rng, chain[len(chain)-1])

	for i := 0; i < 3; i++ {
		h.engine.ExpectNewPayload("", "", errors.New("timeout awaiting response"))
	}
	task := &InsertUnsafeTask{Envelope: testutils.EnvelopeFor(next)}
	outcome := task.execute(context.Background(), h.env)

	require.ErrorIs(t, outcome.Err, ErrEngineUnavailable)
	require.Equal(t, chain[len(chain)-1], h.tracker.Current().Unsafe)
}
