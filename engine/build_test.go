package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/testutils"
)

// codedRPCError mimics a JSON-RPC error response, as surfaced by the client.
type codedRPCError struct{ code int }

func (e codedRPCError) Error() string  { return fmt.Sprintf("rpc error %d", e.code) }
func (e codedRPCError) ErrorCode() int { return e.code }

func buildAttrs(parent eth.BlockRef) *eth.PayloadAttributes {
	return &eth.PayloadAttributes{
		Timestamp: hexutil.Uint64(parent.Time + 2),
		NoTxPool:  true,
	}
}

func TestBuildReturnsEnvelopeWithoutMovingHead(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(3)
	head := chain[len(chain)-1]
	built := testutils.NextRef(h.rng, head)

	id := eth.PayloadID{0x01}
	h.engine.ExpectForkchoiceUpdate(eth.ExecutionValid, &id, nil)
	h.engine.ExpectGetPayload(testutils.EnvelopeFor(built), nil)

	task := &BuildTask{Attributes: buildAttrs(head)}
	outcome := task.execute(context.Background(), h.env)

	require.NoError(t, outcome.Err)
	require.NotNil(t, outcome.Envelope)
	require.Equal(t, built, outcome.Envelope.ExecutionPayload.BlockRef())
	require.Equal(t, head, h.tracker.Current().Unsafe, "building must not move the head")

	calls := h.engine.Calls()
	require.Equal(t, "forkchoiceUpdated", calls[0].Method)
	require.NotNil(t, calls[0].Attrs)
	require.Equal(t, "getPayload", calls[1].Method)
	require.Equal(t, id, calls[1].Info.ID)
}

func TestBuildDeferredWhileSyncing(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(2)

	h.engine.ExpectForkchoiceUpdate(eth.ExecutionSyncing, nil, nil)
	task := &BuildTask{Attributes: buildAttrs(chain[1])}
	outcome := task.execute(context.Background(), h.env)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Deferred)
	require.Equal(t, 0, h.engine.CallCount("getPayload"))
}

func TestBuildMissingPayloadID(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(2)

	h.engine.ExpectForkchoiceUpdate(eth.ExecutionValid, nil, nil)
	task := &BuildTask{Attributes: buildAttrs(chain[1])}
	outcome := task.execute(context.Background(), h.env)

	var malformed *MalformedResponseError
	require.ErrorAs(t, outcome.Err, &malformed)
	require.Equal(t, "forkchoiceUpdated", malformed.Method)
	require.Equal(t, 0, h.engine.CallCount("getPayload"))
}

func TestBuildJobExpired(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(2)

	id := eth.PayloadID{0x02}
	h.engine.ExpectForkchoiceUpdate(eth.ExecutionValid, &id, nil)
	h.engine.ExpectGetPayload(nil, codedRPCError{code: int(eth.UnknownPayload)})

	task := &BuildTask{Attributes: buildAttrs(chain[1])}
	outcome := task.execute(context.Background(), h.env)

	require.Error(t, outcome.Err)
	code, ok := errorCodeOf(outcome.Err)
	require.True(t, ok)
	require.Equal(t, eth.UnknownPayload, code)
	// A rejected job is terminal; the retry budget must not be spent on it.
	require.Equal(t, 1, h.engine.CallCount("getPayload"))
}

func TestBuildRejectsMismatchedPayload(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(2)
	head := chain[1]

	// Sealed payload claims a different parent than the build target.
	wrong := testutils.NextRef(h.rng, chain[0])
	id := eth.PayloadID{0x03}
	h.engine.ExpectForkchoiceUpdate(eth.ExecutionValid, &id, nil)
	h.engine.ExpectGetPayload(testutils.EnvelopeFor(wrong), nil)

	task := &BuildTask{Attributes: buildAttrs(head)}
	outcome := task.execute(context.Background(), h.env)

	require.Error(t, outcome.Err)
	require.Nil(t, outcome.Envelope)
	require.Equal(t, head, h.tracker.Current().Unsafe)
}
