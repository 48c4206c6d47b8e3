package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/testutils"
)

func TestConsolidateResolvesReorg(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(6)

	// Canonical history diverges after chain[2]: three fork blocks replace the
	// local chain[3..5].
	fork := testutils.Chain(h.rng, testutils.NextRef(h.rng, chain[2]), 3)
	remote := append(append([]eth.BlockRef{}, chain[:3]...), fork...)
	tip := fork[len(fork)-1]

	task := &ConsolidateTask{Chain: remote}
	outcome := task.execute(context.Background(), h.env)

	require.NoError(t, outcome.Err)
	require.Equal(t, tip, outcome.Head)
	fc := h.tracker.Current()
	require.Equal(t, tip, fc.Unsafe)
	require.Equal(t, chain[0], fc.Safe, "safe head below the ancestor survives")
	require.Equal(t, 1, h.events.countOf("reorg-detected"))

	calls := h.engine.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "forkchoiceUpdated", calls[0].Method)
	require.Equal(t, tip.Hash, calls[0].FC.HeadBlockHash)

	// The adopted segment is now part of the tracked ancestry, so follow-up
	// promotions along it verify.
	require.NoError(t, h.tracker.CheckPromoteSafe(fork[0]))
}

func TestConsolidateClampsHeadsAboveAncestor(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(6)
	require.NoError(t, h.tracker.PromoteSafe(chain[4]))
	require.NoError(t, h.tracker.PromoteFinalized(chain[3]))

	fork := testutils.Chain(h.rng, testutils.NextRef(h.rng, chain[2]), 4)
	remote := append(append([]eth.BlockRef{}, chain[:3]...), fork...)

	task := &ConsolidateTask{Chain: remote}
	outcome := task.execute(context.Background(), h.env)

	require.NoError(t, outcome.Err)
	fc := h.tracker.Current()
	// Safe and finalized referenced the abandoned branch; both fall back to
	// the common ancestor.
	require.Equal(t, chain[2], fc.Safe)
	require.Equal(t, chain[2], fc.Finalized)
}

func TestConsolidateNoopOnPrefix(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(6)

	// The supplied segment is a strict prefix of the local chain: nothing
	// diverged, so the head stays and no engine call is made.
	task := &ConsolidateTask{Chain: chain[1:4]}
	outcome := task.execute(context.Background(), h.env)

	require.NoError(t, outcome.Err)
	require.Equal(t, chain[5], outcome.Head)
	require.Equal(t, chain[5], h.tracker.Current().Unsafe)
	require.Equal(t, 0, h.engine.CallCount("forkchoiceUpdated"))
	require.Equal(t, 0, h.events.countOf("reorg-detected"))
}

func TestConsolidateTooDeep(t *testing.T) {
	cfg := testConfig()
	cfg.ReorgDepthLimit = 3
	h := setupTaskTest(t, cfg)
	chain := h.seedChain(8)

	// Divergence right after chain[1], six blocks below the head: past the
	// depth limit, so the task refuses and leaves everything untouched.
	fork := testutils.Chain(h.rng, testutils.NextRef(h.rng, chain[1]), 6)
	remote := append(append([]eth.BlockRef{}, chain[:2]...), fork...)

	task := &ConsolidateTask{Chain: remote}
	outcome := task.execute(context.Background(), h.env)

	require.ErrorIs(t, outcome.Err, ErrReorgTooDeep)
	require.Equal(t, chain[7], h.tracker.Current().Unsafe)
	require.Equal(t, 0, h.engine.CallCount("forkchoiceUpdated"))
	require.Equal(t, 0, h.events.countOf("reorg-detected"))
}

func TestConsolidateInvalidVerdict(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	chain := h.seedChain(4)

	fork := testutils.Chain(h.rng, testutils.NextRef(h.rng, chain[1]), 3)
	remote := append(append([]eth.BlockRef{}, chain[:2]...), fork...)

	h.engine.ExpectForkchoiceUpdate(eth.ExecutionInvalid, nil, nil)
	task := &ConsolidateTask{Chain: remote}
	outcome := task.execute(context.Background(), h.env)

	require.ErrorIs(t, outcome.Err, ErrConsolidationFailed)
	require.Equal(t, 0, h.events.countOf("reorg-detected"))
}

func TestConsolidateRequiresChain(t *testing.T) {
	h := setupTaskTest(t, testConfig())
	h.seedChain(2)

	task := &ConsolidateTask{}
	outcome := task.execute(context.Background(), h.env)
	require.Error(t, outcome.Err)
	require.Equal(t, 0, h.engine.CallCount("forkchoiceUpdated"))
}
