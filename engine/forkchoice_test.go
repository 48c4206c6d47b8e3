package engine

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/engine-driver/metrics"
	"github.com/mantlenetworkio/engine-driver/testlog"
	"github.com/mantlenetworkio/engine-driver/testutils"
)

func newTestTracker(t *testing.T) *ForkchoiceTracker {
	return NewForkchoiceTracker(testlog.Logger(t, log.LevelError), metrics.NoopMetrics{}, testConfig())
}

func TestProposeUnsafeMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tracker := newTestTracker(t)
	genesis := testutils.RandomBlockRef(rng)
	tracker.ForceReset(Forkchoice{Unsafe: genesis, Safe: genesis, Finalized: genesis})

	// A sequence of accepted proposals keeps the head strictly increasing,
	// each new head building on the previous one.
	cur := genesis
	for i := 0; i < 10; i++ {
		next := testutils.NextRef(rng, cur)
		require.NoError(t, tracker.ProposeUnsafe(next))
		got := tracker.Current().Unsafe
		require.Equal(t, next, got)
		require.Greater(t, got.Number, cur.Number)
		require.Equal(t, cur.Hash, got.ParentHash)
		cur = next
	}
}

func TestProposeUnsafeRejectsNonExtension(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tracker := newTestTracker(t)
	genesis := testutils.RandomBlockRef(rng)
	tracker.ForceReset(Forkchoice{Unsafe: genesis, Safe: genesis, Finalized: genesis})

	// Same number as head.
	sibling := testutils.RandomBlockRef(rng)
	sibling.Number = genesis.Number
	require.ErrorIs(t, tracker.ProposeUnsafe(sibling), ErrReorgRequired)

	// Right number, wrong parent.
	wrongParent := testutils.NextRef(rng, genesis)
	wrongParent.ParentHash = testutils.RandomHash(rng)
	require.ErrorIs(t, tracker.ProposeUnsafe(wrongParent), ErrReorgRequired)

	// Gap in numbers.
	gap := testutils.NextRef(rng, genesis)
	gap.Number += 5
	require.ErrorIs(t, tracker.ProposeUnsafe(gap), ErrReorgRequired)

	require.Equal(t, genesis, tracker.Current().Unsafe, "rejections must not mutate")
}

func TestPromoteSafeRequiresAncestry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tracker := newTestTracker(t)
	start := testutils.RandomBlockRef(rng)
	chain := testutils.Chain(rng, start, 6)
	tracker.ForceReset(Forkchoice{Unsafe: start, Safe: start, Finalized: start})
	for _, ref := range chain[1:] {
		require.NoError(t, tracker.ProposeUnsafe(ref))
	}

	// An ancestor of the unsafe head promotes fine.
	require.NoError(t, tracker.PromoteSafe(chain[3]))
	require.Equal(t, chain[3], tracker.Current().Safe)

	// Promoting to the head itself is allowed (ancestor-or-equal).
	require.NoError(t, tracker.PromoteSafe(chain[5]))

	// A block unknown to the local ancestry is refused.
	foreign := testutils.RandomBlockRef(rng)
	foreign.Number = chain[4].Number
	err := tracker.PromoteSafe(foreign)
	require.ErrorIs(t, err, ErrUnreconciled)
	require.True(t, tracker.Unreconciled())
	require.Equal(t, chain[5], tracker.Current().Safe, "refusal must not mutate")
}

func TestPromoteNeverDecreases(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tracker := newTestTracker(t)
	start := testutils.RandomBlockRef(rng)
	chain := testutils.Chain(rng, start, 5)
	tracker.ForceReset(Forkchoice{Unsafe: start, Safe: start, Finalized: start})
	for _, ref := range chain[1:] {
		require.NoError(t, tracker.ProposeUnsafe(ref))
	}
	require.NoError(t, tracker.PromoteSafe(chain[3]))

	// Moving the safe head back down is refused even though ancestry holds.
	require.ErrorIs(t, tracker.PromoteSafe(chain[1]), ErrUnreconciled)
	require.Equal(t, chain[3], tracker.Current().Safe)

	// Finalized follows the same rule, checked against the safe head.
	require.NoError(t, tracker.PromoteFinalized(chain[2]))
	require.ErrorIs(t, tracker.PromoteFinalized(chain[1]), ErrUnreconciled)
	require.Equal(t, chain[2], tracker.Current().Finalized)
}

func TestPromoteFinalizedBoundBySafe(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	tracker := newTestTracker(t)
	start := testutils.RandomBlockRef(rng)
	chain := testutils.Chain(rng, start, 6)
	tracker.ForceReset(Forkchoice{Unsafe: start, Safe: start, Finalized: start})
	for _, ref := range chain[1:] {
		require.NoError(t, tracker.ProposeUnsafe(ref))
	}
	require.NoError(t, tracker.PromoteSafe(chain[2]))

	// Finalizing past the safe head is refused: it is not an
	// ancestor-or-equal of the safe head.
	require.ErrorIs(t, tracker.PromoteFinalized(chain[4]), ErrUnreconciled)
	require.NoError(t, tracker.PromoteFinalized(chain[2]))
}

func TestForceResetOverridesEverything(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tracker := newTestTracker(t)
	start := testutils.RandomBlockRef(rng)
	chain := testutils.Chain(rng, start, 4)
	tracker.ForceReset(Forkchoice{Unsafe: chain[3], Safe: chain[1], Finalized: chain[0]})

	// Mark unreconciled, then reset backward. Both must be overridden.
	foreign := testutils.RandomBlockRef(rng)
	foreign.Number = chain[2].Number
	require.Error(t, tracker.PromoteSafe(foreign))
	require.True(t, tracker.Unreconciled())

	back := Forkchoice{Unsafe: chain[1], Safe: chain[0], Finalized: chain[0]}
	tracker.ForceReset(back)
	require.Equal(t, back, tracker.Current())
	require.False(t, tracker.Unreconciled())
}

func TestAncestryWalkBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	cfg := testConfig()
	cfg.ReorgDepthLimit = 4
	tracker := NewForkchoiceTracker(testlog.Logger(t, log.LevelError), metrics.NoopMetrics{}, cfg)
	start := testutils.RandomBlockRef(rng)
	chain := testutils.Chain(rng, start, 10)
	tracker.ForceReset(Forkchoice{Unsafe: start, Safe: start, Finalized: start})
	for _, ref := range chain[1:] {
		require.NoError(t, tracker.ProposeUnsafe(ref))
	}

	// Within the walk limit: ok. Beyond it: refused, even though the link
	// exists in the cache.
	require.NoError(t, tracker.PromoteSafe(chain[6]))
	tracker.ForceReset(Forkchoice{Unsafe: chain[9], Safe: start, Finalized: start})
	require.ErrorIs(t, tracker.PromoteSafe(chain[2]), ErrUnreconciled)
}
