package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/metrics"
)

// Forkchoice is the tracked triple of canonical heads.
// Invariant: Finalized.Number <= Safe.Number <= Unsafe.Number, and each is an
// ancestor of the next-higher one whenever that ancestry has been verified.
type Forkchoice struct {
	Unsafe    eth.BlockRef
	Safe      eth.BlockRef
	Finalized eth.BlockRef
}

// State is the wire form of the triple, as sent on forkchoice updates.
func (f Forkchoice) State() eth.ForkchoiceState {
	return eth.ForkchoiceState{
		HeadBlockHash:      f.Unsafe.Hash,
		SafeBlockHash:      f.Safe.Hash,
		FinalizedBlockHash: f.Finalized.Hash,
	}
}

// ForkchoiceTracker is the only writer of canonical head state. All mutation
// goes through its promotion methods; ForceReset is reserved for consolidation
// and the startup re-derivation. Reads always observe a complete triple.
type ForkchoiceTracker struct {
	log     log.Logger
	metrics metrics.Metricer

	mu      sync.RWMutex
	current Forkchoice
	// unreconciled is set when a promotion was refused because ancestry could
	// not be verified. Cleared by ForceReset.
	unreconciled bool

	// ancestry caches recent refs by hash, giving the tracker its local view
	// of parent links for bounded ancestor walks.
	ancestry   *lru.Cache[common.Hash, eth.BlockRef]
	depthLimit uint64
}

func NewForkchoiceTracker(logger log.Logger, m metrics.Metricer, cfg Config) *ForkchoiceTracker {
	// Size is validated by Config.Check; this can only fail on size < 1.
	cache, err := lru.New[common.Hash, eth.BlockRef](cfg.AncestryCacheSize)
	if err != nil {
		panic(fmt.Errorf("invalid ancestry cache size: %w", err))
	}
	return &ForkchoiceTracker{
		log:        logger,
		metrics:    m,
		ancestry:   cache,
		depthLimit: cfg.ReorgDepthLimit,
	}
}

// Current returns a snapshot of the tracked triple.
func (t *ForkchoiceTracker) Current() Forkchoice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Unreconciled reports whether the last refused promotion left the triple in
// a state that needs re-derivation or consolidation.
func (t *ForkchoiceTracker) Unreconciled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unreconciled
}

// Remember records a block ref in the ancestry cache without changing heads.
// Consolidation seeds the derivation-supplied chain through this.
func (t *ForkchoiceTracker) Remember(ref eth.BlockRef) {
	if ref == (eth.BlockRef{}) {
		return
	}
	t.ancestry.Add(ref.Hash, ref)
}

// Ref looks up a cached block ref by hash.
func (t *ForkchoiceTracker) Ref(hash common.Hash) (eth.BlockRef, bool) {
	return t.ancestry.Get(hash)
}

// CheckExtendsUnsafe validates that ref extends the current unsafe head by
// exactly one block, without mutating anything.
func (t *ForkchoiceTracker) CheckExtendsUnsafe(ref eth.BlockRef) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkExtendsUnsafe(ref)
}

func (t *ForkchoiceTracker) checkExtendsUnsafe(ref eth.BlockRef) error {
	if ref.Number <= t.current.Unsafe.Number {
		return fmt.Errorf("%w: number %d does not advance past head %s",
			ErrReorgRequired, ref.Number, t.current.Unsafe)
	}
	if ref.ParentHash != t.current.Unsafe.Hash {
		return fmt.Errorf("%w: parent %s of %s does not match head %s",
			ErrReorgRequired, ref.ParentHash, ref.ID(), t.current.Unsafe)
	}
	return nil
}

// ProposeUnsafe advances the unsafe head. The new ref must build directly on
// the current head; anything else is ErrReorgRequired and must go through
// consolidation instead.
func (t *ForkchoiceTracker) ProposeUnsafe(ref eth.BlockRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkExtendsUnsafe(ref); err != nil {
		return err
	}
	t.current.Unsafe = ref
	t.ancestry.Add(ref.Hash, ref)
	t.metrics.RecordHeadRef("unsafe", ref)
	return nil
}

// CheckPromoteSafe validates a safe-head promotion without committing it.
func (t *ForkchoiceTracker) CheckPromoteSafe(ref eth.BlockRef) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkPromotion(ref, t.current.Safe, t.current.Unsafe, "unsafe")
}

// PromoteSafe commits a safe-head promotion. The target must be an
// ancestor-or-equal of the current unsafe head within the depth limit,
// and may never decrease the safe number.
func (t *ForkchoiceTracker) PromoteSafe(ref eth.BlockRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkPromotion(ref, t.current.Safe, t.current.Unsafe, "unsafe"); err != nil {
		t.unreconciled = true
		return err
	}
	t.current.Safe = ref
	t.ancestry.Add(ref.Hash, ref)
	t.metrics.RecordHeadRef("safe", ref)
	return nil
}

// CheckPromoteFinalized validates a finalized-head promotion without committing it.
func (t *ForkchoiceTracker) CheckPromoteFinalized(ref eth.BlockRef) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkPromotion(ref, t.current.Finalized, t.current.Safe, "safe")
}

// PromoteFinalized commits a finalized-head promotion, checked against the
// current safe head.
func (t *ForkchoiceTracker) PromoteFinalized(ref eth.BlockRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkPromotion(ref, t.current.Finalized, t.current.Safe, "safe"); err != nil {
		t.unreconciled = true
		return err
	}
	t.current.Finalized = ref
	t.ancestry.Add(ref.Hash, ref)
	t.metrics.RecordHeadRef("finalized", ref)
	return nil
}

func (t *ForkchoiceTracker) checkPromotion(ref, prev, upper eth.BlockRef, upperName string) error {
	if ref.Number < prev.Number {
		return fmt.Errorf("%w: promotion to %s would decrease head from %s", ErrUnreconciled, ref.ID(), prev)
	}
	if !t.isAncestorOrEqual(ref, upper) {
		return fmt.Errorf("%w: %s is not a verified ancestor of %s head %s", ErrUnreconciled, ref.ID(), upperName, upper)
	}
	return nil
}

// isAncestorOrEqual walks cached parent links down from tip, at most
// depthLimit steps. An unverifiable link counts as a failure: promotions must
// never be accepted on guesswork.
func (t *ForkchoiceTracker) isAncestorOrEqual(ref, tip eth.BlockRef) bool {
	cur := tip
	for depth := uint64(0); depth <= t.depthLimit; depth++ {
		if cur.Hash == ref.Hash {
			return true
		}
		if cur.Number <= ref.Number {
			return false // walked past the target height without a match
		}
		parent, ok := t.ancestry.Get(cur.ParentHash)
		if !ok {
			return false
		}
		cur = parent
	}
	return false
}

// ForceReset unconditionally overwrites the triple. This is the only
// operation allowed to move heads backward; consolidation uses it after a
// confirmed reorg, and the driver uses it once at startup.
func (t *ForkchoiceTracker) ForceReset(fc Forkchoice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = fc
	t.unreconciled = false
	t.ancestry.Add(fc.Unsafe.Hash, fc.Unsafe)
	t.ancestry.Add(fc.Safe.Hash, fc.Safe)
	t.ancestry.Add(fc.Finalized.Hash, fc.Finalized)
	t.metrics.RecordHeadRef("unsafe", fc.Unsafe)
	t.metrics.RecordHeadRef("safe", fc.Safe)
	t.metrics.RecordHeadRef("finalized", fc.Finalized)
	t.log.Info("Forkchoice state reset",
		"unsafe", fc.Unsafe, "safe", fc.Safe, "finalized", fc.Finalized)
}
