package eth

import (
	"github.com/ethereum/go-ethereum/common"
)

// BlockLabel names a search-head of the execution engine.
type BlockLabel string

const (
	// Unsafe is the tip of the chain as locally extended, not yet derived from L1.
	Unsafe BlockLabel = "latest"
	// Safe is the head derived from canonical L1 data.
	Safe BlockLabel = "safe"
	// Finalized is the head that can no longer reorg per the underlying L1 finality.
	Finalized BlockLabel = "finalized"
)

// BlockRef is a minimal identifier of a block: enough to order it,
// link it to its parent, and verify it against a fetched block.
// It is a small value type, copied freely.
type BlockRef struct {
	Hash       common.Hash `json:"hash"`
	Number     uint64      `json:"number"`
	ParentHash common.Hash `json:"parentHash"`
	Time       uint64      `json:"timestamp"`
}

func (ref BlockRef) ID() BlockID {
	return BlockID{Hash: ref.Hash, Number: ref.Number}
}

func (ref BlockRef) ParentID() BlockID {
	n := ref.Number
	if n > 0 {
		n -= 1
	}
	return BlockID{Hash: ref.ParentHash, Number: n}
}

func (ref BlockRef) String() string {
	return ref.ID().String()
}

// TerminalString implements log.TerminalStringer, formatting a string for console
// output during logging.
func (ref BlockRef) TerminalString() string {
	return ref.ID().TerminalString()
}
