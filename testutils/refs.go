package testutils

import (
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mantlenetworkio/engine-driver/eth"
)

func RandomHash(rng *rand.Rand) (out common.Hash) {
	rng.Read(out[:])
	return
}

// RandomBlockRef creates a random block ref with consistent number/time.
func RandomBlockRef(rng *rand.Rand) eth.BlockRef {
	return eth.BlockRef{
		Hash:       RandomHash(rng),
		Number:     rng.Uint64() % 100_000,
		ParentHash: RandomHash(rng),
		Time:       rng.Uint64() % 2_000_000_000,
	}
}

// NextRef creates a random child block ref of the given parent.
func NextRef(rng *rand.Rand, parent eth.BlockRef) eth.BlockRef {
	return eth.BlockRef{
		Hash:       RandomHash(rng),
		Number:     parent.Number + 1,
		ParentHash: parent.Hash,
		Time:       parent.Time + 2,
	}
}

// Chain builds a linear chain of n block refs starting at (and including) start.
func Chain(rng *rand.Rand, start eth.BlockRef, n int) []eth.BlockRef {
	out := make([]eth.BlockRef, 0, n)
	out = append(out, start)
	for i := 1; i < n; i++ {
		out = append(out, NextRef(rng, out[i-1]))
	}
	return out
}

// EnvelopeFor wraps a block ref into a minimal execution payload envelope,
// consistent with the ref's hash, number, parent and time.
func EnvelopeFor(ref eth.BlockRef) *eth.ExecutionPayloadEnvelope {
	return &eth.ExecutionPayloadEnvelope{
		ExecutionPayload: &eth.ExecutionPayload{
			ParentHash:    ref.ParentHash,
			BlockNumber:   hexutil.Uint64(ref.Number),
			Timestamp:     hexutil.Uint64(ref.Time),
			BlockHash:     ref.Hash,
			BaseFeePerGas: new(hexutil.Big),
			Transactions:  []eth.Data{{0x01}},
		},
	}
}
