package eth

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Bytes256 is a 256-byte logs-bloom, hex-encoded on the wire.
type Bytes256 [256]byte

func (b Bytes256) MarshalText() ([]byte, error) {
	return hexutil.Bytes(b[:]).MarshalText()
}

func (b *Bytes256) UnmarshalText(text []byte) error {
	return hexutil.UnmarshalFixedText("Bytes256", text, b[:])
}

func (b Bytes256) String() string {
	return hexutil.Encode(b[:])
}

// Bytes32 is a fixed 32-byte value, hex-encoded on the wire.
// Used for randao values and JWT secrets.
type Bytes32 [32]byte

func (b Bytes32) MarshalText() ([]byte, error) {
	return hexutil.Bytes(b[:]).MarshalText()
}

func (b *Bytes32) UnmarshalText(text []byte) error {
	return hexutil.UnmarshalFixedText("Bytes32", text, b[:])
}

func (b Bytes32) String() string {
	return hexutil.Encode(b[:])
}

// Data is opaque binary data, e.g. an encoded transaction.
type Data = hexutil.Bytes

// ExecutionPayload is the engine-API representation of a fully formed block.
type ExecutionPayload struct {
	ParentHash    common.Hash     `json:"parentHash"`
	FeeRecipient  common.Address  `json:"feeRecipient"`
	StateRoot     common.Hash     `json:"stateRoot"`
	ReceiptsRoot  common.Hash     `json:"receiptsRoot"`
	LogsBloom     Bytes256        `json:"logsBloom"`
	PrevRandao    Bytes32         `json:"prevRandao"`
	BlockNumber   hexutil.Uint64  `json:"blockNumber"`
	GasLimit      hexutil.Uint64  `json:"gasLimit"`
	GasUsed       hexutil.Uint64  `json:"gasUsed"`
	Timestamp     hexutil.Uint64  `json:"timestamp"`
	ExtraData     hexutil.Bytes   `json:"extraData"`
	BaseFeePerGas *hexutil.Big    `json:"baseFeePerGas"`
	BlockHash     common.Hash     `json:"blockHash"`
	Transactions  []Data          `json:"transactions"`
	// Withdrawals and blob fields are nil pre-activation of the respective forks.
	Withdrawals   *types.Withdrawals `json:"withdrawals,omitempty"`
	BlobGasUsed   *hexutil.Uint64    `json:"blobGasUsed,omitempty"`
	ExcessBlobGas *hexutil.Uint64    `json:"excessBlobGas,omitempty"`
}

func (payload *ExecutionPayload) ID() BlockID {
	return BlockID{Hash: payload.BlockHash, Number: uint64(payload.BlockNumber)}
}

func (payload *ExecutionPayload) ParentID() BlockID {
	n := uint64(payload.BlockNumber)
	if n > 0 {
		n -= 1
	}
	return BlockID{Hash: payload.ParentHash, Number: n}
}

// BlockRef folds the payload into the block reference it represents.
func (payload *ExecutionPayload) BlockRef() BlockRef {
	return BlockRef{
		Hash:       payload.BlockHash,
		Number:     uint64(payload.BlockNumber),
		ParentHash: payload.ParentHash,
		Time:       uint64(payload.Timestamp),
	}
}

// BlobsBundle holds the blob sidecar data of a freshly built payload.
type BlobsBundle struct {
	Commitments []hexutil.Bytes `json:"commitments"`
	Proofs      []hexutil.Bytes `json:"proofs"`
	Blobs       []hexutil.Bytes `json:"blobs"`
}

// ExecutionPayloadEnvelope is a payload plus the execution metadata the engine
// reports alongside it. Transient: it lives for the duration of one task.
type ExecutionPayloadEnvelope struct {
	ParentBeaconBlockRoot *common.Hash      `json:"parentBeaconBlockRoot,omitempty"`
	ExecutionPayload      *ExecutionPayload `json:"executionPayload"`
	BlockValue            *hexutil.Big      `json:"blockValue,omitempty"`
	BlobsBundle           *BlobsBundle      `json:"blobsBundle,omitempty"`
}

// PayloadAttributes requests the engine to build a block on top of the current head.
// Transactions are set for derivation-sourced payloads, and absent when the
// engine should build from its own mempool.
type PayloadAttributes struct {
	Timestamp             hexutil.Uint64     `json:"timestamp"`
	PrevRandao            Bytes32            `json:"prevRandao"`
	SuggestedFeeRecipient common.Address     `json:"suggestedFeeRecipient"`
	Withdrawals           *types.Withdrawals `json:"withdrawals,omitempty"`
	ParentBeaconBlockRoot *common.Hash       `json:"parentBeaconBlockRoot,omitempty"`
	Transactions          []Data             `json:"transactions,omitempty"`
	NoTxPool              bool               `json:"noTxPool,omitempty"`
	GasLimit              *hexutil.Uint64    `json:"gasLimit,omitempty"`
}
