package eth

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BlockID identifies a block by hash and number.
type BlockID struct {
	Hash   common.Hash `json:"hash"`
	Number uint64      `json:"number"`
}

func (id BlockID) String() string {
	return fmt.Sprintf("%s:%d", id.Hash.String(), id.Number)
}

// TerminalString implements log.TerminalStringer, formatting a string for console
// output during logging.
func (id BlockID) TerminalString() string {
	return fmt.Sprintf("%s:%d", id.Hash.TerminalString(), id.Number)
}

// PayloadID identifies a block-building job started via a forkchoice update
// with payload attributes. Opaque to us, but unique per job per engine.
type PayloadID [8]byte

func (id PayloadID) String() string {
	return hexutil.Encode(id[:])
}

func (id PayloadID) MarshalText() ([]byte, error) {
	return hexutil.Bytes(id[:]).MarshalText()
}

func (id *PayloadID) UnmarshalText(text []byte) error {
	b := hexutil.Bytes{}
	if err := b.UnmarshalText(text); err != nil {
		return err
	}
	if len(b) != 8 {
		return fmt.Errorf("invalid payload ID length: %d", len(b))
	}
	copy(id[:], b)
	return nil
}

// Uint64 is a helper for deterministic test payload IDs.
func (id PayloadID) Uint64() uint64 {
	return binary.BigEndian.Uint64(id[:])
}

// PayloadInfo identifies a building job along with the timestamp
// of the block being built, used to derive the build deadline.
type PayloadInfo struct {
	ID        PayloadID
	Timestamp uint64
}
