package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ExecutePayloadStatus is the verdict of the engine on a submitted payload
// or forkchoice state.
type ExecutePayloadStatus string

const (
	// ExecutionValid: given payload is valid
	ExecutionValid ExecutePayloadStatus = "VALID"
	// ExecutionInvalid: given payload is invalid
	ExecutionInvalid ExecutePayloadStatus = "INVALID"
	// ExecutionSyncing: sync process is in progress
	ExecutionSyncing ExecutePayloadStatus = "SYNCING"
	// ExecutionAccepted: returned if the payload was accepted on top of an active sync
	ExecutionAccepted ExecutePayloadStatus = "ACCEPTED"
	// ExecutionInvalidBlockHash: the block-hash of the payload did not match its contents
	ExecutionInvalidBlockHash ExecutePayloadStatus = "INVALID_BLOCK_HASH"
)

// Recognized reports whether the status is one the engine API defines.
// Anything else is a malformed response and must be treated as terminal.
func (s ExecutePayloadStatus) Recognized() bool {
	switch s {
	case ExecutionValid, ExecutionInvalid, ExecutionSyncing, ExecutionAccepted, ExecutionInvalidBlockHash:
		return true
	default:
		return false
	}
}

// Temporary reports whether the engine may later accept the same input:
// the peer is mid-sync, or optimistically accepted the payload.
func (s ExecutePayloadStatus) Temporary() bool {
	return s == ExecutionSyncing || s == ExecutionAccepted
}

type PayloadStatusV1 struct {
	Status          ExecutePayloadStatus `json:"status"`
	LatestValidHash *common.Hash         `json:"latestValidHash,omitempty"`
	ValidationError *string              `json:"validationError,omitempty"`
}

// ForkchoiceState is the wire form of the canonical-chain triple.
type ForkchoiceState struct {
	HeadBlockHash      common.Hash `json:"headBlockHash"`
	SafeBlockHash      common.Hash `json:"safeBlockHash"`
	FinalizedBlockHash common.Hash `json:"finalizedBlockHash"`
}

type ForkchoiceUpdatedResult struct {
	// PayloadStatus is the verdict on the new head block
	PayloadStatus PayloadStatusV1 `json:"payloadStatus"`
	// PayloadID is set when the update carried payload attributes and building started
	PayloadID *PayloadID `json:"payloadId"`
}

// ErrorCode is an engine-API JSON-RPC error code.
type ErrorCode int

const (
	UnknownPayload           ErrorCode = -38001 // Payload does not exist / is not available
	InvalidForkchoiceState   ErrorCode = -38002 // Forkchoice state is invalid / inconsistent
	InvalidPayloadAttributes ErrorCode = -38003 // Payload attributes are invalid / inconsistent
)

// InputError distinguishes an user-input error from regular rpc errors,
// to help the caller decide when to re-attempt a request.
type InputError struct {
	Inner error
	Code  ErrorCode
}

func (ie InputError) Error() string {
	return fmt.Sprintf("input error %d: %s", ie.Code, ie.Inner.Error())
}

func (ie InputError) Unwrap() error {
	return ie.Inner
}

// Is checks if the error is the given target type.
// Any type of InputError counts, regardless of code.
func (ie InputError) Is(target error) bool {
	_, ok := target.(InputError)
	return ok // we implement Unwrap, so we do not have to check the inner type now
}

// NewPayloadErr formats an error for a rejected payload submission.
func NewPayloadErr(payload *ExecutionPayload, payloadStatus *PayloadStatusV1) error {
	if payloadStatus.ValidationError != nil {
		return fmt.Errorf("payload %s was INVALID! Error: %s", payload.ID(), *payloadStatus.ValidationError)
	}
	return fmt.Errorf("payload %s was %s", payload.ID(), payloadStatus.Status)
}

// ForkchoiceUpdateErr formats an error for a failed forkchoice update.
func ForkchoiceUpdateErr(payloadStatus PayloadStatusV1) error {
	switch payloadStatus.Status {
	case ExecutionSyncing:
		return fmt.Errorf("updated forkchoice, but node is syncing")
	case ExecutionAccepted, ExecutionInvalidBlockHash:
		// ACCEPTED is only allowed on newPayload, not forkchoiceUpdated
		return fmt.Errorf("unexpected %s status, could not update forkchoice", payloadStatus.Status)
	case ExecutionInvalid:
		return fmt.Errorf("cannot update forkchoice, block is invalid")
	case ExecutionValid:
		return nil
	default:
		return fmt.Errorf("unknown forkchoice status on update: %q", string(payloadStatus.Status))
	}
}
