package engine

import (
	"errors"
	"fmt"

	"github.com/mantlenetworkio/engine-driver/eth"
)

var (
	// ErrReorgRequired is returned when a proposed unsafe head does not extend
	// the current unsafe chain. The caller must trigger consolidation.
	ErrReorgRequired = errors.New("new unsafe head does not extend current unsafe chain, reorg required")

	// ErrUnreconciled is returned when a safe/finalized promotion target is not
	// a known ancestor of the head it must be under. The caller must re-derive.
	ErrUnreconciled = errors.New("promotion target is not an ancestor of the chain head")

	// ErrReorgTooDeep is fatal: the divergence from the derivation-supplied
	// chain exceeds the configured depth limit and cannot be resolved safely.
	// The driver refuses unsafe-chain progress until a consolidation succeeds.
	ErrReorgTooDeep = errors.New("reorg exceeds configured depth limit")

	// ErrEngineUnavailable is returned when the retry budget for a task was
	// exhausted without the engine becoming responsive.
	ErrEngineUnavailable = errors.New("execution engine unavailable, retry attempts exhausted")

	// ErrConsolidationFailed is returned when the engine rejects a forkchoice
	// state the tracker considered consistent. The caller must re-derive.
	ErrConsolidationFailed = errors.New("engine rejected forkchoice target")

	// ErrTaskCancelled resolves tasks that were cancelled while still queued.
	// A task that already issued its first engine call always runs to completion.
	ErrTaskCancelled = errors.New("task cancelled before execution")

	// ErrQueueClosed resolves tasks submitted to, or still queued in, a closed queue.
	ErrQueueClosed = errors.New("task queue closed")
)

// RejectedPayloadError is terminal for the payload that caused it: the engine
// executed it and judged it invalid. No retry can change the verdict.
type RejectedPayloadError struct {
	ID     eth.BlockID
	Reason string
}

func (e *RejectedPayloadError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("payload %s rejected by engine", e.ID)
	}
	return fmt.Sprintf("payload %s rejected by engine: %s", e.ID, e.Reason)
}

// MalformedResponseError flags an engine response outside the protocol,
// e.g. an unrecognized payload status. Terminal: retrying cannot help.
type MalformedResponseError struct {
	Method string
	Detail string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %s", e.Method, e.Detail)
}
