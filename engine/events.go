package engine

import (
	"github.com/mantlenetworkio/engine-driver/eth"
)

// HeadAdvancedEvent signals that the unsafe head moved forward by one block.
type HeadAdvancedEvent struct {
	Ref eth.BlockRef
}

func (ev HeadAdvancedEvent) String() string {
	return "head-advanced"
}

// SafeAdvancedEvent signals that the safe head was promoted.
type SafeAdvancedEvent struct {
	Ref eth.BlockRef
}

func (ev SafeAdvancedEvent) String() string {
	return "safe-advanced"
}

// FinalizedAdvancedEvent signals that the finalized head was promoted.
type FinalizedAdvancedEvent struct {
	Ref eth.BlockRef
}

func (ev FinalizedAdvancedEvent) String() string {
	return "finalized-advanced"
}

// ReorgDetectedEvent signals that consolidation moved the unsafe head off the
// previously tracked chain. Emitted exactly once per resolved reorg.
type ReorgDetectedEvent struct {
	OldTip eth.BlockRef
	NewTip eth.BlockRef
}

func (ev ReorgDetectedEvent) String() string {
	return "reorg-detected"
}

// TaskFailedEvent surfaces a task's terminal failure to subscribers. The same
// error also resolves the task's Pending handle; no failure is ever dropped.
type TaskFailedEvent struct {
	Kind string
	Err  error
}

func (ev TaskFailedEvent) String() string {
	return "task-failed"
}

// SyncStatusEvent signals a transition of the engine readiness state machine.
type SyncStatusEvent struct {
	Status SyncStatus
}

func (ev SyncStatusEvent) String() string {
	return "sync-status"
}
