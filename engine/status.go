package engine

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/event"
	"github.com/mantlenetworkio/engine-driver/metrics"
)

// SyncStatus classifies the readiness of the execution engine peer.
type SyncStatus int

const (
	// ExecutionEngineSyncing: the peer is still syncing; only promotions and
	// consolidation may proceed, new-chain work is held back.
	ExecutionEngineSyncing SyncStatus = iota
	// ExecutionEngineReady: the peer confirmed a forkchoice update as VALID
	// and accepts new-chain work.
	ExecutionEngineReady
)

func (s SyncStatus) String() string {
	switch s {
	case ExecutionEngineSyncing:
		return "syncing"
	case ExecutionEngineReady:
		return "ready"
	default:
		return "unknown"
	}
}

// SyncMonitor interprets engine verdicts into the two-state readiness
// machine: Syncing -> Ready only on a VALID forkchoice update, Ready ->
// Syncing on any SYNCING response. There is no terminal state; the driver
// re-enters Syncing whenever the peer restarts or falls behind.
type SyncMonitor struct {
	log     log.Logger
	metrics metrics.Metricer
	emitter event.Emitter

	mu          sync.RWMutex
	status      SyncStatus
	lastVerdict eth.ExecutePayloadStatus
}

func NewSyncMonitor(logger log.Logger, m metrics.Metricer, emitter event.Emitter) *SyncMonitor {
	m.RecordSyncStatus(true)
	return &SyncMonitor{
		log:     logger,
		metrics: m,
		emitter: emitter,
		status:  ExecutionEngineSyncing,
	}
}

// Status returns the current readiness classification.
func (m *SyncMonitor) Status() SyncStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastVerdict returns the most recently observed engine verdict.
func (m *SyncMonitor) LastVerdict() eth.ExecutePayloadStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastVerdict
}

// OnForkchoiceResult feeds the verdict of a forkchoice update into the state
// machine. Only this path can promote the peer to Ready.
func (m *SyncMonitor) OnForkchoiceResult(ctx context.Context, status eth.ExecutePayloadStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastVerdict = status
	switch status {
	case eth.ExecutionValid:
		m.transition(ctx, ExecutionEngineReady)
	case eth.ExecutionSyncing:
		m.transition(ctx, ExecutionEngineSyncing)
	}
}

// OnPayloadResult feeds the verdict of a payload submission. Payload verdicts
// can demote to Syncing but never promote: readiness requires the engine to
// acknowledge the full forkchoice triple.
func (m *SyncMonitor) OnPayloadResult(ctx context.Context, status eth.ExecutePayloadStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastVerdict = status
	if status == eth.ExecutionSyncing {
		m.transition(ctx, ExecutionEngineSyncing)
	}
}

func (m *SyncMonitor) transition(ctx context.Context, next SyncStatus) {
	if m.status == next {
		return
	}
	m.log.Info("Execution engine sync status changed", "from", m.status, "to", next)
	m.status = next
	m.metrics.RecordSyncStatus(next == ExecutionEngineSyncing)
	m.emitter.Emit(ctx, SyncStatusEvent{Status: next})
}
