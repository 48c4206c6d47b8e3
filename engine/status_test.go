package engine

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/event"
	"github.com/mantlenetworkio/engine-driver/metrics"
	"github.com/mantlenetworkio/engine-driver/testlog"
)

func TestSyncMonitorTransitions(t *testing.T) {
	ctx := context.Background()
	recorder := &eventRecorder{}
	sys := event.NewSys()
	sys.Attach(recorder)
	m := NewSyncMonitor(testlog.Logger(t, log.LevelError), metrics.NoopMetrics{}, sys)

	// Initial state is Syncing.
	require.Equal(t, ExecutionEngineSyncing, m.Status())

	// Payload verdicts never promote to Ready.
	m.OnPayloadResult(ctx, eth.ExecutionValid)
	require.Equal(t, ExecutionEngineSyncing, m.Status())
	m.OnPayloadResult(ctx, eth.ExecutionAccepted)
	require.Equal(t, ExecutionEngineSyncing, m.Status())

	// Only a VALID forkchoice update promotes.
	m.OnForkchoiceResult(ctx, eth.ExecutionValid)
	require.Equal(t, ExecutionEngineReady, m.Status())

	// Any SYNCING response demotes again.
	m.OnPayloadResult(ctx, eth.ExecutionSyncing)
	require.Equal(t, ExecutionEngineSyncing, m.Status())

	m.OnForkchoiceResult(ctx, eth.ExecutionValid)
	require.Equal(t, ExecutionEngineReady, m.Status())
	m.OnForkchoiceResult(ctx, eth.ExecutionSyncing)
	require.Equal(t, ExecutionEngineSyncing, m.Status())

	// INVALID verdicts affect the task, not the readiness classification.
	m.OnForkchoiceResult(ctx, eth.ExecutionValid)
	m.OnForkchoiceResult(ctx, eth.ExecutionInvalid)
	require.Equal(t, ExecutionEngineReady, m.Status())

	// Each genuine transition emitted exactly one event.
	require.Equal(t, 5, recorder.countOf("sync-status"))
}
