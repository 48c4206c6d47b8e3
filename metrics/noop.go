package metrics

import (
	"time"

	"github.com/mantlenetworkio/engine-driver/eth"
)

// NoopMetrics discards all measurements; used in tests and tooling.
type NoopMetrics struct{}

var _ Metricer = NoopMetrics{}

func (NoopMetrics) RecordHeadRef(name string, ref eth.BlockRef)                        {}
func (NoopMetrics) RecordTaskResult(kind string, result string)                        {}
func (NoopMetrics) RecordEngineCall(method string, duration time.Duration, err error)  {}
func (NoopMetrics) RecordSyncStatus(syncing bool)                                      {}
func (NoopMetrics) RecordReorgDepth(depth uint64)                                      {}
func (NoopMetrics) RecordQueueLength(n int)                                            {}
