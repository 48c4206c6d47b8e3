// Package testutils provides fakes for driver tests: a scriptable engine API
// with call instrumentation and a deterministic clock.
package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mantlenetworkio/engine-driver/eth"
)

// EngineCall records one control-plane call observed by the fake engine.
type EngineCall struct {
	Method string
	FC     *eth.ForkchoiceState
	Attrs  *eth.PayloadAttributes
	// Payload is set for newPayload calls.
	Payload *eth.ExecutionPayload
	Info    eth.PayloadInfo
	Label   eth.BlockLabel
}

type fcuResult struct {
	res *eth.ForkchoiceUpdatedResult
	err error
}

type payloadResult struct {
	status *eth.PayloadStatusV1
	err    error
}

type getPayloadResult struct {
	envelope *eth.ExecutionPayloadEnvelope
	err      error
}

// FakeEngine is a scriptable engine API. Expectations are consumed FIFO per
// method; when none are queued, calls succeed with VALID defaults. Every call
// is recorded, and overlapping calls are counted to verify the single-flight
// property of the scheduler.
type FakeEngine struct {
	mu       sync.Mutex
	inFlight int
	overlaps int
	calls    []EngineCall

	// CallDelay widens the in-flight window, making overlap detection
	// effective under concurrent submission.
	CallDelay time.Duration

	newPayloadQ []payloadResult
	fcuQ        []fcuResult
	getPayloadQ []getPayloadResult

	refs map[eth.BlockLabel]eth.BlockRef
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		refs: make(map[eth.BlockLabel]eth.BlockRef),
	}
}

func (f *FakeEngine) enter(call EngineCall) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlaps++
	}
	f.calls = append(f.calls, call)
	delay := f.CallDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (f *FakeEngine) exit() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

// Overlaps reports how many calls started while another was in flight.
func (f *FakeEngine) Overlaps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlaps
}

// Calls returns a copy of all recorded calls, in order.
func (f *FakeEngine) Calls() []EngineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EngineCall{}, f.calls...)
}

// CallCount counts recorded calls of the given method.
func (f *FakeEngine) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ExpectNewPayload queues the result of the next newPayload call.
func (f *FakeEngine) ExpectNewPayload(status eth.ExecutePayloadStatus, validationErr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps := &eth.PayloadStatusV1{Status: status}
	if validationErr != "" {
		ps.ValidationError = &validationErr
	}
	f.newPayloadQ = append(f.newPayloadQ, payloadResult{status: ps, err: err})
}

// ExpectForkchoiceUpdate queues the result of the next forkchoiceUpdated call.
func (f *FakeEngine) ExpectForkchoiceUpdate(status eth.ExecutePayloadStatus, payloadID *eth.PayloadID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fcuQ = append(f.fcuQ, fcuResult{
		res: &eth.ForkchoiceUpdatedResult{
			PayloadStatus: eth.PayloadStatusV1{Status: status},
			PayloadID:     payloadID,
		},
		err: err,
	})
}

// ExpectGetPayload queues the result of the next getPayload call.
func (f *FakeEngine) ExpectGetPayload(envelope *eth.ExecutionPayloadEnvelope, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getPayloadQ = append(f.getPayloadQ, getPayloadResult{envelope: envelope, err: err})
}

// SetRef scripts the block returned for a label; unset labels yield NotFound.
func (f *FakeEngine) SetRef(label eth.BlockLabel, ref eth.BlockRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[label] = ref
}

func (f *FakeEngine) NewPayload(ctx context.Context, payload *eth.ExecutionPayload, parentBeaconBlockRoot *common.Hash) (*eth.PayloadStatusV1, error) {
	f.enter(EngineCall{Method: "newPayload", Payload: payload})
	defer f.exit()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.newPayloadQ) > 0 {
		r := f.newPayloadQ[0]
		f.newPayloadQ = f.newPayloadQ[1:]
		return r.status, r.err
	}
	return &eth.PayloadStatusV1{Status: eth.ExecutionValid}, nil
}

func (f *FakeEngine) ForkchoiceUpdate(ctx context.Context, fc *eth.ForkchoiceState, attr *eth.PayloadAttributes) (*eth.ForkchoiceUpdatedResult, error) {
	fcCopy := *fc
	f.enter(EngineCall{Method: "forkchoiceUpdated", FC: &fcCopy, Attrs: attr})
	defer f.exit()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fcuQ) > 0 {
		r := f.fcuQ[0]
		f.fcuQ = f.fcuQ[1:]
		return r.res, r.err
	}
	return &eth.ForkchoiceUpdatedResult{
		PayloadStatus: eth.PayloadStatusV1{Status: eth.ExecutionValid},
	}, nil
}

func (f *FakeEngine) GetPayload(ctx context.Context, payloadInfo eth.PayloadInfo) (*eth.ExecutionPayloadEnvelope, error) {
	f.enter(EngineCall{Method: "getPayload", Info: payloadInfo})
	defer f.exit()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.getPayloadQ) > 0 {
		r := f.getPayloadQ[0]
		f.getPayloadQ = f.getPayloadQ[1:]
		return r.envelope, r.err
	}
	return nil, fmt.Errorf("unexpected getPayload call for job %s", payloadInfo.ID)
}

func (f *FakeEngine) BlockRefByLabel(ctx context.Context, label eth.BlockLabel) (eth.BlockRef, error) {
	f.enter(EngineCall{Method: "blockRefByLabel", Label: label})
	defer f.exit()
	f.mu.Lock()
	defer f.mu.Unlock()
	if ref, ok := f.refs[label]; ok {
		return ref, nil
	}
	return eth.BlockRef{}, ethereum.NotFound
}
