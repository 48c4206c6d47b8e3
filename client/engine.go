package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/metrics"
)

// Default per-call timeouts. Forkchoice updates and payload insertion may
// trigger work on the engine side; block-by-label reads are cheap.
const (
	DefaultCallTimeout  = time.Second * 10
	DefaultFetchTimeout = time.Second * 5
)

type EngineClientConfig struct {
	// CallTimeout bounds engine_* calls. Zero selects DefaultCallTimeout.
	CallTimeout time.Duration
	// FetchTimeout bounds chain reads (eth_getBlockByNumber). Zero selects DefaultFetchTimeout.
	FetchTimeout time.Duration
}

// EngineClient issues individual engine API operations against the execution
// peer. It is stateless: every method is a single request/response exchange,
// and the caller owns all sequencing.
type EngineClient struct {
	log     log.Logger
	rpc     RPC
	metrics metrics.Metricer

	callTimeout  time.Duration
	fetchTimeout time.Duration
}

func NewEngineClient(logger log.Logger, rpc RPC, m metrics.Metricer, cfg EngineClientConfig) *EngineClient {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	return &EngineClient{
		log:          logger,
		rpc:          rpc,
		metrics:      m,
		callTimeout:  cfg.CallTimeout,
		fetchTimeout: cfg.FetchTimeout,
	}
}

func (c *EngineClient) Close() {
	c.rpc.Close()
}

func (c *EngineClient) call(ctx context.Context, timeout time.Duration, result any, method string, args ...any) error {
	cCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := c.rpc.CallContext(cCtx, result, method, args...)
	c.metrics.RecordEngineCall(method, time.Since(start), err)
	return checkAuthError(err)
}

// NewPayload submits a payload for execution. The method version is chosen
// from the fields the payload carries.
func (c *EngineClient) NewPayload(ctx context.Context, payload *eth.ExecutionPayload, parentBeaconBlockRoot *common.Hash) (*eth.PayloadStatusV1, error) {
	c.log.Trace("sending payload for execution", "id", payload.ID(), "parent", payload.ParentHash)
	var result eth.PayloadStatusV1
	var err error
	switch {
	case parentBeaconBlockRoot != nil:
		err = c.call(ctx, c.callTimeout, &result, "engine_newPayloadV3",
			payload, []common.Hash{}, parentBeaconBlockRoot)
	case payload.Withdrawals != nil:
		err = c.call(ctx, c.callTimeout, &result, "engine_newPayloadV2", payload)
	default:
		err = c.call(ctx, c.callTimeout, &result, "engine_newPayloadV1", payload)
	}
	if err != nil {
		return nil, fmt.Errorf("engine newPayload for %s failed: %w", payload.ID(), err)
	}
	return &result, nil
}

// ForkchoiceUpdate notifies the engine of the new forkchoice triple,
// optionally starting a block-building job when attributes are given.
func (c *EngineClient) ForkchoiceUpdate(ctx context.Context, fc *eth.ForkchoiceState, attributes *eth.PayloadAttributes) (*eth.ForkchoiceUpdatedResult, error) {
	c.log.Trace("updating forkchoice", "head", fc.HeadBlockHash, "safe", fc.SafeBlockHash, "finalized", fc.FinalizedBlockHash, "building", attributes != nil)
	var result eth.ForkchoiceUpdatedResult
	method := "engine_forkchoiceUpdatedV1"
	switch {
	case attributes != nil && attributes.ParentBeaconBlockRoot != nil:
		method = "engine_forkchoiceUpdatedV3"
	case attributes != nil && attributes.Withdrawals != nil:
		method = "engine_forkchoiceUpdatedV2"
	}
	if err := c.call(ctx, c.callTimeout, &result, method, fc, attributes); err != nil {
		return nil, fmt.Errorf("engine forkchoiceUpdated failed: %w", err)
	}
	return &result, nil
}

// GetPayload fetches the result of a block-building job previously started
// through a forkchoice update with attributes.
func (c *EngineClient) GetPayload(ctx context.Context, payloadInfo eth.PayloadInfo) (*eth.ExecutionPayloadEnvelope, error) {
	c.log.Trace("fetching built payload", "payload_id", payloadInfo.ID)
	var result eth.ExecutionPayloadEnvelope
	if err := c.call(ctx, c.callTimeout, &result, "engine_getPayloadV3", payloadInfo.ID); err != nil {
		return nil, fmt.Errorf("engine getPayload for job %s failed: %w", payloadInfo.ID, err)
	}
	if result.ExecutionPayload == nil {
		return nil, fmt.Errorf("engine returned empty payload for job %s", payloadInfo.ID)
	}
	return &result, nil
}

// rpcBlock is the subset of an RPC block response needed to form a BlockRef.
type rpcBlock struct {
	Hash       common.Hash    `json:"hash"`
	Number     hexutil.Uint64 `json:"number"`
	ParentHash common.Hash    `json:"parentHash"`
	Time       hexutil.Uint64 `json:"timestamp"`
}

// BlockRefByLabel reads the engine's current head at the given safety label.
// Used once at startup to re-derive the forkchoice triple; no state is
// persisted by the driver itself.
func (c *EngineClient) BlockRefByLabel(ctx context.Context, label eth.BlockLabel) (eth.BlockRef, error) {
	var block *rpcBlock
	err := c.call(ctx, c.fetchTimeout, &block, "eth_getBlockByNumber", string(label), false)
	if err != nil {
		// Geth returns an error for safe/finalized before they exist; normalize it.
		return eth.BlockRef{}, eth.MaybeAsNotFoundErr(fmt.Errorf("failed to fetch %s block: %w", label, err))
	}
	if block == nil {
		return eth.BlockRef{}, ethereum.NotFound
	}
	return eth.BlockRef{
		Hash:       block.Hash,
		Number:     uint64(block.Number),
		ParentHash: block.ParentHash,
		Time:       uint64(block.Time),
	}, nil
}
