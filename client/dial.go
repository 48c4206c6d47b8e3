package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/mantlenetworkio/engine-driver/eth"
	"github.com/mantlenetworkio/engine-driver/metrics"
)

const defaultDialTimeout = 10 * time.Second

// DialEngine connects to the authenticated engine endpoint (HTTP, WS or IPC)
// and wraps it in an EngineClient.
func DialEngine(ctx context.Context, logger log.Logger, m metrics.Metricer, endpoint string, secret eth.Bytes32, cfg EngineClientConfig) (*EngineClient, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	auth := JWTAuth(secret)
	rpcClient, err := gethrpc.DialOptions(ctx, endpoint, gethrpc.WithHTTPAuth(auth))
	if err != nil {
		return nil, fmt.Errorf("failed to dial engine endpoint %q: %w", endpoint, err)
	}
	logger.Info("Connected to execution engine", "endpoint", endpoint)
	return NewEngineClient(logger, rpcClient, m, cfg), nil
}
