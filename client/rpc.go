// Package client dials the execution engine and exposes a thin, stateless
// facade over the engine API. It owns transport concerns only: JWT auth,
// per-call timeouts, and decoding of engine error codes. All sequencing
// decisions live in the engine package.
package client

import (
	"context"
	"errors"
	"net/http"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/mantlenetworkio/engine-driver/eth"
)

// RPC is the narrow transport contract the engine client calls through.
// *gethrpc.Client satisfies it; tests substitute a scripted implementation.
type RPC interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
	Close()
}

// ErrUnauthorized is a terminal condition: the JWT secret does not match the
// engine's, and no amount of retrying will fix it.
var ErrUnauthorized = errors.New("engine rejected authentication")

// checkAuthError translates a 401/403 transport response into ErrUnauthorized.
func checkAuthError(err error) error {
	if err == nil {
		return nil
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden {
			return errors.Join(ErrUnauthorized, err)
		}
	}
	return err
}

// ErrorCode extracts the engine-API error code from an RPC error, if any.
func ErrorCode(err error) (eth.ErrorCode, bool) {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return eth.ErrorCode(rpcErr.ErrorCode()), true
	}
	return 0, false
}
