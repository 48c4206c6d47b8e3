package client

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/mantlenetworkio/engine-driver/eth"
)

// jwtValidity is how long a signed token is reused before a fresh one is
// minted. Engines reject tokens with an iat older than 60s, so stay under.
const jwtValidity = 55 * time.Second

// JWTAuth returns an HTTP auth function that attaches an HS256 bearer token
// with an "iat" claim, per the engine API authentication spec. The token is
// cached and refreshed within its validity window.
func JWTAuth(secret eth.Bytes32) gethrpc.HTTPAuth {
	var mu sync.Mutex
	var token string
	var issuedAt time.Time
	return func(h http.Header) error {
		mu.Lock()
		defer mu.Unlock()
		if token == "" || time.Since(issuedAt) > jwtValidity {
			issuedAt = time.Now()
			t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"iat": issuedAt.Unix(),
			})
			signed, err := t.SignedString(secret[:])
			if err != nil {
				return fmt.Errorf("failed to sign engine auth token: %w", err)
			}
			token = signed
		}
		h.Set("Authorization", "Bearer "+token)
		return nil
	}
}
