package client

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/engine-driver/eth"
)

// ObtainJWTSecret reads the 32-byte JWT secret shared with the engine,
// optionally generating one if the file is missing. Generation is meant for
// local devnets; against a real engine the secret must match the server's.
func ObtainJWTSecret(logger log.Logger, jwtSecretPath string, generateMissing bool) (eth.Bytes32, error) {
	jwtSecretPath = strings.TrimSpace(jwtSecretPath)
	if jwtSecretPath == "" {
		return eth.Bytes32{}, fmt.Errorf("file-name of jwt secret is empty")
	}
	data, err := os.ReadFile(jwtSecretPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if !generateMissing {
				return eth.Bytes32{}, fmt.Errorf("JWT-secret in path %q does not exist: %w", jwtSecretPath, err)
			}
			logger.Warn("Failed to read JWT secret from file, generating a new one now.", "path", jwtSecretPath)
			return generateJWTSecret(jwtSecretPath)
		}
		return eth.Bytes32{}, fmt.Errorf("failed to read JWT secret from file path %q", jwtSecretPath)
	}
	jwtSecret := common.FromHex(strings.TrimSpace(string(data))) // FromHex handles optional '0x' prefix
	if len(jwtSecret) != 32 {
		return eth.Bytes32{}, fmt.Errorf("invalid jwt secret in path %q, not 32 hex-formatted bytes", jwtSecretPath)
	}
	return eth.Bytes32(jwtSecret), nil
}

// generateJWTSecret writes a fresh random secret to the given path,
// overwriting whatever was there.
func generateJWTSecret(path string) (eth.Bytes32, error) {
	var secret eth.Bytes32
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		return eth.Bytes32{}, fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	if err := os.WriteFile(path, []byte(hexutil.Encode(secret[:])), 0o600); err != nil {
		return eth.Bytes32{}, err
	}
	return secret, nil
}
