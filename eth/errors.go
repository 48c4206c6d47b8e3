package eth

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum"
)

// MaybeAsNotFoundErr normalizes "not found" responses to ethereum.NotFound.
// Correct engine implementations return an empty result without error when a
// block is unknown, but some return an error string instead; this hardens
// against those.
func MaybeAsNotFoundErr(err error) error {
	if errors.Is(err, ethereum.NotFound) || err == nil {
		return err
	}
	if errStr := strings.ToLower(err.Error()); strings.Contains(errStr, "block not found") ||
		strings.Contains(errStr, "header not found") ||
		strings.Contains(errStr, "unknown block") {
		return errors.Join(err, ethereum.NotFound)
	}
	return err
}
