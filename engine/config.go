package engine

import (
	"fmt"
	"time"

	"github.com/mantlenetworkio/engine-driver/retry"
)

type Config struct {
	// ReorgDepthLimit bounds the ancestor walk during consolidation. A
	// divergence deeper than this is ErrReorgTooDeep and needs intervention.
	ReorgDepthLimit uint64

	// AncestryCacheSize is the number of recent block refs kept for ancestry
	// checks. Must comfortably exceed ReorgDepthLimit.
	AncestryCacheSize int

	// Retry bounds the backoff loop around individual engine calls.
	Retry retry.Policy

	// BuildSlack extends the getPayload deadline past the target block
	// timestamp, leaving the engine room to seal a late block.
	BuildSlack time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReorgDepthLimit:   64,
		AncestryCacheSize: 1000,
		Retry:             retry.DefaultPolicy(),
		BuildSlack:        2 * time.Second,
	}
}

func (c Config) Check() error {
	if c.ReorgDepthLimit == 0 {
		return fmt.Errorf("reorg depth limit must be positive")
	}
	if c.AncestryCacheSize <= int(c.ReorgDepthLimit) {
		return fmt.Errorf("ancestry cache size %d must exceed reorg depth limit %d",
			c.AncestryCacheSize, c.ReorgDepthLimit)
	}
	if err := c.Retry.Check(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	if c.BuildSlack < 0 {
		return fmt.Errorf("invalid build slack: %s", c.BuildSlack)
	}
	return nil
}
