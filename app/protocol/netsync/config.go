package netsync

import (
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultLeaderTimeout is how long the synchronizer waits for a new own
	// block before forcing one
	DefaultLeaderTimeout = time.Second

	// DefaultBlockBatchSize is how many own blocks a send task reads from the
	// consensus state at a time
	DefaultBlockBatchSize = 10
)

// Config holds the tunables of a NetworkSyncer
type Config struct {
	LeaderTimeout  time.Duration
	BlockBatchSize int
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		LeaderTimeout:  DefaultLeaderTimeout,
		BlockBatchSize: DefaultBlockBatchSize,
	}
}

func (cfg *Config) validate() error {
	if cfg.LeaderTimeout <= 0 {
		return errors.Errorf("leader timeout must be positive, got %s", cfg.LeaderTimeout)
	}
	if cfg.BlockBatchSize <= 0 {
		return errors.Errorf("block batch size must be positive, got %d", cfg.BlockBatchSize)
	}
	return nil
}
