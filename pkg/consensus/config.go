package consensus

import (
	"time"

	"github.com/pkg/errors"
)

// Config is the consensus engine configuration.
type Config struct {
	// RequestTimeout is the timeout of round 0, it doubles every
	// round up to MaxRoundTimeout.
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxRoundTimeout time.Duration `yaml:"max_round_timeout"`
	// FutureHeightWindow is how many heights ahead messages are
	// buffered.
	FutureHeightWindow  uint64 `yaml:"future_height_window"`
	MaxBacklogPerSender int    `yaml:"max_backlog_per_sender"`
	MaxBacklog          int    `yaml:"max_backlog"`
	MessageCacheSize    int    `yaml:"message_cache_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:      2 * time.Second,
		MaxRoundTimeout:     60 * time.Second,
		FutureHeightWindow:  10,
		MaxBacklogPerSender: 256,
		MaxBacklog:          4096,
		MessageCacheSize:    4096,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}

	if c.MaxRoundTimeout < c.RequestTimeout {
		return errors.New("max round timeout is below request timeout")
	}

	if c.MaxBacklogPerSender <= 0 || c.MaxBacklog <= 0 || c.MessageCacheSize <= 0 {
		return errors.New("backlog and message cache sizes must be positive")
	}

	return nil
}
