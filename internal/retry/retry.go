package retry

import (
	"time"

	"github.com/wb-go/wbf/retry"

	"github.com/yokitheyo/batchflow/internal/config"
)

var DefaultStrategy = retry.Strategy{
	Attempts: 3,
	Delay:    500 * time.Millisecond,
	Backoff:  2,
}

// FromConfig builds a strategy, falling back to DefaultStrategy for unset fields.
func FromConfig(cfg config.RetryConfig) retry.Strategy {
	s := DefaultStrategy
	if cfg.Attempts > 0 {
		s.Attempts = cfg.Attempts
	}
	if cfg.DelayMs > 0 {
		s.Delay = cfg.Delay()
	}
	if cfg.Backoff >= 1 {
		s.Backoff = cfg.Backoff
	}
	return s
}

// Do runs fn with the wbf retry loop.
func Do(fn func() error, s retry.Strategy) error {
	return retry.Do(fn, s)
}
