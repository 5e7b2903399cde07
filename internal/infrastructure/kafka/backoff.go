package kafka

import (
	"math"
	"time"

	"github.com/yokitheyo/batchflow/internal/config"
)

// Backoff spaces out redeliveries of a transiently failed task.
type Backoff struct {
	Delay  time.Duration
	Factor float64
	Max    time.Duration
}

func BackoffFromConfig(cfg config.WorkerConfig) Backoff {
	return Backoff{
		Delay:  cfg.RequeueDelay(),
		Factor: cfg.RequeueBackoff,
		Max:    cfg.MaxRequeueDelay(),
	}
}

// For returns Delay * Factor^(attempt-1), capped at Max when Max is set.
func (b Backoff) For(attempt int) time.Duration {
	if b.Delay <= 0 || attempt < 1 {
		return 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Delay) * math.Pow(factor, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}
