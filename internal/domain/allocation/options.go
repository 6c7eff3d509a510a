package allocation

import "github.com/okian/assay/pkg/logger"

// DefaultRewardPerPoint converts one score point into token units.
const DefaultRewardPerPoint = 1_000_000

// MaxRewardPerPoint keeps the reward for a 10000 point total within int64.
const MaxRewardPerPoint = 1e14

const defaultMaxAttempts = 8

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRewardPerPoint sets the score to token conversion rate.
func WithRewardPerPoint(rate float64) Option {
	return func(e *Engine) {
		e.rewardPerPoint = rate
	}
}

// WithMaxAttempts bounds pool re-picks per metal when capacity changes under
// contention.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}
