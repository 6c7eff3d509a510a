package ledger

import (
	"time"

	"github.com/okian/assay/pkg/logger"
)

// DefaultDepletionFloor is the balance at or below which a pool is exhausted.
const DefaultDepletionFloor = 1000

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithDepletionFloor sets the exhaustion floor.
func WithDepletionFloor(floor int64) Option {
	return func(l *Ledger) {
		if floor >= 0 {
			l.floor = floor
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock sets the time source for advance events.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}
