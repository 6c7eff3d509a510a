package repository

import (
	"time"

	"github.com/okian/assay/pkg/logger"
)

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithClock sets the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// GormOption applies a configuration option to the GormStore.
type GormOption func(*GormStore)

// WithGormLogger sets the logger used by the GormStore.
func WithGormLogger(l logger.Logger) GormOption {
	return func(s *GormStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRowLocks enables SELECT ... FOR UPDATE on pool rows inside WithPoolLock.
// Only dialects that support row locks should enable it.
func WithRowLocks(enabled bool) GormOption {
	return func(s *GormStore) {
		s.rowLocks = enabled
	}
}
