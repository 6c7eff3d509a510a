// Package repository persists the allocation ledger, the similarity archive
// and evaluation records.
package repository

import (
	"context"

	"github.com/okian/assay/internal/domain/model"
)

// LedgerStore persists pools, allocations and the epoch pointer. The
// allocation rows are the source of truth; stored balances are a cache the
// ledger reconciles.
type LedgerStore interface {
	// WithPoolLock runs fn with exclusive access to one pool. Calls made with
	// the ctx passed to fn join the same unit of work.
	WithPoolLock(ctx context.Context, key model.PoolKey, fn func(ctx context.Context) error) error

	// SeedGenesis inserts missing pools and the initial epoch state. Existing
	// rows are left untouched.
	SeedGenesis(ctx context.Context, pools []model.MetalPool, state model.EpochState) error

	// Pool returns a pool or ErrNotFound.
	Pool(ctx context.Context, key model.PoolKey) (model.MetalPool, error)
	// Pools returns every pool ordered by epoch then metal.
	Pools(ctx context.Context) ([]model.MetalPool, error)
	// UpdateBalance overwrites the cached balance of a pool.
	UpdateBalance(ctx context.Context, key model.PoolKey, balance int64) error

	// SumAllocations totals the reward drawn from a pool.
	SumAllocations(ctx context.Context, key model.PoolKey) (int64, error)
	// InsertAllocation appends an allocation. A second allocation for the same
	// submission and metal fails with ErrDuplicateAllocation.
	InsertAllocation(ctx context.Context, a model.Allocation) error
	// Allocation returns the allocation for a submission and metal or ErrNotFound.
	Allocation(ctx context.Context, submissionID string, metal model.Metal) (model.Allocation, error)
	// Allocations returns a submission's allocations in canonical metal order.
	Allocations(ctx context.Context, submissionID string) ([]model.Allocation, error)

	// EpochState returns the current pointer.
	EpochState(ctx context.Context) (model.EpochState, error)
	// CompareAndSwapEpoch moves the pointer to next when the stored version
	// equals version. It reports false when another writer won.
	CompareAndSwapEpoch(ctx context.Context, version int64, next model.Epoch) (model.EpochState, bool, error)
}

// ArchiveStore is the append-only archive of evaluated submissions.
type ArchiveStore interface {
	// Append stores an entry and assigns its sequence number. Archiving the
	// same submission twice fails with ErrDuplicateArchiveEntry.
	Append(ctx context.Context, e model.ArchivedEntry) (model.ArchivedEntry, error)
	// Entries returns every entry in insertion order.
	Entries(ctx context.Context) ([]model.ArchivedEntry, error)
	// Count returns the number of archived entries.
	Count(ctx context.Context) (int, error)
}

// EvaluationStore keeps evaluation records for audit.
type EvaluationStore interface {
	SaveEvaluation(ctx context.Context, e model.Evaluation) error
	// LatestEvaluation returns the most recent evaluation of a submission or ErrNotFound.
	LatestEvaluation(ctx context.Context, submissionID string) (model.Evaluation, error)
}
