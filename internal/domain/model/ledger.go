package model

import "time"

// Allocation reasons recorded alongside partial or zero-reward allocations.
const (
	ReasonPartialCapacity = "partial_capacity"
	ReasonPoolExhausted   = "pool_exhausted"
)

// MetalPool holds a fixed distribution ceiling and the balance derived from
// the allocation ledger.
type MetalPool struct {
	Key                PoolKey
	DistributionAmount int64
	Balance            int64
	UpdatedAt          time.Time
}

// Allocation is an immutable ledger record. At most one exists per
// (SubmissionID, Metal).
type Allocation struct {
	ID            string
	SubmissionID  string
	EvaluationID  string
	Epoch         Epoch
	Metal         Metal
	Requested     int64
	Reward        int64
	BalanceBefore int64
	BalanceAfter  int64
	Partial       bool
	Reason        string
	CreatedAt     time.Time
}

// Key returns the pool the allocation drew from.
func (a Allocation) Key() PoolKey { return PoolKey{Epoch: a.Epoch, Metal: a.Metal} }

// IdempotencyKey returns the at-most-once key for the allocation.
func (a Allocation) IdempotencyKey() string { return IdempotencyKey(a.SubmissionID, a.Metal) }

// IdempotencyKey joins a submission id and metal.
func IdempotencyKey(submissionID string, metal Metal) string {
	return submissionID + ":" + string(metal)
}

// EpochState is the versioned global current-epoch pointer.
type EpochState struct {
	Current   Epoch
	Version   int64
	UpdatedAt time.Time
}

// Terminal reports whether every tier has been exhausted.
func (s EpochState) Terminal() bool { return s.Current >= EpochClosed }

// IsOpen reports whether e lies in the open prefix of tiers. Nothing is open
// once the pointer is terminal.
func (s EpochState) IsOpen(e Epoch) bool { return !s.Terminal() && e.Valid() && e <= s.Current }

// EpochAdvance is emitted when pool depletion moves the pointer forward.
type EpochAdvance struct {
	From    Epoch
	To      Epoch
	Trigger PoolKey
	At      time.Time
}
