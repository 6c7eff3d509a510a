package ledger

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrInvalidGenesis    = errors.New("invalid genesis")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrCapacityChanged   = errors.New("pool capacity changed before draw")
	ErrAlreadyAllocated  = errors.New("submission already allocated for metal")
	ErrInvalidEpochRange = errors.New("invalid epoch")
)
