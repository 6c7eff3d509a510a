package model

import "errors"

// Error taxonomy shared by the scoring and allocation core.
var (
	// ErrInvalidInputRange marks an upstream score or overlap outside its bound.
	ErrInvalidInputRange = errors.New("invalid input range")
	// ErrNotQualified marks a total below the current epoch threshold.
	ErrNotQualified = errors.New("not qualified")
	// ErrPoolExhausted marks a category that no open tier could fund.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrLedgerInconsistency marks pool state the ledger cannot explain.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
)
