package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound              = errors.New("record not found")
	ErrDuplicateAllocation   = errors.New("allocation already exists for submission and metal")
	ErrDuplicateArchiveEntry = errors.New("submission already archived")
	ErrUnsupportedDriver     = errors.New("unsupported database driver")
)
