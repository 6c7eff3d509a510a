package allocation

import "errors"

// Sentinel kinds for allocation errors.
var (
	ErrEvaluationMismatch = errors.New("evaluation belongs to another submission")
	ErrInvalidRewardRate  = errors.New("reward per point must be positive and at most 1e14")
)
