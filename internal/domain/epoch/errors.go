package epoch

import "errors"

// ErrInvalidThresholds is returned when tier thresholds are not monotonically non-increasing.
var ErrInvalidThresholds = errors.New("invalid epoch thresholds")
