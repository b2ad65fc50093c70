package scheduler

import "errors"

// ErrInvalidConfig is returned when trigger configuration is invalid
var ErrInvalidConfig = errors.New("invalid scheduler configuration")
