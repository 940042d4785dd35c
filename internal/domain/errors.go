package domain

import "errors"

// ErrValidation marks input rejected before any I/O.
var ErrValidation = errors.New("validation failed")
