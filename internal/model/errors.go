package model

import "errors"

// ErrInvalidTransition is returned when a status change violates its lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")
