package models

import "errors"

// Failure reasons carried inside coded domain errors so callers can match
// the specific cause with errors.Is.
var (
	ErrInvalidStatus   = errors.New("invalid status")
	ErrAlreadyApproved = errors.New("certificate request already approved")
	ErrTerminalStatus  = errors.New("certificate request is in a terminal state")
)
