package domain

import "errors"

// Validation failures. Every operation that returns one of these has been
// aborted with no partial effect.
var (
	ErrInputInvalid        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrStateConflict       = errors.New("state conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientOutput  = errors.New("insufficient output")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnderflow           = errors.New("underflow")
	ErrOverflow            = errors.New("overflow")
)

// Infrastructure errors.
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)
