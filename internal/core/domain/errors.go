package domain

import "errors"

// Expected settlement outcomes. All are recoverable and reported to the
// caller; anything else escaping the engine indicates a bug.
var (
	ErrNotFound            = errors.New("not found")
	ErrNotOwner            = errors.New("not the owner")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrExhausted           = errors.New("all editions claimed")
	ErrAlreadyInactive     = errors.New("already inactive")
	ErrConflict            = errors.New("conflicting concurrent operation")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInternal            = errors.New("internal error")
)
