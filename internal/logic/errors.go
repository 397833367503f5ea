package logic

import "errors"

var (
	// ErrNotFound marks a lookup with no result.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks a request the handler should reject as malformed.
	ErrInvalid = errors.New("invalid request")
)
