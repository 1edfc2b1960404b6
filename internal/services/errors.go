package services

import "errors"

var (
	// ErrUnknownAgent rejects a round whose agent does not exist or is
	// inactive. Nothing is merged.
	ErrUnknownAgent = errors.New("unknown or inactive agent")
	// ErrWalkNotFound means a catalog page was requested for a walk that
	// expired, never started, or was started with other parameters. The
	// device restarts the walk from page 1.
	ErrWalkNotFound = errors.New("catalog walk not found")
	ErrInvalidRequest = errors.New("invalid request")
)
