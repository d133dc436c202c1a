// Package apperr defines the application error taxonomy shared by the
// service, store, and transport layers.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrConflict           = errors.New("enrichment already in progress")
	ErrRateLimited        = errors.New("rate limited")
	ErrProvider           = errors.New("provider failure")
	ErrUnresolvedIdentity = errors.New("unresolved identity")
)

// RateLimitError carries the quota scope that was exhausted and a fixed
// backoff hint for the caller. It unwraps to ErrRateLimited so callers can
// match with errors.Is and extract details with errors.As.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s quota exhausted, retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
