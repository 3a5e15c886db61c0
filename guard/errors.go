package guard

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps every state store failure. Checks that hit it
	// deny.
	ErrStoreUnavailable = errors.New("state store unavailable")
	ErrBlocked          = errors.New("source is blocked")
	ErrRateLimited      = errors.New("connection rate limit exceeded")
	ErrTrafficExceeded  = errors.New("traffic threshold exceeded")
	ErrServerClosed     = errors.New("guard: server closed")
)

func storeError(op, source string, err error) error {
	return fmt.Errorf("%s for %s: %w", op, source, errors.Join(ErrStoreUnavailable, err))
}
