package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/ticketing-admission/internal/repository"
)

// ErrStorageUnavailable marks a failure of the backing store.  It is
// retryable; callers fail closed and HTTP handlers answer 503.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Reservation errors.  None of them leaves a mutation behind.
var (
	ErrSeatNotFound      = errors.New("seat not found")
	ErrSeatUnavailable   = errors.New("seat unavailable")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrHoldExpired       = errors.New("hold expired")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidArgument   = errors.New("invalid argument")
)

var domainErrors = []error{
	ErrSeatNotFound, ErrSeatUnavailable, ErrHoldNotFound, ErrHoldExpired,
	ErrOrderNotFound, ErrInvalidTransition, ErrInvalidArgument,
	repository.ErrForbidden, repository.ErrConflict,
}

// storage wraps err as ErrStorageUnavailable for operation op.  Domain
// errors and errors that are already wrapped pass through unchanged.
func storage(op string, err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
