package repositories

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when creating an agent with a taken email.
var ErrEmailExists = errors.New("email already exists")

// ErrRetryable marks a transaction that lost a lock or serialization race
// and can be run again unchanged.
var ErrRetryable = errors.New("retryable transaction conflict")

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// classifyTxError wraps deadlocks and serialization failures with
// ErrRetryable and leaves everything else as is.
func classifyTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %v", ErrRetryable, err)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
