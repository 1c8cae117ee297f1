package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeNumericOutOfRange    = "22003"
)

// mapError marks serialization failures and deadlocks as retryable write
// conflicts. A stock value pushed past the integer column is invalid input.
// Other errors are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", orders.ErrWriteConflict, err)
		case codeNumericOutOfRange:
			return fmt.Errorf("%w: %w", orders.ErrInvalidInput, err)
		}
	}
	return err
}
