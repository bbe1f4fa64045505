package memories

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord means the input is malformed; retrying without a fix will fail again.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNotFound means the record does not exist or is inactive.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the caller's version is stale; re-read and retry.
	ErrConflict = errors.New("version conflict")
	// ErrNoMatch means the sampler found no eligible record.
	ErrNoMatch = errors.New("no matching record")
	// ErrCancelled means the caller cancelled or the deadline passed mid-operation.
	ErrCancelled = errors.New("operation cancelled")
	// ErrInvalidQuery means a cursor, prefix or time range supplied to a query is malformed.
	ErrInvalidQuery = errors.New("invalid query")
)

// checkCtx returns ErrCancelled when ctx is done.
func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// storeErr wraps a database error, turning context failures into ErrCancelled.
func storeErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrCancelled, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
