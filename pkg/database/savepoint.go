package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithSavepoint runs fn inside a nested transaction scoped to tx. pgx
// implements Tx.Begin on an existing transaction as a SAVEPOINT, so a
// failure inside fn rolls back only the work fn did, leaving tx free to
// commit the rest. The batch and entity-set services wrap their
// unique-constrained inserts in it, so one conflicting insert does not
// poison the outer transaction already in flight.
func WithSavepoint(ctx context.Context, tx pgx.Tx, fn func(pgx.Tx) error) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	if err := fn(sp); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("savepoint rollback failed after %w: %v", err, rbErr)
		}
		return err
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}
