package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrCommit marks a failure to commit a transaction whose statements all
// succeeded.  The changes were not applied.
var ErrCommit = errors.New("commit failed")

// WithTx runs fn inside a transaction.  If fn returns an error or panics the
// transaction is rolled back and the error from fn is returned unchanged;
// otherwise the transaction is committed.  Commit failures are wrapped with
// ErrCommit.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommit, err)
	}
	committed = true
	return nil
}
