// Package dbtx provides a small transaction-running helper shared by
// the Job Intake & Outbox Writer (§4.1, atomic storage+DB write) and
// any other component that needs a single begin/commit/rollback
// envelope around a pgxpool.Pool. Grounded on the raw-SQL/pgxpool
// usage in media-worker/internal/consumer and media-service/internal/repository,
// neither of which the teacher itself uses (email-service has no DB
// layer) — see DESIGN.md for the "additive, not teacher-dropped" note.
package dbtx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx runs fn inside a transaction on pool, committing on success
// and rolling back on error or panic.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dbtx: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		err = tx.Commit(ctx)
		if err != nil {
			err = fmt.Errorf("dbtx: commit: %w", err)
		}
	}()

	err = fn(ctx, tx)
	return err
}
