package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

const maxTxAttempts = 3

// WithTx runs fn inside a transaction. The transaction commits when fn returns nil and rolls
// back otherwise, so an error from fn leaves no trace in the store. Serialization failures and
// deadlocks re-run fn from scratch, which means fn must not have side effects outside tx.
func WithTx(ctx context.Context, db *sqlx.DB, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := runTx(ctx, db, opts, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= maxTxAttempts || ctx.Err() != nil {
			return err
		}

		backoff := time.Duration(attempt*attempt) * 15 * time.Millisecond
		log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("Retrying transaction")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func runTx(ctx context.Context, db *sqlx.DB, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database: commit tx: %w", err)
	}
	return nil
}
