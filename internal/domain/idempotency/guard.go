package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Guard records (operation, key) claims in the caller's transaction so the claim and the
// effect commit or roll back together. A concurrent caller presenting the same key blocks
// on the insert until the first transaction finishes.
type Guard struct {
	db *sqlx.DB
}

func NewGuard(db *sqlx.DB) *Guard {
	return &Guard{db: db}
}

// NormalizeKey trims a client-supplied key and checks it. The trimmed form is the one stored.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrKeyRequired
	}
	if len(key) > MaxKeyLength {
		return "", ErrKeyTooLong
	}
	return key, nil
}

// Claim inserts the claim. claimed is true when this call owns the key; otherwise the
// stored record is returned for replay.
func (g *Guard) Claim(ctx context.Context, tx *sqlx.Tx, operation, key, fingerprint string) (*Record, bool, error) {
	key, err := NormalizeKey(key)
	if err != nil {
		return nil, false, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (operation, key, fingerprint)
		VALUES ($1, $2, $3)
		ON CONFLICT (operation, key) DO NOTHING
	`, operation, key, fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: claim: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: rows affected: %w", err)
	}
	if rows == 1 {
		return nil, true, nil
	}

	var rec Record
	err = tx.GetContext(ctx, &rec, `
		SELECT operation, key, fingerprint, result, created_at
		FROM idempotency_keys
		WHERE operation = $1 AND key = $2
	`, operation, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("idempotency: claim vanished for %s/%s", operation, key)
		}
		return nil, false, fmt.Errorf("idempotency: load claim: %w", err)
	}
	if rec.Fingerprint != fingerprint {
		return nil, false, ErrKeyReused
	}
	if len(rec.Result) == 0 {
		return nil, false, ErrNoResult
	}
	return &rec, false, nil
}

// Complete stores the operation result on the claim.
func (g *Guard) Complete(ctx context.Context, tx *sqlx.Tx, operation, key string, result any) error {
	key, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency: encode result: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE idempotency_keys SET result = $3
		WHERE operation = $1 AND key = $2
	`, operation, key, string(payload))
	if err != nil {
		return fmt.Errorf("idempotency: store result: %w", err)
	}
	return nil
}

// Decode unmarshals a replayed result.
func Decode(rec *Record, out any) error {
	if rec == nil || len(rec.Result) == 0 {
		return ErrNoResult
	}
	if err := json.Unmarshal(rec.Result, out); err != nil {
		return fmt.Errorf("idempotency: decode result: %w", err)
	}
	return nil
}

// Purge deletes at most batchSize records created before olderThan.
func (g *Guard) Purge(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	result, err := g.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE (operation, key) IN (
			SELECT operation, key
			FROM idempotency_keys
			WHERE created_at < $1
			ORDER BY created_at
			LIMIT $2
		)
	`, olderThan, batchSize)
	if err != nil {
		return 0, fmt.Errorf("idempotency: purge: %w", err)
	}
	return result.RowsAffected()
}
