package admin

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository defines admin data access
type Repository interface {
	ListReconciliationRuns(ctx context.Context, limit, offset int) ([]*ReconciliationRun, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates admin repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// ListReconciliationRuns returns the most recent runs first
func (r *repository) ListReconciliationRuns(ctx context.Context, limit, offset int) ([]*ReconciliationRun, error) {
	runs := make([]*ReconciliationRun, 0)
	err := r.db.SelectContext(ctx, &runs, `
		SELECT id, circulating_total, issued_total, previous_total, drift, anomaly_count,
		       anomalies::text AS anomalies, created_at
		FROM reconciliation_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("admin: list reconciliation runs: %w", err)
	}
	return runs, nil
}
