package jobs

import (
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/timebank/timebank-api/internal/config"
	"github.com/timebank/timebank-api/internal/domain/escrow"
	"github.com/timebank/timebank-api/internal/domain/idempotency"
	"github.com/timebank/timebank-api/internal/pkg/storage"
)

// NewLedgerRunner registers the expiry sweep, reconciliation, and idempotency cleanup jobs
// with their configured schedules.
func NewLedgerRunner(cfg *config.Config, db *sqlx.DB, rdb *redis.Client, store storage.Storage, engine *escrow.Engine) *Runner {
	sweeper := NewSweeper(engine.Repository(), engine, SweeperConfig{
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
		ItemTimeout: cfg.SweepItemTimeout,
	})
	cleaner := NewCleaner(idempotency.NewGuard(db), cfg.IdempotencyRetention, cfg.CleanupBatchSize)

	return NewRunner(rdb,
		SweepJob(sweeper, cfg.SweepSchedule),
		ReconcileJob(NewReconciler(db, store), cfg.ReconcileSchedule),
		CleanupJob(cleaner, cfg.CleanupSchedule),
	)
}
