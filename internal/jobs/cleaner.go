package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/config"
	"github.com/timebank/timebank-api/internal/pkg/metrics"
)

// Purger deletes one batch of idempotency records older than a cutoff.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Time, batchSize int) (int64, error)
}

// CleanReport summarises one cleaning run
type CleanReport struct {
	Deleted int64 `json:"deleted_count"`
}

// Cleaner removes idempotency records past their retention.
type Cleaner struct {
	purger    Purger
	retention time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleaner creates a retention cleaner. Retention below one day is raised to one day.
func NewCleaner(purger Purger, retention time.Duration, batchSize int) *Cleaner {
	if retention < config.MinIdempotencyRetention {
		log.Warn().
			Dur("configured", retention).
			Dur("using", config.MinIdempotencyRetention).
			Msg("Idempotency retention below minimum, raising it")
		retention = config.MinIdempotencyRetention
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Cleaner{
		purger:    purger,
		retention: retention,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Retention returns the effective retention
func (c *Cleaner) Retention() time.Duration {
	return c.retention
}

// Clean deletes expired records batch by batch until a short batch comes back.
func (c *Cleaner) Clean(ctx context.Context) (CleanReport, error) {
	cutoff := c.now().Add(-c.retention)

	var report CleanReport
	for {
		n, err := c.purger.Purge(ctx, cutoff, c.batchSize)
		report.Deleted += n
		metrics.AddIdempotencyPurged(n)
		if err != nil {
			return report, err
		}
		if n < int64(c.batchSize) {
			return report, nil
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}
}
