package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/timebank/timebank-api/internal/pkg/metrics"
)

// ExpiredLister finds held escrows whose hold period has ended.
type ExpiredLister interface {
	ListExpiredHeld(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Releaser auto-releases one escrow in its own transaction.
type Releaser interface {
	AutoRelease(ctx context.Context, escrowID uuid.UUID, now time.Time) (bool, error)
}

// SweeperConfig bounds one sweep.
type SweeperConfig struct {
	BatchSize   int
	Concurrency int
	ItemTimeout time.Duration
}

// SweepReport summarises one sweep. Skipped escrows were taken by another worker or left
// the held state between listing and locking.
type SweepReport struct {
	Scanned  int `json:"scanned"`
	Released int `json:"released_count"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Sweeper releases expired held escrows to their providers.
type Sweeper struct {
	lister   ExpiredLister
	releaser Releaser
	cfg      SweeperConfig
	now      func() time.Time
}

// NewSweeper creates an expiry sweeper
func NewSweeper(lister ExpiredLister, releaser Releaser, cfg SweeperConfig) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 5 * time.Second
	}
	return &Sweeper{
		lister:   lister,
		releaser: releaser,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the sweeper clock.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep releases one batch of expired escrows. A failing escrow is logged and counted and
// never stops the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	now := s.now()
	ids, err := s.lister.ListExpiredHeld(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return SweepReport{}, err
	}

	var released, skipped, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
			defer cancel()

			ok, err := s.releaser.AutoRelease(itemCtx, id, now)
			switch {
			case err != nil:
				failed.Add(1)
				log.Error().Err(err).Str("job", JobAutoRelease).Str("escrow_id", id.String()).Msg("Auto-release failed")
			case ok:
				released.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := SweepReport{
		Scanned:  len(ids),
		Released: int(released.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}
	metrics.AddAutoReleased(report.Released)

	if len(ids) == s.cfg.BatchSize {
		log.Info().Str("job", JobAutoRelease).Int("batch_size", s.cfg.BatchSize).Msg("Sweep batch full, remaining escrows wait for the next run")
	}
	return report, nil
}
