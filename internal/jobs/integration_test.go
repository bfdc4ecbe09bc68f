package jobs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/timebank/timebank-api/internal/domain/escrow"
	"github.com/timebank/timebank-api/internal/jobs"
	"github.com/timebank/timebank-api/internal/pkg/storage"
	"github.com/timebank/timebank-api/internal/pkg/testdb"
)

const price = 5

type ledger struct {
	db        *sqlx.DB
	engine    *escrow.Engine
	provider  uuid.UUID
	requester uuid.UUID
	escrows   []uuid.UUID
}

// seedHeld accepts n requests with a one millisecond hold so they expire at once.
func seedHeld(t *testing.T, n int) *ledger {
	t.Helper()
	db := testdb.Open(t)
	l := &ledger{
		db:        db,
		engine:    escrow.NewEngine(db, escrow.Config{HoldPeriod: time.Millisecond, OpTimeout: 10 * time.Second}, nil),
		provider:  testdb.SeedMember(t, db, 0),
		requester: testdb.SeedMember(t, db, int64(n*price)),
	}
	for i := 0; i < n; i++ {
		offerID := testdb.SeedOffer(t, db, l.provider, price)
		requestID := testdb.SeedRequest(t, db, offerID, l.requester, price)
		res, err := l.engine.AcceptRequest(context.Background(), escrow.Caller{MemberID: l.provider}, requestID, uuid.NewString())
		if err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
		l.escrows = append(l.escrows, res.EscrowID)
	}
	return l
}

func TestConcurrentSweepsReleaseEachEscrowOnce(t *testing.T) {
	const n = 12
	l := seedHeld(t, n)
	before := testdb.Circulating(t, l.db)
	later := time.Now().UTC().Add(time.Hour)

	reports := make([]jobs.SweepReport, 2)
	var wg sync.WaitGroup
	for i := range reports {
		i := i
		s := jobs.NewSweeper(l.engine.Repository(), l.engine, jobs.SweeperConfig{BatchSize: 50, Concurrency: 4})
		s.SetClock(func() time.Time { return later })
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := s.Sweep(context.Background())
			if err != nil {
				t.Errorf("sweep %d: %v", i, err)
			}
			reports[i] = report
		}()
	}
	wg.Wait()

	released := reports[0].Released + reports[1].Released
	if released != n {
		t.Fatalf("released %d escrows across sweepers, want %d (%+v)", released, n, reports)
	}
	if failed := reports[0].Failed + reports[1].Failed; failed != 0 {
		t.Fatalf("unexpected failures: %+v", reports)
	}
	if got := testdb.Balance(t, l.db, l.provider); got != n*price {
		t.Fatalf("provider balance = %d, want %d", got, n*price)
	}

	var rows int
	if err := l.db.Get(&rows, `SELECT COUNT(*) FROM credit_transactions WHERE tx_type = 'escrow_release'`); err != nil {
		t.Fatalf("count releases: %v", err)
	}
	if rows != n {
		t.Fatalf("release rows = %d, want %d", rows, n)
	}
	if after := testdb.Circulating(t, l.db); after != before {
		t.Fatalf("circulation changed from %d to %d", before, after)
	}

	again := jobs.NewSweeper(l.engine.Repository(), l.engine, jobs.SweeperConfig{})
	again.SetClock(func() time.Time { return later })
	report, err := again.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Scanned != 0 {
		t.Fatalf("expected nothing left to sweep, got %+v", report)
	}
}

func TestSweepLeavesDisputedEscrows(t *testing.T) {
	l := seedHeld(t, 2)
	if _, err := l.engine.OpenDispute(context.Background(), escrow.Caller{MemberID: l.requester}, l.escrows[0], "never showed up"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	s := jobs.NewSweeper(l.engine.Repository(), l.engine, jobs.SweeperConfig{})
	s.SetClock(func() time.Time { return time.Now().UTC().Add(time.Hour) })
	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Released != 1 {
		t.Fatalf("released = %d, want 1", report.Released)
	}
	if got := testdb.Balance(t, l.db, l.provider); got != price {
		t.Fatalf("provider balance = %d, want %d", got, price)
	}
}

func TestReconcileReportsCorruption(t *testing.T) {
	l := seedHeld(t, 3)
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	clock := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	r := jobs.NewReconciler(l.db, store)
	r.SetClock(func() time.Time { return clock })

	clean, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(clean.Anomalies) != 0 || clean.Drift != 0 || clean.PreviousTotal != nil {
		t.Fatalf("expected a clean first run, got %+v", clean)
	}
	if clean.CirculatingTotal != 3*price || clean.IssuedTotal != 3*price {
		t.Fatalf("unexpected totals: %+v", clean)
	}
	archived := filepath.Join(dir, "reconciliation", "2026", "05", "04", clean.RunID.String()+".json")
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("expected archived report: %v", err)
	}

	if _, err := l.db.Exec(`UPDATE members SET balance = balance + 7 WHERE id = $1`, l.provider); err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}

	clock = clock.Add(time.Minute)
	dirty, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if dirty.Drift != 7 {
		t.Fatalf("drift = %d, want 7", dirty.Drift)
	}
	if dirty.PreviousTotal == nil || *dirty.PreviousTotal != 3*price {
		t.Fatalf("previous total = %v, want %d", dirty.PreviousTotal, 3*price)
	}

	kinds := map[string]int{}
	for _, a := range dirty.Anomalies {
		kinds[a.Kind]++
		if a.Kind == jobs.AnomalyLedgerMismatch {
			if a.MemberID == nil || *a.MemberID != l.provider || a.Expected != 0 || a.Actual != 7 {
				t.Fatalf("unexpected ledger mismatch: %+v", a)
			}
		}
	}
	for _, kind := range []string{jobs.AnomalyCirculationDrift, jobs.AnomalyLedgerMismatch, jobs.AnomalyUnexplainedChange} {
		if kinds[kind] != 1 {
			t.Fatalf("expected one %s anomaly, got %v", kind, kinds)
		}
	}

	var stored struct {
		Count     int    `db:"anomaly_count"`
		Anomalies []byte `db:"anomalies"`
	}
	err = l.db.Get(&stored, `SELECT anomaly_count, anomalies::text AS anomalies FROM reconciliation_runs WHERE id = $1`, dirty.RunID)
	if err != nil {
		t.Fatalf("read run: %v", err)
	}
	if stored.Count != 3 || len(stored.Anomalies) < 3 {
		t.Fatalf("unexpected stored run: count=%d anomalies=%s", stored.Count, stored.Anomalies)
	}
}

func TestReconcileFlagsRequestMismatch(t *testing.T) {
	l := seedHeld(t, 1)
	if _, err := l.db.Exec(`UPDATE requests SET status = 'completed' WHERE escrow_id = $1`, l.escrows[0]); err != nil {
		t.Fatalf("corrupt request: %v", err)
	}

	report, err := jobs.NewReconciler(l.db, nil).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.Anomalies) != 1 || report.Anomalies[0].Kind != jobs.AnomalyRequestMismatch {
		t.Fatalf("expected a single request mismatch, got %+v", report.Anomalies)
	}
	if report.Anomalies[0].EscrowID == nil || *report.Anomalies[0].EscrowID != l.escrows[0] {
		t.Fatalf("unexpected escrow id: %+v", report.Anomalies[0])
	}
}
