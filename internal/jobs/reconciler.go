package jobs

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/domain/credit"
	"github.com/timebank/timebank-api/internal/pkg/database"
	"github.com/timebank/timebank-api/internal/pkg/metrics"
	"github.com/timebank/timebank-api/internal/pkg/storage"
)

// Anomaly kinds reported by the reconciler.
const (
	AnomalyCirculationDrift  = "circulation_drift"
	AnomalyLedgerMismatch    = "ledger_mismatch"
	AnomalyNegativeBalance   = "negative_balance"
	AnomalyDisputeMismatch   = "dispute_mismatch"
	AnomalyRequestMismatch   = "request_mismatch"
	AnomalyUnexplainedChange = "unexplained_change"
)

// AnomalyKinds lists every kind, for metrics.
var AnomalyKinds = []string{
	AnomalyCirculationDrift,
	AnomalyLedgerMismatch,
	AnomalyNegativeBalance,
	AnomalyDisputeMismatch,
	AnomalyRequestMismatch,
	AnomalyUnexplainedChange,
}

// Anomaly is one violated ledger invariant. Anomalies are reported, never corrected.
type Anomaly struct {
	Kind     string     `json:"kind"`
	MemberID *uuid.UUID `json:"member_id,omitempty"`
	EscrowID *uuid.UUID `json:"escrow_id,omitempty"`
	Expected int64      `json:"expected"`
	Actual   int64      `json:"actual"`
	Detail   string     `json:"detail"`
}

// Report is the result of one reconciliation run
type Report struct {
	RunID            uuid.UUID `json:"run_id"`
	CirculatingTotal int64     `json:"circulating_total"`
	IssuedTotal      int64     `json:"issued_total"`
	PreviousTotal    *int64    `json:"previous_total,omitempty"`
	Drift            int64     `json:"drift"`
	Anomalies        []Anomaly `json:"anomalies"`
	CreatedAt        time.Time `json:"created_at"`
}

// Reconciler checks credit conservation and the per-entity ledger invariants.
type Reconciler struct {
	db    *sqlx.DB
	store storage.Storage
	now   func() time.Time
}

// NewReconciler creates a reconciler. store may be nil to skip report archiving.
func NewReconciler(db *sqlx.DB, store storage.Storage) *Reconciler {
	return &Reconciler{
		db:    db,
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the reconciler clock.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

type previousRun struct {
	CirculatingTotal int64 `db:"circulating_total"`
	IssuedTotal      int64 `db:"issued_total"`
}

// Reconcile computes every check from one REPEATABLE READ snapshot and records the run.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New(), Anomalies: make([]Anomaly, 0), CreatedAt: r.now()}

	err := database.WithTx(ctx, r.db, &sql.TxOptions{Isolation: sql.LevelRepeatableRead}, func(tx *sqlx.Tx) error {
		report.Anomalies = report.Anomalies[:0]
		report.PreviousTotal = nil

		if err := r.totals(ctx, tx, report); err != nil {
			return err
		}
		checks := []func(context.Context, *sqlx.Tx) ([]Anomaly, error){
			r.ledgerMismatches,
			r.negativeBalances,
			r.disputeMismatches,
			r.requestMismatches,
		}
		for _, check := range checks {
			found, err := check(ctx, tx)
			if err != nil {
				return err
			}
			report.Anomalies = append(report.Anomalies, found...)
		}
		return r.insertRun(ctx, tx, report)
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	counts := make(map[string]int, len(AnomalyKinds))
	for _, a := range report.Anomalies {
		counts[a.Kind]++
		ev := log.Error().Str("job", JobReconcile).Str("run_id", report.RunID.String()).
			Str("kind", a.Kind).Int64("expected", a.Expected).Int64("actual", a.Actual)
		if a.MemberID != nil {
			ev = ev.Str("member_id", a.MemberID.String())
		}
		if a.EscrowID != nil {
			ev = ev.Str("escrow_id", a.EscrowID.String())
		}
		ev.Msg(a.Detail)
	}
	metrics.SetReconciliation(report.CirculatingTotal, report.Drift, counts, AnomalyKinds)

	r.archive(ctx, report)
	return report, nil
}

func (r *Reconciler) totals(ctx context.Context, tx *sqlx.Tx, report *Report) error {
	err := tx.GetContext(ctx, &report.CirculatingTotal, `
		SELECT (COALESCE((SELECT SUM(balance) FROM members), 0)
		      + COALESCE((SELECT SUM(amount) FROM escrows WHERE status IN ('held', 'disputed')), 0))::BIGINT
	`)
	if err != nil {
		return fmt.Errorf("circulating total: %w", err)
	}

	issuance := make([]string, 0, len(credit.IssuanceTypes))
	for _, t := range credit.IssuanceTypes {
		issuance = append(issuance, string(t))
	}
	query, args, err := sqlx.In(`
		SELECT COALESCE(SUM(amount_delta), 0)::BIGINT
		FROM credit_transactions
		WHERE tx_type IN (?)
	`, issuance)
	if err != nil {
		return err
	}
	if err := tx.GetContext(ctx, &report.IssuedTotal, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("issued total: %w", err)
	}

	report.Drift = report.CirculatingTotal - report.IssuedTotal
	if report.Drift != 0 {
		report.Anomalies = append(report.Anomalies, Anomaly{
			Kind:     AnomalyCirculationDrift,
			Expected: report.IssuedTotal,
			Actual:   report.CirculatingTotal,
			Detail:   "circulating credits differ from credits issued",
		})
	}

	var prev previousRun
	err = tx.GetContext(ctx, &prev, `
		SELECT circulating_total, issued_total
		FROM reconciliation_runs
		ORDER BY created_at DESC
		LIMIT 1
	`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("previous run: %w", err)
	}

	report.PreviousTotal = &prev.CirculatingTotal
	moved := report.CirculatingTotal - prev.CirculatingTotal
	issued := report.IssuedTotal - prev.IssuedTotal
	if moved != issued {
		report.Anomalies = append(report.Anomalies, Anomaly{
			Kind:     AnomalyUnexplainedChange,
			Expected: prev.CirculatingTotal + issued,
			Actual:   report.CirculatingTotal,
			Detail:   "circulating total changed by more than issuance since the last run",
		})
	}
	return nil
}

func (r *Reconciler) ledgerMismatches(ctx context.Context, tx *sqlx.Tx) ([]Anomaly, error) {
	var rows []struct {
		MemberID uuid.UUID `db:"id"`
		Balance  int64     `db:"balance"`
		Ledger   int64     `db:"ledger"`
	}
	err := tx.SelectContext(ctx, &rows, `
		SELECT m.id, m.balance, COALESCE(SUM(ct.amount_delta), 0)::BIGINT AS ledger
		FROM members m
		LEFT JOIN credit_transactions ct ON ct.member_id = m.id
		GROUP BY m.id, m.balance
		HAVING m.balance <> COALESCE(SUM(ct.amount_delta), 0)
		ORDER BY m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger mismatches: %w", err)
	}

	out := make([]Anomaly, 0, len(rows))
	for _, row := range rows {
		id := row.MemberID
		out = append(out, Anomaly{
			Kind:     AnomalyLedgerMismatch,
			MemberID: &id,
			Expected: row.Ledger,
			Actual:   row.Balance,
			Detail:   "member balance differs from the sum of its ledger rows",
		})
	}
	return out, nil
}

func (r *Reconciler) negativeBalances(ctx context.Context, tx *sqlx.Tx) ([]Anomaly, error) {
	var rows []struct {
		MemberID uuid.UUID `db:"id"`
		Balance  int64     `db:"balance"`
	}
	if err := tx.SelectContext(ctx, &rows, `SELECT id, balance FROM members WHERE balance < 0 ORDER BY id`); err != nil {
		return nil, fmt.Errorf("negative balances: %w", err)
	}

	out := make([]Anomaly, 0, len(rows))
	for _, row := range rows {
		id := row.MemberID
		out = append(out, Anomaly{
			Kind:     AnomalyNegativeBalance,
			MemberID: &id,
			Actual:   row.Balance,
			Detail:   "member balance is negative",
		})
	}
	return out, nil
}

// disputeMismatches finds disputed escrows without exactly one open dispute and open
// disputes on escrows that are not disputed.
func (r *Reconciler) disputeMismatches(ctx context.Context, tx *sqlx.Tx) ([]Anomaly, error) {
	var rows []struct {
		EscrowID  uuid.UUID `db:"id"`
		Status    string    `db:"status"`
		OpenCount int64     `db:"open_count"`
	}
	err := tx.SelectContext(ctx, &rows, `
		SELECT e.id, e.status, COUNT(d.id) AS open_count
		FROM escrows e
		LEFT JOIN disputes d ON d.escrow_id = e.id AND d.status = 'open'
		GROUP BY e.id, e.status
		HAVING (e.status = 'disputed' AND COUNT(d.id) <> 1)
		    OR (e.status <> 'disputed' AND COUNT(d.id) > 0)
		ORDER BY e.id
	`)
	if err != nil {
		return nil, fmt.Errorf("dispute mismatches: %w", err)
	}

	out := make([]Anomaly, 0, len(rows))
	for _, row := range rows {
		id := row.EscrowID
		expected := int64(0)
		if row.Status == "disputed" {
			expected = 1
		}
		out = append(out, Anomaly{
			Kind:     AnomalyDisputeMismatch,
			EscrowID: &id,
			Expected: expected,
			Actual:   row.OpenCount,
			Detail:   fmt.Sprintf("%s escrow has %d open disputes", row.Status, row.OpenCount),
		})
	}
	return out, nil
}

// requestMismatches finds active escrows whose request is not in the matching state.
func (r *Reconciler) requestMismatches(ctx context.Context, tx *sqlx.Tx) ([]Anomaly, error) {
	var rows []struct {
		EscrowID      uuid.UUID `db:"id"`
		EscrowStatus  string    `db:"escrow_status"`
		RequestStatus string    `db:"request_status"`
	}
	err := tx.SelectContext(ctx, &rows, `
		SELECT e.id, e.status AS escrow_status, r.status AS request_status
		FROM escrows e
		JOIN requests r ON r.id = e.request_id
		WHERE (e.status = 'held' AND r.status <> 'accepted')
		   OR (e.status = 'disputed' AND r.status <> 'disputed')
		ORDER BY e.id
	`)
	if err != nil {
		return nil, fmt.Errorf("request mismatches: %w", err)
	}

	out := make([]Anomaly, 0, len(rows))
	for _, row := range rows {
		id := row.EscrowID
		out = append(out, Anomaly{
			Kind:     AnomalyRequestMismatch,
			EscrowID: &id,
			Detail:   fmt.Sprintf("%s escrow belongs to a %s request", row.EscrowStatus, row.RequestStatus),
		})
	}
	return out, nil
}

func (r *Reconciler) insertRun(ctx context.Context, tx *sqlx.Tx, report *Report) error {
	anomalies, err := json.Marshal(report.Anomalies)
	if err != nil {
		return fmt.Errorf("encode anomalies: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
			(id, circulating_total, issued_total, previous_total, drift, anomaly_count, anomalies, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, report.RunID, report.CirculatingTotal, report.IssuedTotal, report.PreviousTotal,
		report.Drift, len(report.Anomalies), string(anomalies), report.CreatedAt)
	if err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	return nil
}

// archive writes the report to object storage. Failures are logged only.
func (r *Reconciler) archive(ctx context.Context, report *Report) {
	if r.store == nil {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	key := fmt.Sprintf("reconciliation/%s/%s.json", report.CreatedAt.Format("2006/01/02"), report.RunID)
	if err := r.store.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		log.Warn().Err(err).Str("job", JobReconcile).Str("key", key).Msg("Failed to archive reconciliation report")
		return
	}
	log.Debug().Str("job", JobReconcile).Str("key", key).Msg("Reconciliation report archived")
}
