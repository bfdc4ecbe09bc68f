package credit

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/timebank/timebank-api/internal/pkg/apperror"
)

func newMockTx(t *testing.T) (*sqlx.Tx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	tx, err := sqlx.NewDb(db, "sqlmock").Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx, mock
}

func TestDebitTxReportsInsufficientCredits(t *testing.T) {
	tx, mock := newMockTx(t)
	repo := NewRepository(nil)
	memberID := uuid.New()

	mock.ExpectExec("UPDATE members").
		WithArgs(memberID, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DebitTx(context.Background(), tx, memberID, 7, TxTypeEscrowHold, Meta{})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if !errors.Is(err, apperror.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient_funds kind, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitTxWritesLedgerRow(t *testing.T) {
	tx, mock := newMockTx(t)
	repo := NewRepository(nil)
	memberID := uuid.New()
	escrowID := uuid.New()

	mock.ExpectExec("UPDATE members").
		WithArgs(memberID, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(memberID, int64(-5), "escrow_hold", sqlmock.AnyArg(), sqlmock.AnyArg(), "hold").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DebitTx(context.Background(), tx, memberID, 5, TxTypeEscrowHold, Meta{
		RelatedEntityType: "escrow",
		RelatedEntityID:   escrowID,
		Description:       "hold",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreditTxRejectsNonPositiveAmount(t *testing.T) {
	repo := NewRepository(nil)
	for _, amount := range []int64{0, -3} {
		err := repo.CreditTx(context.Background(), nil, uuid.New(), amount, TxTypeAdminGrant, Meta{})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestLockBalancesUnknownMember(t *testing.T) {
	tx, mock := newMockTx(t)
	repo := NewRepository(nil)

	mock.ExpectQuery("SELECT balance FROM members").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))

	_, err := repo.LockBalances(context.Background(), tx, uuid.New())
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}
