package idempotency

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
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

var recordColumns = []string{"operation", "key", "fingerprint", "result", "created_at"}

func TestNormalizeKeyRejectsInvalid(t *testing.T) {
	tests := []struct {
		key  string
		want error
	}{
		{key: "", want: ErrKeyRequired},
		{key: "   ", want: ErrKeyRequired},
		{key: strings.Repeat("k", MaxKeyLength+1), want: ErrKeyTooLong},
		{key: strings.Repeat("k", MaxKeyLength)},
		{key: "3b241101-e2bb-4255-8caf-4136c566a962"},
	}
	for _, tt := range tests {
		_, err := NormalizeKey(tt.key)
		if !errors.Is(err, tt.want) {
			t.Fatalf("key %q: expected %v, got %v", tt.key, tt.want, err)
		}
		if tt.want != nil && !errors.Is(err, apperror.ErrValidation) {
			t.Fatalf("key %q: expected validation kind", tt.key)
		}
	}
}

func TestFingerprintDistinguishesArguments(t *testing.T) {
	if Fingerprint("a", "b") == Fingerprint("ab") {
		t.Fatal("fingerprint must separate parts")
	}
	if Fingerprint("x", "1") != Fingerprint("x", "1") {
		t.Fatal("fingerprint must be deterministic")
	}
}

func TestClaimNewKey(t *testing.T) {
	tx, mock := newMockTx(t)
	g := NewGuard(nil)

	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs(OpAcceptRequest, "k1", "fp").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, claimed, err := g.Claim(context.Background(), tx, OpAcceptRequest, "k1", "fp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claimed || rec != nil {
		t.Fatalf("expected fresh claim, got claimed=%v rec=%v", claimed, rec)
	}
}

func TestClaimReplaysStoredResult(t *testing.T) {
	tx, mock := newMockTx(t)
	g := NewGuard(nil)

	mock.ExpectExec("INSERT INTO idempotency_keys").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT operation, key, fingerprint, result, created_at").
		WithArgs(OpAcceptRequest, "k1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(OpAcceptRequest, "k1", "fp", []byte(`{"amount":7}`), time.Now()))

	rec, claimed, err := g.Claim(context.Background(), tx, OpAcceptRequest, "k1", "fp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed {
		t.Fatal("expected replay, got fresh claim")
	}

	var out struct {
		Amount int64 `json:"amount"`
	}
	if err := Decode(rec, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Amount != 7 {
		t.Fatalf("expected amount 7, got %d", out.Amount)
	}
}

func TestClaimRejectsReusedKeyWithDifferentArguments(t *testing.T) {
	tx, mock := newMockTx(t)
	g := NewGuard(nil)

	mock.ExpectExec("INSERT INTO idempotency_keys").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT operation, key, fingerprint, result, created_at").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(OpConfirmCompletion, "k1", "other", []byte(`{}`), time.Now()))

	_, _, err := g.Claim(context.Background(), tx, OpConfirmCompletion, "k1", "fp")
	if !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
}

func TestCompleteStoresJSON(t *testing.T) {
	tx, mock := newMockTx(t)
	g := NewGuard(nil)

	mock.ExpectExec("UPDATE idempotency_keys SET result").
		WithArgs(OpResolveDispute, "k9", `{"decision":"split"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := g.Complete(context.Background(), tx, OpResolveDispute, "k9", map[string]string{"decision": "split"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimAndCompleteStoreTrimmedKey(t *testing.T) {
	tx, mock := newMockTx(t)
	g := NewGuard(nil)

	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs(OpAcceptRequest, "K1", "fp").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE idempotency_keys SET result").
		WithArgs(OpAcceptRequest, "K1", `{"amount":3}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, claimed, err := g.Claim(context.Background(), tx, OpAcceptRequest, " K1\t", "fp"); err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}
	if err := g.Complete(context.Background(), tx, OpAcceptRequest, "K1 ", map[string]int{"amount": 3}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNormalizeKey(t *testing.T) {
	key, err := NormalizeKey("  order-7 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "order-7" {
		t.Fatalf("key = %q, want order-7", key)
	}
	if _, err := NormalizeKey(" \n "); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("blank key: expected ErrKeyRequired, got %v", err)
	}
}
