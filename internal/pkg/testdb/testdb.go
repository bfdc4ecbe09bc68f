// Package testdb provides a migrated PostgreSQL database for integration tests.
//
// TEST_DATABASE_URL selects an existing database; otherwise a postgres:16 container is
// started once per test binary. Tests are skipped when neither is available or with -short.
package testdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/timebank/timebank-api/internal/pkg/database"
)

var (
	once    sync.Once
	shared  *sqlx.DB
	initErr error
)

var tables = []string{
	"reconciliation_runs",
	"credit_transactions",
	"idempotency_keys",
	"disputes",
	"escrows",
	"requests",
	"offers",
	"members",
}

// Open returns the shared database with every table truncated.
func Open(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}

	if os.Getenv("TEST_DATABASE_URL") == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
	}

	once.Do(func() {
		shared, initErr = start(context.Background())
	})
	if initErr != nil {
		t.Skipf("postgres not available: %v", initErr)
	}

	Reset(t, shared)
	return shared
}

func start(ctx context.Context) (*sqlx.DB, error) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		container, err := postgres.Run(startCtx,
			"postgres:16",
			postgres.WithDatabase("timebank"),
			postgres.WithUsername("timebank"),
			postgres.WithPassword("timebank"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		dsn, err = container.ConnectionString(startCtx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			return nil, fmt.Errorf("resolve connection string: %w", err)
		}
	}

	driver := os.Getenv("TEST_DB_DRIVER")
	if driver == "" {
		driver = "postgres"
	}
	if err := database.Migrate(driver, dsn); err != nil {
		return nil, err
	}
	return database.NewPostgres(driver, dsn)
}

// Reset truncates every ledger table.
func Reset(t *testing.T, db *sqlx.DB) {
	t.Helper()
	for _, tbl := range tables {
		if _, err := db.Exec("TRUNCATE TABLE " + tbl + " CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", tbl, err)
		}
	}
}

// SeedMember inserts an approved member whose balance is backed by a registration bonus row.
func SeedMember(t *testing.T, db *sqlx.DB, balance int64) uuid.UUID {
	t.Helper()
	return seedMember(t, db, balance, "member")
}

// SeedAdmin inserts an approved admin with a zero balance.
func SeedAdmin(t *testing.T, db *sqlx.DB) uuid.UUID {
	t.Helper()
	return seedMember(t, db, 0, "admin")
}

func seedMember(t *testing.T, db *sqlx.DB, balance int64, role string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO members (id, email, name, role, balance, is_approved)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, id, id.String()+"@example.test", "member "+id.String()[:8], role, balance)
	if err != nil {
		t.Fatalf("seed member: %v", err)
	}
	if balance > 0 {
		_, err = db.Exec(`
			INSERT INTO credit_transactions (member_id, amount_delta, tx_type, description)
			VALUES ($1, $2, 'registration_bonus', 'seed')
		`, id, balance)
		if err != nil {
			t.Fatalf("seed bonus: %v", err)
		}
	}
	return id
}

// SeedOffer inserts an active, available offer.
func SeedOffer(t *testing.T, db *sqlx.DB, providerID uuid.UUID, price int64) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := db.Get(&id, `
		INSERT INTO offers (provider_id, title, description, price_credits)
		VALUES ($1, 'Garden help', 'Two hours of weeding and planting', $2)
		RETURNING id
	`, providerID, price)
	if err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return id
}

// SeedRequest inserts a pending request for offerID.
func SeedRequest(t *testing.T, db *sqlx.DB, offerID, requesterID uuid.UUID, price int64) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := db.Get(&id, `
		INSERT INTO requests (offer_id, requester_id, price_credits)
		VALUES ($1, $2, $3)
		RETURNING id
	`, offerID, requesterID, price)
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return id
}

// Balance reads a member balance.
func Balance(t *testing.T, db *sqlx.DB, memberID uuid.UUID) int64 {
	t.Helper()
	var balance int64
	if err := db.Get(&balance, `SELECT balance FROM members WHERE id = $1`, memberID); err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return balance
}

// Circulating returns balances plus held and disputed escrow amounts.
func Circulating(t *testing.T, db *sqlx.DB) int64 {
	t.Helper()
	var total int64
	err := db.Get(&total, `
		SELECT (COALESCE((SELECT SUM(balance) FROM members), 0)
		      + COALESCE((SELECT SUM(amount) FROM escrows WHERE status IN ('held', 'disputed')), 0))::BIGINT
	`)
	if err != nil {
		t.Fatalf("read circulating total: %v", err)
	}
	return total
}
