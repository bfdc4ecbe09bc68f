package config

import (
	"testing"
	"time"
)

func TestLoadClampsIdempotencyRetention(t *testing.T) {
	t.Setenv("IDEMPOTENCY_RETENTION", "1h")
	t.Setenv("DB_DRIVER", "mysql")

	cfg := Load()

	if cfg.IdempotencyRetention != MinIdempotencyRetention {
		t.Fatalf("expected retention %s, got %s", MinIdempotencyRetention, cfg.IdempotencyRetention)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("expected fallback driver postgres, got %q", cfg.DBDriver)
	}
}

func TestLoadReadsLedgerSettings(t *testing.T) {
	t.Setenv("ESCROW_HOLD_PERIOD", "48h")
	t.Setenv("REGISTRATION_BONUS", "25")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg := Load()

	if cfg.EscrowHoldPeriod != 48*time.Hour {
		t.Fatalf("expected hold period 48h, got %s", cfg.EscrowHoldPeriod)
	}
	if cfg.RegistrationBonus != 25 {
		t.Fatalf("expected bonus 25, got %d", cfg.RegistrationBonus)
	}
	if cfg.DBDriver != "pgx" {
		t.Fatalf("expected pgx driver, got %q", cfg.DBDriver)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestParseDurationFallback(t *testing.T) {
	if got := parseDuration("not-a-duration", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
}
