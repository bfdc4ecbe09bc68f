package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 128

// Operation names scope keys; the same key may be used once per operation.
const (
	OpAcceptRequest     = "accept_request"
	OpConfirmCompletion = "confirm_completion"
	OpResolveDispute    = "resolve_dispute"
)

// Record is a stored idempotency claim.
type Record struct {
	Operation   string    `db:"operation"`
	Key         string    `db:"key"`
	Fingerprint string    `db:"fingerprint"`
	Result      []byte    `db:"result"`
	CreatedAt   time.Time `db:"created_at"`
}

// Fingerprint hashes the arguments of a keyed call so a reused key with different
// arguments can be told apart from a genuine retry.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
