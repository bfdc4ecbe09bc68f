package escrow

import (
	"errors"
	"strings"
	"testing"

	"github.com/timebank/timebank-api/internal/pkg/apperror"
)

func TestSplitAmounts(t *testing.T) {
	tests := []struct {
		name          string
		decision      Decision
		amount        int64
		share         int
		wantProvider  int64
		wantRequester int64
	}{
		{"release pays provider", DecisionRelease, 40, 0, 40, 0},
		{"refund pays requester", DecisionRefund, 40, 100, 0, 40},
		{"even split", DecisionSplit, 10, 50, 5, 5},
		{"remainder to requester", DecisionSplit, 101, 50, 50, 51},
		{"one third", DecisionSplit, 10, 33, 3, 7},
		{"zero share", DecisionSplit, 7, 0, 0, 7},
		{"full share", DecisionSplit, 7, 100, 7, 0},
		{"single credit", DecisionSplit, 1, 99, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, requester, err := SplitAmounts(tt.decision, tt.amount, tt.share)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider != tt.wantProvider || requester != tt.wantRequester {
				t.Fatalf("got %d/%d, want %d/%d", provider, requester, tt.wantProvider, tt.wantRequester)
			}
			if provider+requester != tt.amount {
				t.Fatalf("shares %d+%d do not add up to %d", provider, requester, tt.amount)
			}
		})
	}
}

func TestSplitAmountsRejectsBadInput(t *testing.T) {
	if _, _, err := SplitAmounts(DecisionSplit, 10, 101); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected validation error for share 101, got %v", err)
	}
	if _, _, err := SplitAmounts(DecisionSplit, 10, -1); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected validation error for share -1, got %v", err)
	}
	if _, _, err := SplitAmounts(Decision("halve"), 10, 50); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected validation error for unknown decision, got %v", err)
	}
}

func TestNormalizeReason(t *testing.T) {
	tests := []struct {
		name    string
		reason  string
		want    string
		wantErr bool
	}{
		{"trimmed", "   never showed up   ", "never showed up", false},
		{"blank", "   \t  ", "", true},
		{"too short after trim", "  short  ", "", true},
		{"counts characters not bytes", "продавец ушёл", "продавец ушёл", false},
		{"too long", strings.Repeat("a", 501), "", true},
		{"max length", strings.Repeat("ж", 500), strings.Repeat("ж", 500), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeReason(tt.reason)
			if tt.wantErr {
				if !errors.Is(err, apperror.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDecision(t *testing.T) {
	for _, s := range []string{"release", "refund", "split"} {
		if d, err := ParseDecision(s); err != nil || string(d) != s {
			t.Fatalf("ParseDecision(%q) = %q, %v", s, d, err)
		}
	}
	if _, err := ParseDecision("RELEASE"); err == nil {
		t.Fatal("decisions are case sensitive")
	}
}
