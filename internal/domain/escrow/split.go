package escrow

import (
	"strings"
	"unicode/utf8"

	"github.com/timebank/timebank-api/internal/pkg/apperror"
)

const (
	minReasonLength = 10
	maxReasonLength = 500
)

// ParseDecision validates a decision string.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionRelease, DecisionRefund, DecisionSplit:
		return d, nil
	}
	return "", apperror.Validation(map[string]string{
		"decision": "Invalid decision. Must be: release, refund, or split",
	})
}

// SplitAmounts divides amount between provider and requester. For a split the provider gets
// floor(amount*share/100) and the requester the remainder, so no credit is lost to rounding.
func SplitAmounts(decision Decision, amount int64, offerShare int) (provider, requester int64, err error) {
	switch decision {
	case DecisionRelease:
		return amount, 0, nil
	case DecisionRefund:
		return 0, amount, nil
	case DecisionSplit:
		if offerShare < 0 || offerShare > 100 {
			return 0, 0, apperror.Validation(map[string]string{
				"offer_share": "Value must be between 0 and 100",
			})
		}
		provider = amount * int64(offerShare) / 100
		return provider, amount - provider, nil
	}
	_, err = ParseDecision(string(decision))
	return 0, 0, err
}

// normalizeReason trims the reason and checks its length in characters.
func normalizeReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	n := utf8.RuneCountInString(reason)
	switch {
	case n == 0:
		return "", apperror.Validation(map[string]string{"reason": "This field is required"})
	case n < minReasonLength:
		return "", apperror.Validation(map[string]string{"reason": "Value is too short (min: 10)"})
	case n > maxReasonLength:
		return "", apperror.Validation(map[string]string{"reason": "Value is too long (max: 500)"})
	}
	return reason, nil
}
