package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchStatusPredicates(t *testing.T) {
	cases := []struct {
		status      MatchStatus
		isException bool
		needsReview bool
	}{
		{MatchStatusMatched, false, false},
		{MatchStatusUnmatchedPG, false, true},
		{MatchStatusUnmatchedBank, false, true},
		{MatchStatusAmountMismatch, true, true},
		{MatchStatusDateMismatch, true, true},
		{MatchStatusFeeMismatch, true, true},
		{MatchStatusDuplicate, true, true},
		{MatchStatusBankFileAwaited, true, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.isException, tc.status.IsException())
			assert.Equal(t, tc.needsReview, tc.status.NeedsReview())
		})
	}
}
