package recon

import (
	"fmt"

	"github.com/settleline-recon-engine/internal/domain/shared"
)

// Bucket is one per-status slice of a job summary
type Bucket struct {
	Status shared.MatchStatus `json:"status"`
	Count  int64              `json:"count"`
}

// Totals aggregates the whole job
type Totals struct {
	Count      int64 `json:"count"`
	Matched    int64 `json:"matched"`
	Unmatched  int64 `json:"unmatched"`
	Exceptions int64 `json:"exceptions"`
}

// Summary is the client-facing breakdown for one job. It is always built by
// aggregating stored results, never hand-maintained, so the total-equals-sum
// invariant holds by construction; Verify guards against drift between the
// aggregation and the job's own counters.
type Summary struct {
	Totals    Totals   `json:"totals"`
	Breakdown []Bucket `json:"breakdown"`
}

// BuildSummary aggregates per-status counts into a summary. Statuses with a
// zero count are included so clients see the full closed enumeration.
func BuildSummary(counts map[shared.MatchStatus]int64) Summary {
	s := Summary{Breakdown: make([]Bucket, 0, len(shared.MatchStatuses))}
	for _, status := range shared.MatchStatuses {
		n := counts[status]
		s.Breakdown = append(s.Breakdown, Bucket{Status: status, Count: n})
		s.Totals.Count += n
		switch status {
		case shared.MatchStatusMatched:
			s.Totals.Matched += n
		case shared.MatchStatusUnmatchedPG, shared.MatchStatusUnmatchedBank:
			s.Totals.Unmatched += n
		default:
			s.Totals.Exceptions += n
		}
	}
	return s
}

// InvariantViolationError reports a total-does-not-equal-sum defect. It is
// logged and surfaced to the caller, never silently corrected.
type InvariantViolationError struct {
	Expected int64
	Actual   int64
}

func (e InvariantViolationError) Error() string {
	return fmt.Sprintf("summary invariant violated: job counters total %d, aggregated results total %d", e.Expected, e.Actual)
}

// Verify checks the aggregated total against an independently tracked count
func (s Summary) Verify(expectedTotal int64) error {
	var sum int64
	for _, b := range s.Breakdown {
		sum += b.Count
	}
	if sum != s.Totals.Count {
		return InvariantViolationError{Expected: s.Totals.Count, Actual: sum}
	}
	if expectedTotal >= 0 && expectedTotal != s.Totals.Count {
		return InvariantViolationError{Expected: expectedTotal, Actual: s.Totals.Count}
	}
	return nil
}
