// Package matcher classifies a cycle's PG and bank record sets into
// reconciliation results. Matching is pure and order-independent: identical
// inputs yield identical output, so re-running a job is always safe. The
// bank side is indexed by join key (UTR, RRN fallback, amount/date-bucket
// composite fallback), keeping the whole pass O(n log n).
package matcher

import (
	"fmt"
	"sort"
	"time"

	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// Input is one cycle's normalized record sets. BankFileReceived false means
// the bank file has not arrived yet; every PG record then classifies as
// BANK_FILE_AWAITED rather than UNMATCHED_PG (distinct SLA treatment).
type Input struct {
	PG               []recon.NormalizedRecord
	Bank             []recon.NormalizedRecord
	BankFileReceived bool
}

// Reason codes attached to classified results
const (
	ReasonExactMatch       = "EXACT_MATCH"
	ReasonWithinTolerance  = "WITHIN_TOLERANCE"
	ReasonAmountOutOfTol   = "AMOUNT_OUT_OF_TOLERANCE"
	ReasonDateOutOfWindow  = "DATE_OUT_OF_WINDOW"
	ReasonFeeOutOfTol      = "FEE_OUT_OF_TOLERANCE"
	ReasonDuplicateClaim   = "DUPLICATE_CANDIDATE"
	ReasonNoBankCandidate  = "NO_BANK_CANDIDATE"
	ReasonNoPGCandidate    = "NO_PG_CANDIDATE"
	ReasonBankFileAwaited  = "BANK_FILE_NOT_RECEIVED"
	ReasonDateUnverifiable = "DATE_UNVERIFIABLE"
)

// Match classifies every input record into exactly one result. Results carry
// no ids or timestamps; the caller assigns those on persistence, keeping this
// function's output byte-identical across reruns.
func Match(in Input, tol recon.Tolerances) []recon.Result {
	pg := sortedPG(in.PG)

	if !in.BankFileReceived || len(in.Bank) == 0 {
		results := make([]recon.Result, 0, len(pg))
		for i := range pg {
			results = append(results, awaitedResult(&pg[i]))
		}
		return results
	}

	bank := sortedBank(in.Bank)
	idx := buildIndex(bank)
	claimed := make([]bool, len(bank))

	results := make([]recon.Result, 0, len(pg)+len(bank))

	for i := range pg {
		rec := &pg[i]
		candidates := idx.lookup(rec, claimed)
		if len(candidates) == 0 {
			results = append(results, unmatchedPGResult(rec))
			continue
		}

		best := closest(rec, bank, candidates)
		// Every extra key-matching candidate is a DUPLICATE claim against
		// this PG record; only the closest is evaluated for tolerance.
		for _, ci := range candidates {
			if ci == best {
				continue
			}
			claimed[ci] = true
			results = append(results, duplicateResult(rec, &bank[ci]))
		}
		claimed[best] = true
		results = append(results, classifyPair(rec, &bank[best], tol))
	}

	for i := range bank {
		if !claimed[i] {
			results = append(results, unmatchedBankResult(&bank[i]))
		}
	}

	return results
}

// MatchScoped reclassifies the row subset behind a single exception, used by
// the reprocess action. The scoping itself is the caller's row selection;
// the classification rules are identical to a full run.
func MatchScoped(in Input, tol recon.Tolerances) []recon.Result {
	return Match(in, tol)
}

// classifyPair applies the tolerance rules to a single PG/bank candidate
// pair. When both amount and date exceed tolerance, AMOUNT_MISMATCH takes
// precedence (documented tie-break).
func classifyPair(pg, bank *recon.NormalizedRecord, tol recon.Tolerances) recon.Result {
	r := pairResult(pg, bank)

	amountDelta := bank.AmountPaise - pg.AmountPaise
	r.AmountDeltaPaise = ptr(amountDelta)

	dateOK, dateKnown := dateWithinWindow(pg, bank, tol.DateWindow)
	if dateKnown {
		r.DateDeltaDays = ptr(daysBetween(pg.OccurredAt, bank.OccurredAt))
	}

	if abs64(amountDelta) > tol.AmountTolerancePaise {
		r.Status = shared.MatchStatusAmountMismatch
		r.ReasonCode = ReasonAmountOutOfTol
		r.Confidence = 0.5
		return r
	}
	if !dateOK {
		r.Status = shared.MatchStatusDateMismatch
		r.ReasonCode = ReasonDateOutOfWindow
		r.Confidence = 0.6
		return r
	}

	if pg.FeePaise != nil && bank.FeePaise != nil {
		feeDelta := *bank.FeePaise - *pg.FeePaise
		r.FeeDeltaPaise = ptr(feeDelta)
		if abs64(feeDelta) > tol.AmountTolerancePaise {
			r.Status = shared.MatchStatusFeeMismatch
			r.ReasonCode = ReasonFeeOutOfTol
			r.Confidence = 0.7
			return r
		}
	}

	r.Status = shared.MatchStatusMatched
	switch {
	case !dateKnown:
		r.ReasonCode = ReasonDateUnverifiable
		r.Confidence = 0.8
	case amountDelta == 0 && (r.DateDeltaDays == nil || *r.DateDeltaDays == 0):
		r.ReasonCode = ReasonExactMatch
		r.Confidence = 1.0
	default:
		r.ReasonCode = ReasonWithinTolerance
		r.Confidence = 0.9
	}
	return r
}

// dateWithinWindow reports (withinWindow, comparable). Rows whose date was
// deferred by template policy cannot be compared; they pass the window check
// with reduced confidence instead of failing the pair outright.
func dateWithinWindow(pg, bank *recon.NormalizedRecord, window time.Duration) (bool, bool) {
	if pg.DateDeferred || bank.DateDeferred {
		return true, false
	}
	d := bank.OccurredAt.Sub(pg.OccurredAt)
	if d < 0 {
		d = -d
	}
	return d <= window, true
}

// closest picks the candidate with the smallest absolute amount delta, then
// the smallest date distance, then the lowest bank record ref. The ordering
// is total, so reruns always agree.
func closest(pg *recon.NormalizedRecord, bank []recon.NormalizedRecord, candidates []int) int {
	best := candidates[0]
	for _, ci := range candidates[1:] {
		if candidateLess(pg, &bank[ci], &bank[best]) {
			best = ci
		}
	}
	return best
}

func candidateLess(pg, a, b *recon.NormalizedRecord) bool {
	da, db := abs64(a.AmountPaise-pg.AmountPaise), abs64(b.AmountPaise-pg.AmountPaise)
	if da != db {
		return da < db
	}
	ta, tb := dateDistance(pg, a), dateDistance(pg, b)
	if ta != tb {
		return ta < tb
	}
	return a.RawRef < b.RawRef
}

func dateDistance(pg, bank *recon.NormalizedRecord) time.Duration {
	if pg.DateDeferred || bank.DateDeferred {
		return time.Duration(1<<62 - 1) // unknown dates sort after any known distance
	}
	d := bank.OccurredAt.Sub(pg.OccurredAt)
	if d < 0 {
		d = -d
	}
	return d
}

// index holds bank record positions keyed by join key. A record registers
// under every key it can be found by, so a PG record lacking a UTR can still
// land on an RRN or composite hit.
type index struct {
	byKey map[string][]int
}

func buildIndex(bank []recon.NormalizedRecord) *index {
	idx := &index{byKey: make(map[string][]int, len(bank)*2)}
	for i := range bank {
		for _, k := range keysFor(&bank[i]) {
			idx.byKey[k] = append(idx.byKey[k], i)
		}
	}
	return idx
}

// lookup returns unclaimed candidates for the strongest key the PG record
// resolves: UTR first, then RRN, then the amount/date-bucket composite.
func (idx *index) lookup(rec *recon.NormalizedRecord, claimed []bool) []int {
	for _, k := range keysFor(rec) {
		var out []int
		for _, ci := range idx.byKey[k] {
			if !claimed[ci] {
				out = append(out, ci)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func keysFor(rec *recon.NormalizedRecord) []string {
	var keys []string
	if rec.UTR != "" {
		keys = append(keys, "utr:"+rec.UTR)
	}
	if rec.RRN != "" {
		keys = append(keys, "rrn:"+rec.RRN)
	}
	if len(keys) == 0 {
		keys = append(keys, compositeKey(rec))
	}
	return keys
}

func compositeKey(rec *recon.NormalizedRecord) string {
	bucket := "deferred"
	if !rec.DateDeferred {
		bucket = rec.OccurredAt.Format("2006-01-02")
	}
	return fmt.Sprintf("cmp:%d:%s", rec.AmountPaise, bucket)
}

// sortedPG copies and orders the PG set so iteration order never depends on
// caller ordering
func sortedPG(in []recon.NormalizedRecord) []recon.NormalizedRecord {
	out := append([]recon.NormalizedRecord(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		if out[i].TxnID != out[j].TxnID {
			return out[i].TxnID < out[j].TxnID
		}
		return out[i].RawRef < out[j].RawRef
	})
	return out
}

func sortedBank(in []recon.NormalizedRecord) []recon.NormalizedRecord {
	out := append([]recon.NormalizedRecord(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].RawRef != out[j].RawRef {
			return out[i].RawRef < out[j].RawRef
		}
		return out[i].UTR < out[j].UTR
	})
	return out
}

func pairResult(pg, bank *recon.NormalizedRecord) recon.Result {
	r := recon.Result{
		PGTxnID:         pg.TxnID,
		BankRef:         bank.RawRef,
		UTR:             firstNonEmpty(pg.UTR, bank.UTR),
		RRN:             firstNonEmpty(pg.RRN, bank.RRN),
		PGAmountPaise:   ptr(pg.AmountPaise),
		BankAmountPaise: ptr(bank.AmountPaise),
		PGFeePaise:      pg.FeePaise,
		BankFeePaise:    bank.FeePaise,
	}
	if !pg.DateDeferred {
		t := pg.OccurredAt
		r.PGDate = &t
	}
	if !bank.DateDeferred {
		t := bank.OccurredAt
		r.BankDate = &t
	}
	return r
}

func duplicateResult(pg, bank *recon.NormalizedRecord) recon.Result {
	r := pairResult(pg, bank)
	r.Status = shared.MatchStatusDuplicate
	r.ReasonCode = ReasonDuplicateClaim
	r.Confidence = 0.3
	delta := bank.AmountPaise - pg.AmountPaise
	r.AmountDeltaPaise = &delta
	return r
}

func unmatchedPGResult(pg *recon.NormalizedRecord) recon.Result {
	r := recon.Result{
		Status:        shared.MatchStatusUnmatchedPG,
		ReasonCode:    ReasonNoBankCandidate,
		PGTxnID:       pg.TxnID,
		UTR:           pg.UTR,
		RRN:           pg.RRN,
		PGAmountPaise: ptr(pg.AmountPaise),
		PGFeePaise:    pg.FeePaise,
	}
	if !pg.DateDeferred {
		t := pg.OccurredAt
		r.PGDate = &t
	}
	return r
}

func unmatchedBankResult(bank *recon.NormalizedRecord) recon.Result {
	r := recon.Result{
		Status:          shared.MatchStatusUnmatchedBank,
		ReasonCode:      ReasonNoPGCandidate,
		BankRef:         bank.RawRef,
		UTR:             bank.UTR,
		RRN:             bank.RRN,
		BankAmountPaise: ptr(bank.AmountPaise),
		BankFeePaise:    bank.FeePaise,
	}
	if !bank.DateDeferred {
		t := bank.OccurredAt
		r.BankDate = &t
	}
	return r
}

func awaitedResult(pg *recon.NormalizedRecord) recon.Result {
	r := unmatchedPGResult(pg)
	r.Status = shared.MatchStatusBankFileAwaited
	r.ReasonCode = ReasonBankFileAwaited
	return r
}

func daysBetween(pg, bank time.Time) int {
	return int(bank.Sub(pg).Hours() / 24)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func ptr[T any](v T) *T {
	return &v
}
