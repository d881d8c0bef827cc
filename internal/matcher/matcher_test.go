package matcher

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

var cycleDay = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func pgRec(txnID, utr string, amount int64, at time.Time) recon.NormalizedRecord {
	return recon.NormalizedRecord{
		Side:        shared.SourceSidePG,
		TxnID:       txnID,
		UTR:         utr,
		AmountPaise: amount,
		OccurredAt:  at,
		RawRef:      txnID,
	}
}

func bankRec(ref, utr string, amount int64, at time.Time) recon.NormalizedRecord {
	return recon.NormalizedRecord{
		Side:        shared.SourceSideBank,
		UTR:         utr,
		AmountPaise: amount,
		OccurredAt:  at,
		RawRef:      ref,
	}
}

func zeroTol() recon.Tolerances {
	return recon.Tolerances{AmountTolerancePaise: 0, DateWindow: 0}
}

func TestMatch_ExactMatch(t *testing.T) {
	in := Input{
		PG:               []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay)},
		Bank:             []recon.NormalizedRecord{bankRec("B1", "U1", 100000, cycleDay)},
		BankFileReceived: true,
	}

	results := Match(in, zeroTol())

	require.Len(t, results, 1)
	assert.Equal(t, shared.MatchStatusMatched, results[0].Status)
	assert.Equal(t, ReasonExactMatch, results[0].ReasonCode)
	assert.Equal(t, 1.0, results[0].Confidence)
	assert.Equal(t, "T1", results[0].PGTxnID)
	assert.Equal(t, "B1", results[0].BankRef)
}

func TestMatch_AmountMismatch(t *testing.T) {
	in := Input{
		PG:               []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay)},
		Bank:             []recon.NormalizedRecord{bankRec("B1", "U1", 100500, cycleDay)},
		BankFileReceived: true,
	}

	results := Match(in, zeroTol())

	require.Len(t, results, 1)
	assert.Equal(t, shared.MatchStatusAmountMismatch, results[0].Status)
	require.NotNil(t, results[0].AmountDeltaPaise)
	assert.Equal(t, int64(500), *results[0].AmountDeltaPaise)
}

func TestMatch_DateMismatch(t *testing.T) {
	in := Input{
		PG:               []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay)},
		Bank:             []recon.NormalizedRecord{bankRec("B1", "U1", 100000, cycleDay.Add(48*time.Hour))},
		BankFileReceived: true,
	}

	results := Match(in, recon.Tolerances{AmountTolerancePaise: 0, DateWindow: 24 * time.Hour})

	require.Len(t, results, 1)
	assert.Equal(t, shared.MatchStatusDateMismatch, results[0].Status)
	require.NotNil(t, results[0].DateDeltaDays)
	assert.Equal(t, 2, *results[0].DateDeltaDays)
}

func TestMatch_AmountTakesPrecedenceOverDate(t *testing.T) {
	// Both thresholds exceeded: the documented tie-break picks AMOUNT_MISMATCH.
	in := Input{
		PG:               []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay)},
		Bank:             []recon.NormalizedRecord{bankRec("B1", "U1", 105000, cycleDay.Add(5*24*time.Hour))},
		BankFileReceived: true,
	}

	results := Match(in, recon.Tolerances{AmountTolerancePaise: 100, DateWindow: 24 * time.Hour})

	require.Len(t, results, 1)
	assert.Equal(t, shared.MatchStatusAmountMismatch, results[0].Status)
}

func TestMatch_WithinTolerance(t *testing.T) {
	in := Input{
		PG:               []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay)},
		Bank:             []recon.NormalizedRecord{bankRec("B1", "U1", 100050, cycleDay.Add(6*time.Hour))},
		BankFileReceived: true,
	}

	results := Match(in, recon.Tolerances{AmountTolerancePaise: 100, DateWindow: 24 * time.Hour})

	require.Len(t, results, 1)
	assert.Equal(t, shared.MatchStatusMatched, results[0].Status)
	assert.Equal(t, ReasonWithinTolerance, results[0].ReasonCode)
}

func TestMatch_FeeMismatch(t *testing.T) {
	pgFee, bankFee := int64(200), int64(950)
	pg := pgRec("T1", "U1", 100000, cycleDay)
	pg.FeePaise = &pgFee
	bank := bankRec("B1", "U1", 100000, cycleDay)
	bank.FeePaise = &bankFee

	results := Match(Input{PG: []recon.NormalizedRecord{pg}, Bank: []recon.NormalizedRecord{bank}, BankFileReceived: true},
		recon.Tolerances{AmountTolerancePaise: 100, DateWindow: 24 * time.Hour})

	require.Len(t, results, 1)
	assert.Equal(t, shared.MatchStatusFeeMismatch, results[0].Status)
	require.NotNil(t, results[0].FeeDeltaPaise)
	assert.Equal(t, int64(750), *results[0].FeeDeltaPaise)
}

func TestMatch_BankFileAwaited(t *testing.T) {
	in := Input{
		PG:               []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay), pgRec("T2", "U2", 5000, cycleDay)},
		BankFileReceived: false,
	}

	results := Match(in, zeroTol())

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, shared.MatchStatusBankFileAwaited, r.Status)
		assert.NotEqual(t, shared.MatchStatusUnmatchedPG, r.Status)
	}
}

func TestMatch_UnmatchedBothSides(t *testing.T) {
	in := Input{
		PG:               []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay)},
		Bank:             []recon.NormalizedRecord{bankRec("B9", "U9", 42, cycleDay)},
		BankFileReceived: true,
	}

	results := Match(in, zeroTol())

	require.Len(t, results, 2)
	statuses := map[shared.MatchStatus]int{}
	for _, r := range results {
		statuses[r.Status]++
	}
	assert.Equal(t, 1, statuses[shared.MatchStatusUnmatchedPG])
	assert.Equal(t, 1, statuses[shared.MatchStatusUnmatchedBank])
}

func TestMatch_DuplicateCandidates(t *testing.T) {
	// Two bank records share the UTR; the amount-closest one matches, the
	// other is flagged DUPLICATE, and no bank record is claimed twice.
	in := Input{
		PG: []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay)},
		Bank: []recon.NormalizedRecord{
			bankRec("B1", "U1", 100000, cycleDay),
			bankRec("B2", "U1", 99000, cycleDay),
		},
		BankFileReceived: true,
	}

	results := Match(in, zeroTol())

	require.Len(t, results, 2)
	var matched, dup int
	for _, r := range results {
		switch r.Status {
		case shared.MatchStatusMatched:
			matched++
			assert.Equal(t, "B1", r.BankRef)
		case shared.MatchStatusDuplicate:
			dup++
			assert.Equal(t, "B2", r.BankRef)
		}
	}
	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, dup)
}

func TestMatch_AtMostOneMatchPerBankRecord(t *testing.T) {
	// Two PG records with the same UTR compete for one bank record: only one
	// can win it.
	in := Input{
		PG: []recon.NormalizedRecord{
			pgRec("T1", "U1", 100000, cycleDay),
			pgRec("T2", "U1", 100000, cycleDay),
		},
		Bank:             []recon.NormalizedRecord{bankRec("B1", "U1", 100000, cycleDay)},
		BankFileReceived: true,
	}

	results := Match(in, zeroTol())

	claimedBy := map[string][]string{}
	for _, r := range results {
		if r.Status == shared.MatchStatusMatched {
			claimedBy[r.BankRef] = append(claimedBy[r.BankRef], r.PGTxnID)
		}
	}
	for ref, claimants := range claimedBy {
		assert.Len(t, claimants, 1, "bank record %s matched more than once", ref)
	}
}

func TestMatch_DeterministicTieBreak(t *testing.T) {
	// Two bank candidates equally amount- and date-close: the lower record
	// ref must win, on every rerun.
	pg := []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay)}
	bank := []recon.NormalizedRecord{
		bankRec("B2", "U1", 100000, cycleDay),
		bankRec("B1", "U1", 100000, cycleDay),
	}

	for i := 0; i < 10; i++ {
		results := Match(Input{PG: pg, Bank: bank, BankFileReceived: true}, zeroTol())
		for _, r := range results {
			if r.Status == shared.MatchStatusMatched {
				assert.Equal(t, "B1", r.BankRef)
			}
		}
	}
}

func TestMatch_IdempotentAndOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var pg, bank []recon.NormalizedRecord
	for i := 0; i < 200; i++ {
		amount := int64(1000 + rng.Intn(100000))
		at := cycleDay.Add(time.Duration(rng.Intn(48)) * time.Hour)
		utr := fmt.Sprintf("U%03d", i)
		pg = append(pg, pgRec(fmt.Sprintf("T%03d", i), utr, amount, at))
		if i%7 != 0 { // leave some PG records unmatched
			bank = append(bank, bankRec(fmt.Sprintf("B%03d", i), utr, amount+int64(rng.Intn(3)*400), at))
		}
	}
	tol := recon.Tolerances{AmountTolerancePaise: 100, DateWindow: 24 * time.Hour}

	baseline := Match(Input{PG: pg, Bank: bank, BankFileReceived: true}, tol)

	for run := 0; run < 3; run++ {
		shuffledPG := append([]recon.NormalizedRecord(nil), pg...)
		shuffledBank := append([]recon.NormalizedRecord(nil), bank...)
		rng.Shuffle(len(shuffledPG), func(i, j int) { shuffledPG[i], shuffledPG[j] = shuffledPG[j], shuffledPG[i] })
		rng.Shuffle(len(shuffledBank), func(i, j int) { shuffledBank[i], shuffledBank[j] = shuffledBank[j], shuffledBank[i] })

		rerun := Match(Input{PG: shuffledPG, Bank: shuffledBank, BankFileReceived: true}, tol)
		assert.Equal(t, baseline, rerun, "rerun %d diverged from baseline", run)
	}
}

func TestMatch_EveryInputRecordClassifiedOnce(t *testing.T) {
	in := Input{
		PG: []recon.NormalizedRecord{
			pgRec("T1", "U1", 100000, cycleDay),
			pgRec("T2", "U2", 5000, cycleDay),
			pgRec("T3", "", 7000, cycleDay), // composite-key fallback
		},
		Bank: []recon.NormalizedRecord{
			bankRec("B1", "U1", 100000, cycleDay),
			bankRec("B3", "", 7000, cycleDay),
			bankRec("B4", "U4", 999, cycleDay),
		},
		BankFileReceived: true,
	}

	results := Match(in, zeroTol())

	// 2 matched pairs (joined rows) + 1 unmatched PG + 1 unmatched bank.
	require.Len(t, results, 4)
	counts := map[shared.MatchStatus]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	assert.Equal(t, 2, counts[shared.MatchStatusMatched])
	assert.Equal(t, 1, counts[shared.MatchStatusUnmatchedPG])
	assert.Equal(t, 1, counts[shared.MatchStatusUnmatchedBank])
}

func TestMatchScoped_SameClassificationAsFullRun(t *testing.T) {
	cycleDay := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	in := Input{
		PG:               []recon.NormalizedRecord{pgRec("T1", "U1", 100000, cycleDay)},
		Bank:             []recon.NormalizedRecord{bankRec("B1", "U1", 100000, cycleDay)},
		BankFileReceived: true,
	}

	assert.Equal(t, Match(in, zeroTol()), MatchScoped(in, zeroTol()))
}
