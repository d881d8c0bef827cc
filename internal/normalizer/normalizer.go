// Package normalizer converts raw source rows into canonical normalized
// records using a per-acquirer mapping template. Normalization is a pure
// function: no side effects beyond constructing the output, and every
// rejected row is reported as an issue rather than silently dropped.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/settleline-recon-engine/internal/domain/mapping"
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// IssueCode categorizes per-row validation failures
type IssueCode string

const (
	IssueMissingRequiredField IssueCode = "MISSING_REQUIRED_FIELD"
	IssueInvalidAmount        IssueCode = "INVALID_AMOUNT"
	IssueNegativeAmount       IssueCode = "NEGATIVE_AMOUNT"
	IssueInvalidDate          IssueCode = "INVALID_DATE"
)

// Issue is one validation finding for a raw row
type Issue struct {
	Code    IssueCode `json:"code"`
	Field   string    `json:"field"`
	Message string    `json:"message"`
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s on %s: %s", i.Code, i.Field, i.Message)
}

// Reject pairs a failed raw row with its issues so callers can count and
// surface it
type Reject struct {
	RawRef string  `json:"raw_ref"`
	Issues []Issue `json:"issues"`
}

// Normalize converts one raw column/value map into a normalized record.
// A nil record with non-empty issues means the row was rejected; a non-nil
// record may still carry advisory issues (deferred date errors).
func Normalize(raw map[string]string, side shared.SourceSide, tpl *mapping.Template) (*recon.NormalizedRecord, []Issue) {
	var issues []Issue

	get := func(field string) string {
		col := tpl.Column(field)
		if col == "" {
			return ""
		}
		return strings.TrimSpace(raw[col])
	}

	for _, field := range mapping.RequiredFields {
		if get(field) == "" {
			issues = append(issues, Issue{
				Code:    IssueMissingRequiredField,
				Field:   field,
				Message: "required field is missing or empty",
			})
		}
	}
	if len(issues) > 0 {
		return nil, issues
	}

	amount, err := parseAmount(get(mapping.FieldAmount), tpl.Parser(mapping.FieldAmount))
	if err != nil {
		issues = append(issues, Issue{Code: IssueInvalidAmount, Field: mapping.FieldAmount, Message: err.Error()})
		return nil, issues
	}
	if amount < 0 {
		issues = append(issues, Issue{Code: IssueNegativeAmount, Field: mapping.FieldAmount, Message: "amount must not be negative"})
		return nil, issues
	}

	rec := &recon.NormalizedRecord{
		Side:        side,
		TxnID:       get(mapping.FieldTxnID),
		UTR:         get(mapping.FieldUTR),
		RRN:         get(mapping.FieldRRN),
		AmountPaise: amount,
		RawRef:      rowRef(raw, tpl),
	}

	if raw := get(mapping.FieldFee); raw != "" {
		fee, err := parseAmount(raw, tpl.Parser(mapping.FieldFee))
		if err != nil {
			issues = append(issues, Issue{Code: IssueInvalidAmount, Field: mapping.FieldFee, Message: err.Error()})
			return nil, issues
		}
		rec.FeePaise = &fee
	}
	if raw := get(mapping.FieldTax); raw != "" {
		tax, err := parseAmount(raw, tpl.Parser(mapping.FieldTax))
		if err != nil {
			issues = append(issues, Issue{Code: IssueInvalidAmount, Field: mapping.FieldTax, Message: err.Error()})
			return nil, issues
		}
		rec.TaxPaise = &tax
	}

	occurredAt, err := parseDate(get(mapping.FieldDate), tpl.Layouts(mapping.FieldDate))
	if err != nil {
		issue := Issue{Code: IssueInvalidDate, Field: mapping.FieldDate, Message: err.Error()}
		if !tpl.DeferDateErrors {
			return nil, append(issues, issue)
		}
		// Row proceeds as awaiting: zero date, advisory issue reported.
		rec.DateDeferred = true
		issues = append(issues, issue)
	} else {
		rec.OccurredAt = occurredAt
	}

	if err := rec.Validate(); err != nil {
		return nil, append(issues, Issue{Code: IssueNegativeAmount, Field: mapping.FieldAmount, Message: err.Error()})
	}

	return rec, issues
}

// NormalizeSet maps a batch of raw rows, splitting accepted records from
// rejects. Row order is preserved.
func NormalizeSet(rows []map[string]string, side shared.SourceSide, tpl *mapping.Template) ([]recon.NormalizedRecord, []Reject) {
	records := make([]recon.NormalizedRecord, 0, len(rows))
	var rejects []Reject
	for _, row := range rows {
		rec, issues := Normalize(row, side, tpl)
		if rec == nil {
			rejects = append(rejects, Reject{RawRef: rowRef(row, tpl), Issues: issues})
			continue
		}
		records = append(records, *rec)
	}
	return records, rejects
}

// parseAmount converts a display-currency string to integer minor units.
// decimal avoids binary-float rounding; the scale multiplier comes from the
// template (100 for INR).
func parseAmount(raw string, p mapping.AmountParser) (int64, error) {
	cleaned := strings.ReplaceAll(raw, ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("not a decimal amount: %q", raw)
	}
	scaled := d.Mul(decimal.NewFromInt(p.Scale))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has sub-minor-unit precision", raw)
	}
	return scaled.IntPart(), nil
}

func parseDate(raw string, layouts []string) (time.Time, error) {
	if len(layouts) == 0 {
		layouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00", "2006-01-02", "02/01/2006 15:04:05", "02/01/2006"}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q matches no configured format", raw)
}

// rowRef builds a stable reference back to the raw row for audit and
// reprocess. Prefers the source transaction id column, falls back to UTR.
func rowRef(raw map[string]string, tpl *mapping.Template) string {
	if col := tpl.Column(mapping.FieldTxnID); col != "" && raw[col] != "" {
		return strings.TrimSpace(raw[col])
	}
	if col := tpl.Column(mapping.FieldUTR); col != "" && raw[col] != "" {
		return strings.TrimSpace(raw[col])
	}
	return ""
}
