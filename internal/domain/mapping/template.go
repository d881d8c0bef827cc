// Package mapping defines the per-acquirer template that drives
// normalization of raw source rows. Templates are versioned: once a
// completed job references a version it is never mutated in place.
package mapping

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Internal field names the normalizer understands
const (
	FieldTxnID  = "transaction_id"
	FieldAmount = "payee_amount"
	FieldFee    = "fee_amount"
	FieldTax    = "tax_amount"
	FieldDate   = "transaction_date_time"
	FieldUTR    = "utr"
	FieldRRN    = "rrn"
)

// RequiredFields must resolve to a non-empty source column for a row to be
// accepted into matching
var RequiredFields = []string{FieldTxnID, FieldAmount, FieldDate, FieldUTR}

// AmountParser configures conversion of a display-currency column to paise
type AmountParser struct {
	Type  string `json:"type"`  // "decimal" is the only supported type today
	Scale int64  `json:"scale"` // multiplier to minor units, 100 for INR
}

// Template maps one acquirer's raw columns onto internal fields
type Template struct {
	ID           uuid.UUID               `json:"id"`
	AcquirerCode string                  `json:"acquirer_code"`
	Version      int                     `json:"version"`
	FieldMap     map[string]string       `json:"field_map"`     // internal field -> source column
	DateFormats  map[string][]string     `json:"date_formats"`  // internal field -> Go layouts, tried in order
	AmountParsers map[string]AmountParser `json:"amount_parsers"` // internal field -> parser config
	// DeferDateErrors lets rows with unparseable dates proceed as awaiting
	// instead of being rejected outright.
	DeferDateErrors bool `json:"defer_date_errors"`
}

// Column resolves the source column for an internal field, empty when unmapped
func (t *Template) Column(field string) string {
	return t.FieldMap[field]
}

// Parser returns the amount parser for a field, defaulting to decimal x100
func (t *Template) Parser(field string) AmountParser {
	if p, ok := t.AmountParsers[field]; ok && p.Scale > 0 {
		return p
	}
	return AmountParser{Type: "decimal", Scale: 100}
}

// Layouts returns the date layouts configured for a field
func (t *Template) Layouts(field string) []string {
	return t.DateFormats[field]
}

// GatewayTemplate maps the payment gateway feed, which already arrives
// keyed by internal field names, onto itself
func GatewayTemplate() *Template {
	fields := []string{
		FieldTxnID, FieldAmount, FieldFee,
		FieldTax, FieldDate, FieldUTR, FieldRRN,
	}
	fm := make(map[string]string, len(fields))
	for _, f := range fields {
		fm[f] = f
	}
	return &Template{
		AcquirerCode: "PG",
		Version:      1,
		FieldMap:     fm,
		DateFormats: map[string][]string{
			FieldDate: {time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"},
		},
	}
}

// Repository resolves templates by acquirer. Lookups always return the
// latest version; historical versions stay addressable by id.
type Repository interface {
	GetLatestByAcquirer(ctx context.Context, acquirerCode string) (*Template, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	Create(ctx context.Context, t *Template) error
}

// ErrTemplateNotFound indicates no template exists for an acquirer
type ErrTemplateNotFound struct {
	AcquirerCode string
}

func (e ErrTemplateNotFound) Error() string {
	return "mapping template not found for acquirer: " + e.AcquirerCode
}
