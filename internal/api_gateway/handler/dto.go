package handler

import (
	"time"

	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/job"
	"github.com/settleline-recon-engine/internal/domain/mapping"
	"github.com/settleline-recon-engine/internal/domain/rule"
)

// TriggerRunRequest represents a request to trigger a recon run
type TriggerRunRequest struct {
	Date       string `json:"date" binding:"required,datetime=2006-01-02"`
	MerchantID string `json:"merchant_id,omitempty"`
	AcquirerID string `json:"acquirer_id,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
	Limit      int    `json:"limit,omitempty" binding:"min=0"`
}

// TriggerRunResponse acknowledges an enqueued run
type TriggerRunResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	CycleDate string `json:"cycle_date"`
	DryRun    bool   `json:"dry_run"`
	// Existing is true when the idempotency key matched an active job
	Existing bool `json:"existing"`
}

// JobResponse represents a recon job in API responses
type JobResponse struct {
	ID         string       `json:"id"`
	CycleDate  string       `json:"cycle_date"`
	MerchantID string       `json:"merchant_id,omitempty"`
	AcquirerID string       `json:"acquirer_id,omitempty"`
	SourceType string       `json:"source_type"`
	Status     string       `json:"status"`
	Counters   job.Counters `json:"counters"`
	Finalized  bool         `json:"finalized"`
	Error      *job.Error   `json:"error,omitempty"`
	CreatedAt  string       `json:"created_at"`
	StartedAt  string       `json:"started_at,omitempty"`
	FinishedAt string       `json:"finished_at,omitempty"`
}

// NewJobResponse converts a job entity to its wire form
func NewJobResponse(j *job.ReconJob) JobResponse {
	resp := JobResponse{
		ID:         j.ID.String(),
		CycleDate:  j.CycleDate,
		MerchantID: j.MerchantID,
		AcquirerID: j.AcquirerID,
		SourceType: string(j.SourceType),
		Status:     string(j.Status),
		Counters:   j.Counters,
		Finalized:  j.Finalized,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// CursorPageParams represents keyset pagination parameters
type CursorPageParams struct {
	Cursor int64 `form:"cursor,default=0" binding:"min=0"`
	Limit  int   `form:"limit,default=0" binding:"min=0"`
}

// ExceptionActionRequest carries the optimistic version for single-item
// actions plus the per-action argument
type ExceptionActionRequest struct {
	Version     int        `json:"version" binding:"min=0"`
	AssignTo    string     `json:"assign_to,omitempty"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
	Action      string     `json:"action,omitempty"`
	Note        string     `json:"note,omitempty"`
	Tag         string     `json:"tag,omitempty"`
}

// BulkUpdateRequest applies one operation to many exceptions
type BulkUpdateRequest struct {
	IDs         []string   `json:"ids" binding:"required,min=1,dive,uuid"`
	Op          string     `json:"op" binding:"required,oneof=assign snooze escalate add_tag"`
	AssignTo    string     `json:"assign_to,omitempty"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
	Tag         string     `json:"tag,omitempty"`
}

// BulkResolveRequest resolves many exceptions with one decision
type BulkResolveRequest struct {
	Items    []string `json:"items" binding:"required,min=1,dive,uuid"`
	Action   string   `json:"action" binding:"required"`
	AssignTo string   `json:"assign_to,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// ExceptionListResponse is one page of the exception queue
type ExceptionListResponse struct {
	Counts  map[string]int64       `json:"counts"`
	Items   []*exception.Exception `json:"items"`
	Cursor  int64                  `json:"cursor,omitempty"`
	HasMore bool                   `json:"has_more"`
}

// ResultListResponse is one page of a job's classified results
type ResultListResponse struct {
	Results interface{} `json:"results"`
	Cursor  int64       `json:"cursor,omitempty"`
	HasMore bool        `json:"has_more"`
}

// CreateTemplateRequest publishes a mapping template version
type CreateTemplateRequest struct {
	AcquirerCode    string                         `json:"acquirer_code" binding:"required"`
	FieldMap        map[string]string              `json:"field_map" binding:"required"`
	DateFormats     map[string][]string            `json:"date_formats,omitempty"`
	AmountParsers   map[string]mapping.AmountParser `json:"amount_parsers,omitempty"`
	DeferDateErrors bool                           `json:"defer_date_errors,omitempty"`
}

// CreateRuleRequest persists a triage rule
type CreateRuleRequest struct {
	Name     string        `json:"name" binding:"required"`
	Priority int           `json:"priority" binding:"min=0"`
	Enabled  bool          `json:"enabled"`
	Scope    rule.Scope    `json:"scope"`
	Actions  []rule.Action `json:"actions" binding:"required,min=1"`
}

// PaginationParams represents page/offset pagination for the audit trail
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=20" binding:"min=1,max=100"`
}
