package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/audit"
	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/job"
	"github.com/settleline-recon-engine/internal/domain/mapping"
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/rule"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// TriggerRunParams carries a validated run-trigger request
type TriggerRunParams struct {
	CycleDate     string
	MerchantID    string
	AcquirerID    string
	DryRun        bool
	Limit         int
	CorrelationID string
}

// ResultPage is one keyset page of a job's results
type ResultPage struct {
	Results []*recon.Result
	HasMore bool
}

// ReconService defines the interface for run-trigger and job read operations
type ReconService interface {
	// TriggerRun creates and enqueues a recon job. For non-dry runs the
	// (cycleDate, merchantID, acquirerID) key is idempotent: an existing
	// active job is returned instead of a new one, signalled by created=false.
	TriggerRun(ctx context.Context, params TriggerRunParams) (j *job.ReconJob, created bool, err error)

	// GetJob retrieves a job by its ID
	// Returns ErrJobNotFound if the job doesn't exist
	GetJob(ctx context.Context, id uuid.UUID) (*job.ReconJob, error)

	// GetSummary aggregates stored results into the per-status breakdown.
	// A completed job whose counters disagree with the aggregation returns
	// the summary together with an InvariantViolationError.
	GetSummary(ctx context.Context, jobID uuid.UUID) (recon.Summary, error)

	// ListResults returns one keyset page of a job's classified results
	ListResults(ctx context.Context, jobID uuid.UUID, filter recon.ResultFilter) (ResultPage, error)
}

// ExceptionPage is one keyset page of the exception queue plus its counts
type ExceptionPage struct {
	Items   []*exception.Exception
	HasMore bool
	Counts  map[shared.ExceptionStatus]int64
}

// BulkOutcome reports one item of a bulk operation
type BulkOutcome struct {
	ID     uuid.UUID `json:"id"`
	OK     bool      `json:"ok"`
	Reason string    `json:"reason,omitempty"`
}

// BulkResolveResult aggregates a bulk resolve
type BulkResolveResult struct {
	Resolved int           `json:"resolved"`
	Failures []BulkOutcome `json:"failures"`
}

// BulkUpdateParams applies one operation to many exceptions
type BulkUpdateParams struct {
	IDs   []uuid.UUID
	Op    string // assign | snooze | escalate | add_tag
	Actor string

	AssignTo    string
	SnoozeUntil time.Time
	Tag         string
}

// BulkResolveParams resolves many exceptions with one decision
type BulkResolveParams struct {
	IDs      []uuid.UUID
	Action   shared.ResolveAction
	AssignTo string
	Note     string
	Actor    string
}

// ExceptionService defines the interface for the exception lifecycle.
// Every mutation takes the version the client read; a zero version means
// use the stored one.
type ExceptionService interface {
	List(ctx context.Context, f exception.Filter) (ExceptionPage, error)
	Get(ctx context.Context, id uuid.UUID) (*exception.Exception, error)

	Assign(ctx context.Context, id uuid.UUID, version int, userID, actor string) (*exception.Exception, error)
	Investigate(ctx context.Context, id uuid.UUID, version int, actor string) (*exception.Exception, error)
	Snooze(ctx context.Context, id uuid.UUID, version int, until time.Time, actor string) (*exception.Exception, error)
	Escalate(ctx context.Context, id uuid.UUID, version int, actor string) (*exception.Exception, error)
	Resolve(ctx context.Context, id uuid.UUID, version int, action shared.ResolveAction, note, actor string) (*exception.Exception, error)
	AddTag(ctx context.Context, id uuid.UUID, version int, tag, actor string) (*exception.Exception, error)

	// Reprocess re-runs the matcher scoped to the exception's source rows;
	// a now-clean classification closes the exception automatically.
	Reprocess(ctx context.Context, id uuid.UUID, version int, actor string) (*exception.Exception, error)

	BulkUpdate(ctx context.Context, params BulkUpdateParams) []BulkOutcome
	BulkResolve(ctx context.Context, params BulkResolveParams) BulkResolveResult

	// Audit retrieves the paginated mutation trail of one exception
	Audit(ctx context.Context, id uuid.UUID, page, perPage int) ([]*audit.Entry, int64, error)
}

// AdminService defines operational endpoints for templates and triage rules
type AdminService interface {
	CreateTemplate(ctx context.Context, t *mapping.Template) error
	GetTemplate(ctx context.Context, acquirerCode string) (*mapping.Template, error)
	CreateRule(ctx context.Context, r *rule.Rule) error
	ListRules(ctx context.Context) ([]*rule.Rule, error)
}
