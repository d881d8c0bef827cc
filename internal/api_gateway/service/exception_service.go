package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/audit"
	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/job"
	"github.com/settleline-recon-engine/internal/domain/mapping"
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/domain/staging"
	"github.com/settleline-recon-engine/internal/matcher"
	"github.com/settleline-recon-engine/internal/normalizer"
	"github.com/settleline-recon-engine/internal/platform/messaging/producers"
)

// RuleEvaluator applies the triage rule set after a committed mutation
type RuleEvaluator interface {
	Evaluate(ctx context.Context, exc *exception.Exception) (bool, error)
}

// ExceptionServiceImpl implements the ExceptionService interface
type ExceptionServiceImpl struct {
	excRepo      exception.Repository
	auditRepo    audit.Repository
	resultRepo   recon.Repository
	jobRepo      job.Repository
	templateRepo mapping.Repository
	stagingRepo  staging.Repository
	rules        RuleEvaluator
	eventPub     producers.MessagePublisher
	tolerances   recon.Tolerances
	logger       *slog.Logger
}

// NewExceptionService creates a new exception service
func NewExceptionService(
	logger *slog.Logger,
	excRepo exception.Repository,
	auditRepo audit.Repository,
	resultRepo recon.Repository,
	jobRepo job.Repository,
	templateRepo mapping.Repository,
	stagingRepo staging.Repository,
	rules RuleEvaluator,
	eventPub producers.MessagePublisher,
	tolerances recon.Tolerances,
) ExceptionService {
	return &ExceptionServiceImpl{
		excRepo:      excRepo,
		auditRepo:    auditRepo,
		resultRepo:   resultRepo,
		jobRepo:      jobRepo,
		templateRepo: templateRepo,
		stagingRepo:  stagingRepo,
		rules:        rules,
		eventPub:     eventPub,
		tolerances:   tolerances,
		logger:       logger,
	}
}

// List returns one keyset page of the exception queue plus filtered counts
func (s *ExceptionServiceImpl) List(ctx context.Context, f exception.Filter) (ExceptionPage, error) {
	items, hasMore, err := s.excRepo.List(ctx, f)
	if err != nil {
		return ExceptionPage{}, err
	}
	counts, err := s.excRepo.CountByStatus(ctx, f)
	if err != nil {
		return ExceptionPage{}, err
	}
	return ExceptionPage{Items: items, HasMore: hasMore, Counts: counts}, nil
}

// Get retrieves an exception by its ID
func (s *ExceptionServiceImpl) Get(ctx context.Context, id uuid.UUID) (*exception.Exception, error) {
	return s.excRepo.GetByID(ctx, id)
}

// apply runs one named transition end to end: load, mutate, persist under
// the version the client read, audit, publish, re-evaluate rules. The rule
// evaluation happens strictly after the update commits.
func (s *ExceptionServiceImpl) apply(
	ctx context.Context,
	id uuid.UUID,
	version int,
	action, actor, note string,
	mutate func(e *exception.Exception) (bool, error),
) (*exception.Exception, error) {
	exc, err := s.excRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if version <= 0 {
		version = exc.Version
	}

	before := exc.Status
	changed, err := mutate(exc)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Idempotent no-ops skip persistence and audit noise
		return exc, nil
	}

	if err := s.excRepo.Update(ctx, exc, version); err != nil {
		s.logger.Warn("Exception update rejected",
			"exception_id", id.String(),
			"action", action,
			"expected_version", version,
			"error", err.Error(),
		)
		return nil, err
	}

	entry := audit.NewEntry(exc.ID, actor, action, before, exc.Status, note)
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		// The transition already committed; a lost audit write is logged
		// loudly rather than rolled back
		s.logger.Error("Failed to append audit entry",
			"exception_id", id.String(),
			"action", action,
			"error", err,
		)
	}

	s.publishEvent(ctx, exc)

	if s.rules != nil {
		if _, err := s.rules.Evaluate(ctx, exc); err != nil {
			s.logger.Warn("Rule evaluation after mutation failed",
				"exception_id", id.String(),
				"error", err.Error(),
			)
		}
	}
	return exc, nil
}

// Assign sets the assignee without changing status
func (s *ExceptionServiceImpl) Assign(ctx context.Context, id uuid.UUID, version int, userID, actor string) (*exception.Exception, error) {
	return s.apply(ctx, id, version, "assign", actor, "assigned to "+userID, func(e *exception.Exception) (bool, error) {
		return e.Assign(userID)
	})
}

// Investigate moves an open exception into investigation
func (s *ExceptionServiceImpl) Investigate(ctx context.Context, id uuid.UUID, version int, actor string) (*exception.Exception, error) {
	return s.apply(ctx, id, version, "investigate", actor, "", func(e *exception.Exception) (bool, error) {
		return true, e.Investigate()
	})
}

// Snooze parks the exception until the given time
func (s *ExceptionServiceImpl) Snooze(ctx context.Context, id uuid.UUID, version int, until time.Time, actor string) (*exception.Exception, error) {
	return s.apply(ctx, id, version, "snooze", actor, "until "+until.UTC().Format(time.RFC3339), func(e *exception.Exception) (bool, error) {
		return true, e.Snooze(until)
	})
}

// Escalate raises the exception out of the normal queue
func (s *ExceptionServiceImpl) Escalate(ctx context.Context, id uuid.UUID, version int, actor string) (*exception.Exception, error) {
	return s.apply(ctx, id, version, "escalate", actor, "", func(e *exception.Exception) (bool, error) {
		return e.Escalate()
	})
}

// Resolve closes the exception with an operator decision
func (s *ExceptionServiceImpl) Resolve(ctx context.Context, id uuid.UUID, version int, action shared.ResolveAction, note, actor string) (*exception.Exception, error) {
	return s.apply(ctx, id, version, "resolve:"+string(action), actor, note, func(e *exception.Exception) (bool, error) {
		return e.Resolve(action, note, actor)
	})
}

// AddTag appends a tag if absent
func (s *ExceptionServiceImpl) AddTag(ctx context.Context, id uuid.UUID, version int, tag, actor string) (*exception.Exception, error) {
	return s.apply(ctx, id, version, "add_tag", actor, tag, func(e *exception.Exception) (bool, error) {
		return e.AddTag(tag), nil
	})
}

// Reprocess re-runs the matcher scoped to the exception's source rows. A
// classification that comes back MATCHED re-labels the stored result and
// closes the exception automatically, attributed to the system actor.
func (s *ExceptionServiceImpl) Reprocess(ctx context.Context, id uuid.UUID, version int, actor string) (*exception.Exception, error) {
	exc, err := s.excRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exc.Status.IsTerminal() {
		return nil, exception.ErrTransitionNotAllowed{Status: exc.Status, Action: "reprocess"}
	}
	if version <= 0 {
		version = exc.Version
	}

	result, err := s.resultRepo.GetByID(ctx, exc.ResultID)
	if err != nil {
		return nil, fmt.Errorf("loading source result: %w", err)
	}
	j, err := s.jobRepo.GetByID(ctx, exc.SourceJobID)
	if err != nil {
		return nil, fmt.Errorf("loading source job: %w", err)
	}

	scoped, err := s.rematchScope(ctx, j, result)
	if err != nil {
		return nil, err
	}

	outcome := pickOutcome(scoped, result)
	if outcome == nil {
		// The referenced rows are gone from staging; nothing to reclassify
		s.appendAudit(ctx, audit.NewEntry(exc.ID, actor, "reprocess", exc.Status, exc.Status, "source rows no longer staged"))
		return exc, nil
	}

	if outcome.Status == result.Status {
		s.appendAudit(ctx, audit.NewEntry(exc.ID, actor, "reprocess", exc.Status, exc.Status, "classification unchanged: "+string(result.Status)))
		return exc, nil
	}

	if err := s.resultRepo.UpdateStatus(ctx, result.ID, outcome.Status, outcome.ReasonCode); err != nil {
		return nil, fmt.Errorf("reclassifying result: %w", err)
	}

	if outcome.Status != shared.MatchStatusMatched {
		// Still exceptional under the new classification; record the shift
		// and leave the lifecycle state alone
		s.appendAudit(ctx, audit.NewEntry(exc.ID, actor, "reprocess", exc.Status, exc.Status,
			fmt.Sprintf("reclassified %s -> %s", result.Status, outcome.Status)))
		return exc, nil
	}

	before := exc.Status
	if _, err := exc.Resolve(shared.ResolveActionAcceptBank, "record matched on reprocess", shared.ActorSystem); err != nil {
		return nil, err
	}
	if err := s.excRepo.Update(ctx, exc, version); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, audit.NewEntry(exc.ID, shared.ActorSystem, "reprocess_close", before, exc.Status, "record matched on reprocess"))
	s.publishEvent(ctx, exc)
	return exc, nil
}

// rematchScope loads and normalizes the cycle's rows, narrowed to the
// records the result references, and reruns classification over them
func (s *ExceptionServiceImpl) rematchScope(ctx context.Context, j *job.ReconJob, result *recon.Result) ([]recon.Result, error) {
	bankTpl, err := s.templateRepo.GetLatestByAcquirer(ctx, j.AcquirerID)
	if err != nil {
		return nil, fmt.Errorf("resolving template: %w", err)
	}

	pgRecords, _, err := s.loadRecords(ctx, j, shared.SourceSidePG, mapping.GatewayTemplate())
	if err != nil {
		return nil, err
	}
	bankRecords, bankStaged, err := s.loadRecords(ctx, j, shared.SourceSideBank, bankTpl)
	if err != nil {
		return nil, err
	}

	scoped := matcher.Input{
		PG:   filterRecords(pgRecords, result.PGTxnID, result.UTR, result.RRN),
		Bank: filterRecords(bankRecords, result.BankRef, result.UTR, result.RRN),
		// Staged rows, not normalized records: a bank file whose rows all
		// fail normalization has still been received, matching the full
		// run's accounting.
		BankFileReceived: bankStaged > 0,
	}
	return matcher.MatchScoped(scoped, s.tolerances), nil
}

// loadRecords stages one side's rows through the normalizer and also reports
// how many raw rows were staged before normalization.
func (s *ExceptionServiceImpl) loadRecords(ctx context.Context, j *job.ReconJob, side shared.SourceSide, tpl *mapping.Template) ([]recon.NormalizedRecord, int, error) {
	rows, err := s.stagingRepo.List(ctx, staging.Query{
		Side:       side,
		CycleDate:  j.CycleDate,
		MerchantID: j.MerchantID,
		AcquirerID: j.AcquirerID,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing staged %s rows: %w", side, err)
	}
	raw := make([]map[string]string, len(rows))
	for i, row := range rows {
		raw[i] = row.Fields
	}
	records, _ := normalizer.NormalizeSet(raw, side, tpl)
	return records, len(rows), nil
}

// filterRecords keeps the records referencing any of the result's identifiers
func filterRecords(records []recon.NormalizedRecord, txnID, utr, rrn string) []recon.NormalizedRecord {
	var out []recon.NormalizedRecord
	for _, rec := range records {
		if (txnID != "" && rec.TxnID == txnID) ||
			(utr != "" && rec.UTR == utr) ||
			(rrn != "" && rec.RRN == rrn) {
			out = append(out, rec)
		}
	}
	return out
}

// pickOutcome selects the scoped result covering the original row pairing.
// A result for a different pairing is never a substitute; when none covers
// the original, the caller treats the source rows as gone.
func pickOutcome(scoped []recon.Result, original *recon.Result) *recon.Result {
	for i := range scoped {
		r := &scoped[i]
		if original.PGTxnID != "" && r.PGTxnID == original.PGTxnID {
			return r
		}
		if original.PGTxnID == "" && original.BankRef != "" && r.BankRef == original.BankRef {
			return r
		}
	}
	return nil
}

func (s *ExceptionServiceImpl) appendAudit(ctx context.Context, entry *audit.Entry) {
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to append audit entry",
			"exception_id", entry.ExceptionID.String(),
			"action", entry.Action,
			"error", err,
		)
	}
}

// BulkUpdate applies one operation per item, never all-or-nothing
func (s *ExceptionServiceImpl) BulkUpdate(ctx context.Context, params BulkUpdateParams) []BulkOutcome {
	outcomes := make([]BulkOutcome, 0, len(params.IDs))
	for _, id := range params.IDs {
		var err error
		switch params.Op {
		case "assign":
			_, err = s.Assign(ctx, id, 0, params.AssignTo, params.Actor)
		case "snooze":
			_, err = s.Snooze(ctx, id, 0, params.SnoozeUntil, params.Actor)
		case "escalate":
			_, err = s.Escalate(ctx, id, 0, params.Actor)
		case "add_tag":
			_, err = s.AddTag(ctx, id, 0, params.Tag, params.Actor)
		default:
			err = fmt.Errorf("unsupported bulk operation %q", params.Op)
		}
		outcomes = append(outcomes, toOutcome(id, err))
	}
	return outcomes
}

// BulkResolve resolves each item independently and reports per-item failures
func (s *ExceptionServiceImpl) BulkResolve(ctx context.Context, params BulkResolveParams) BulkResolveResult {
	result := BulkResolveResult{Failures: []BulkOutcome{}}
	for _, id := range params.IDs {
		if params.AssignTo != "" {
			if _, err := s.Assign(ctx, id, 0, params.AssignTo, params.Actor); err != nil {
				result.Failures = append(result.Failures, toOutcome(id, err))
				continue
			}
		}
		if _, err := s.Resolve(ctx, id, 0, params.Action, params.Note, params.Actor); err != nil {
			result.Failures = append(result.Failures, toOutcome(id, err))
			continue
		}
		result.Resolved++
	}
	return result
}

// Audit retrieves the paginated mutation trail of one exception
func (s *ExceptionServiceImpl) Audit(ctx context.Context, id uuid.UUID, page, perPage int) ([]*audit.Entry, int64, error) {
	if _, err := s.excRepo.GetByID(ctx, id); err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * perPage
	entries, err := s.auditRepo.ListByException(ctx, id, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.auditRepo.CountByException(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *ExceptionServiceImpl) publishEvent(ctx context.Context, exc *exception.Exception) {
	if s.eventPub == nil {
		return
	}
	evt := shared.ChangeEvent{
		Event:      shared.EventExceptionUpdated,
		ID:         exc.ID,
		JobID:      exc.SourceJobID,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.eventPub.Publish(ctx, exc.ID.String(), evt); err != nil {
		s.logger.Warn("Failed to publish exception event",
			"exception_id", exc.ID.String(),
			"error", err.Error(),
		)
	}
}

func toOutcome(id uuid.UUID, err error) BulkOutcome {
	if err == nil {
		return BulkOutcome{ID: id, OK: true}
	}
	reason := err.Error()
	if errors.Is(err, exception.ErrVersionConflict{}) {
		reason = "version conflict"
	}
	return BulkOutcome{ID: id, OK: false, Reason: reason}
}
