package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/settleline-recon-engine/internal/config"
	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/job"
	"github.com/settleline-recon-engine/internal/domain/mapping"
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/domain/staging"
	"github.com/settleline-recon-engine/internal/matcher"
	"github.com/settleline-recon-engine/internal/normalizer"
	"github.com/settleline-recon-engine/internal/platform/messaging/producers"
	"github.com/settleline-recon-engine/internal/platform/observability"
)

// JobRunner drives one recon job from staged rows to classified results and
// exceptions. It is the only writer of a job's status and counters, so job
// updates need no optimistic locking.
type JobRunner struct {
	logger       *slog.Logger
	jobRepo      job.Repository
	templateRepo mapping.Repository
	stagingRepo  staging.Repository
	resultRepo   recon.Repository
	excRepo      exception.Repository
	rules        RuleEvaluator
	eventPub     producers.MessagePublisher
	metrics      *observability.Metrics

	tolerances recon.Tolerances
	batchSize  int
}

// NewJobRunner creates a runner wired to the worker's repositories
func NewJobRunner(
	cfg *config.ReconConfig,
	logger *slog.Logger,
	jobRepo job.Repository,
	templateRepo mapping.Repository,
	stagingRepo staging.Repository,
	resultRepo recon.Repository,
	excRepo exception.Repository,
	rules RuleEvaluator,
	eventPub producers.MessagePublisher,
	metrics *observability.Metrics,
) *JobRunner {
	return &JobRunner{
		logger:       logger,
		jobRepo:      jobRepo,
		templateRepo: templateRepo,
		stagingRepo:  stagingRepo,
		resultRepo:   resultRepo,
		excRepo:      excRepo,
		rules:        rules,
		eventPub:     eventPub,
		metrics:      metrics,
		tolerances: recon.Tolerances{
			AmountTolerancePaise: cfg.AmountTolerancePaise,
			DateWindow:           cfg.DateWindow,
		},
		batchSize: cfg.ResultBatchSize,
	}
}

// RunJob executes one run request. A nil return commits the Kafka offset, so
// every permanent failure is persisted on the job and swallowed here;
// errors are returned only for transient faults worth redelivering.
func (r *JobRunner) RunJob(ctx context.Context, request *shared.RunRequest) error {
	log := r.logger.With(
		slog.String("job_id", request.JobID.String()),
		slog.String("cycle_date", request.CycleDate),
		slog.String("correlation_id", request.CorrelationID),
	)

	j, err := r.jobRepo.GetByID(ctx, request.JobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound{}) {
			log.Warn("Run request references unknown job, dropping")
			return nil
		}
		return fmt.Errorf("loading job: %w", err)
	}

	// Redelivered request for a job another consumer already finished
	if j.Status.IsTerminal() {
		log.Info("Job already terminal, skipping redelivery", slog.String("status", string(j.Status)))
		return nil
	}

	if err := j.Start(); err != nil {
		log.Info("Job already claimed, skipping redelivery", slog.String("status", string(j.Status)))
		return nil
	}
	if err := r.jobRepo.UpdateStatus(ctx, j); err != nil {
		return fmt.Errorf("claiming job: %w", err)
	}
	r.metrics.JobsStarted.Inc()
	started := time.Now()
	log.Info("Job started", slog.Bool("dry_run", request.DryRun))

	counters, runErr := r.execute(ctx, j, request, log)
	j.Counters = counters

	if runErr != nil {
		return r.failJob(ctx, j, runErr, log)
	}

	if err := j.Complete(); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	if err := r.jobRepo.UpdateStatus(ctx, j); err != nil {
		return fmt.Errorf("persisting completed job: %w", err)
	}
	r.publishJobEvent(ctx, j)
	r.metrics.JobsCompleted.Inc()
	r.metrics.JobDuration.Observe(time.Since(started).Seconds())
	log.Info("Job completed",
		slog.Int64("matched", counters.Matched),
		slog.Int64("exceptions", counters.Exceptions),
		slog.Int64("rejected", counters.Rejected))
	return nil
}

// runFailure carries a job error code alongside the underlying cause
type runFailure struct {
	code shared.JobErrorCode
	hint string
	err  error
}

func (f *runFailure) Error() string { return f.err.Error() }

func (r *JobRunner) execute(ctx context.Context, j *job.ReconJob, request *shared.RunRequest, log *slog.Logger) (job.Counters, error) {
	var counters job.Counters

	bankTpl, err := r.templateRepo.GetLatestByAcquirer(ctx, j.AcquirerID)
	if err != nil {
		return counters, &runFailure{
			code: shared.JobErrorTemplateMissing,
			hint: "publish a mapping template for acquirer " + j.AcquirerID + " and re-trigger the run",
			err:  fmt.Errorf("resolving template: %w", err),
		}
	}

	// The two sides are independent until matching, so fetch and
	// normalize run concurrently and the matcher waits on both
	var (
		wg       sync.WaitGroup
		pgLoad   sideLoad
		bankLoad sideLoad
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		pgLoad = r.loadSide(ctx, j, request, shared.SourceSidePG, mapping.GatewayTemplate())
	}()
	go func() {
		defer wg.Done()
		bankLoad = r.loadSide(ctx, j, request, shared.SourceSideBank, bankTpl)
	}()
	wg.Wait()

	if pgLoad.err != nil {
		return counters, &runFailure{
			code: shared.JobErrorSourceUnavailable,
			hint: "staged gateway rows could not be read, retry once storage recovers",
			err:  pgLoad.err,
		}
	}
	if bankLoad.err != nil {
		return counters, &runFailure{
			code: shared.JobErrorSourceUnavailable,
			hint: "staged bank rows could not be read, retry once storage recovers",
			err:  bankLoad.err,
		}
	}
	pgRecords, bankRecords := pgLoad.records, bankLoad.records
	bankRows := bankLoad.rows
	counters.PGFetched = int64(len(pgLoad.rows))
	counters.BankFetched = int64(len(bankRows))
	counters.Normalized = int64(len(pgRecords) + len(bankRecords))
	counters.Rejected = int64(len(pgLoad.rejects) + len(bankLoad.rejects))
	r.recordNormalization(shared.SourceSidePG, pgRecords, pgLoad.rejects)
	r.recordNormalization(shared.SourceSideBank, bankRecords, bankLoad.rejects)
	for _, rej := range append(pgLoad.rejects, bankLoad.rejects...) {
		log.Warn("Row rejected during normalization",
			slog.String("raw_ref", rej.RawRef),
			slog.Any("issues", rej.Issues))
	}

	if err := j.BeginMatching(); err != nil {
		return counters, &runFailure{code: shared.JobErrorInternal, err: err}
	}
	j.Counters = counters
	if err := r.jobRepo.UpdateStatus(ctx, j); err != nil {
		return counters, &runFailure{code: shared.JobErrorInternal, err: fmt.Errorf("persisting matching transition: %w", err)}
	}

	results := matcher.Match(matcher.Input{
		PG:               pgRecords,
		Bank:             bankRecords,
		BankFileReceived: len(bankRows) > 0,
	}, r.tolerances)

	now := time.Now().UTC()
	persisted := make([]*recon.Result, 0, len(results))
	for i := range results {
		res := results[i]
		res.ID = uuid.New()
		res.JobID = j.ID
		res.CreatedAt = now
		persisted = append(persisted, &res)

		r.metrics.Classifications.WithLabelValues(string(res.Status)).Inc()
		switch res.Status {
		case shared.MatchStatusMatched:
			counters.Matched++
		case shared.MatchStatusUnmatchedPG:
			counters.UnmatchedPG++
		case shared.MatchStatusUnmatchedBank:
			counters.UnmatchedBank++
		}
		if res.Status.IsException() {
			counters.Exceptions++
		}
	}

	for start := 0; start < len(persisted); start += r.batchSize {
		end := start + r.batchSize
		if end > len(persisted) {
			end = len(persisted)
		}
		if err := r.resultRepo.CreateBatch(ctx, persisted[start:end]); err != nil {
			return counters, &runFailure{code: shared.JobErrorInternal, err: fmt.Errorf("persisting results: %w", err)}
		}
	}

	// Dry runs compute the same classification but never open exceptions
	// or notify clients
	if request.DryRun {
		return counters, nil
	}

	excs := make([]*exception.Exception, 0)
	for _, res := range persisted {
		if res.Status.NeedsReview() {
			excs = append(excs, exception.NewFromResult(res))
		}
	}
	for start := 0; start < len(excs); start += r.batchSize {
		end := start + r.batchSize
		if end > len(excs) {
			end = len(excs)
		}
		if err := r.excRepo.CreateBatch(ctx, excs[start:end]); err != nil {
			return counters, &runFailure{code: shared.JobErrorInternal, err: fmt.Errorf("persisting exceptions: %w", err)}
		}
	}
	for _, exc := range excs {
		// Triage failures never fail the job; the exception stays OPEN
		// for manual handling
		if _, err := r.rules.Evaluate(ctx, exc); err != nil {
			log.Warn("Rule evaluation failed",
				slog.String("exception_id", exc.ID.String()),
				slog.String("error", err.Error()))
		}
		r.publishExceptionEvent(ctx, exc, j.ID)
	}

	return counters, nil
}

// sideLoad is one side's fetched and normalized view of the cycle
type sideLoad struct {
	rows    []*staging.RawRow
	records []recon.NormalizedRecord
	rejects []normalizer.Reject
	err     error
}

func (r *JobRunner) loadSide(ctx context.Context, j *job.ReconJob, request *shared.RunRequest, side shared.SourceSide, tpl *mapping.Template) sideLoad {
	rows, err := r.stagingRepo.List(ctx, staging.Query{
		Side:       side,
		CycleDate:  j.CycleDate,
		MerchantID: j.MerchantID,
		AcquirerID: j.AcquirerID,
		Limit:      request.Limit,
	})
	if err != nil {
		return sideLoad{err: fmt.Errorf("listing staged %s rows: %w", side, err)}
	}
	records, rejects := normalizer.NormalizeSet(rawFields(rows), side, tpl)
	return sideLoad{rows: rows, records: records, rejects: rejects}
}

func (r *JobRunner) failJob(ctx context.Context, j *job.ReconJob, runErr error, log *slog.Logger) error {
	code := shared.JobErrorInternal
	hint := ""
	if f, ok := runErr.(*runFailure); ok {
		code = f.code
		hint = f.hint
	}
	log.Error("Job failed", slog.String("code", string(code)), slog.String("error", runErr.Error()))

	if err := j.Fail(code, runErr.Error(), hint); err != nil {
		return fmt.Errorf("transitioning job to failed: %w", err)
	}
	if err := r.jobRepo.UpdateStatus(ctx, j); err != nil {
		return fmt.Errorf("persisting failed job: %w", err)
	}
	r.publishJobEvent(ctx, j)
	r.metrics.JobsFailed.WithLabelValues(string(code)).Inc()
	return nil
}

func (r *JobRunner) recordNormalization(side shared.SourceSide, records []recon.NormalizedRecord, rejects []normalizer.Reject) {
	r.metrics.RowsNormalized.WithLabelValues(string(side)).Add(float64(len(records)))
	for _, rej := range rejects {
		code := "UNKNOWN"
		if len(rej.Issues) > 0 {
			code = string(rej.Issues[0].Code)
		}
		r.metrics.RowsRejected.WithLabelValues(code).Inc()
	}
}

func (r *JobRunner) publishJobEvent(ctx context.Context, j *job.ReconJob) {
	// Dry-run previews are never observed through the event stream
	if r.eventPub == nil || !j.Finalized {
		return
	}
	evt := shared.ChangeEvent{
		Event:      shared.EventJobUpdated,
		ID:         j.ID,
		JobID:      j.ID,
		OccurredAt: time.Now().UTC(),
	}
	if err := r.eventPub.Publish(ctx, j.ID.String(), evt); err != nil {
		r.logger.Warn("Failed to publish job event", slog.String("job_id", j.ID.String()), slog.String("error", err.Error()))
	}
}

func (r *JobRunner) publishExceptionEvent(ctx context.Context, exc *exception.Exception, jobID uuid.UUID) {
	if r.eventPub == nil {
		return
	}
	evt := shared.ChangeEvent{
		Event:      shared.EventExceptionUpdated,
		ID:         exc.ID,
		JobID:      jobID,
		OccurredAt: time.Now().UTC(),
	}
	if err := r.eventPub.Publish(ctx, exc.ID.String(), evt); err != nil {
		r.logger.Warn("Failed to publish exception event", slog.String("exception_id", exc.ID.String()), slog.String("error", err.Error()))
	}
}

func rawFields(rows []*staging.RawRow) []map[string]string {
	out := make([]map[string]string, len(rows))
	for i, row := range rows {
		out[i] = row.Fields
	}
	return out
}
