package connector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/settleline-recon-engine/internal/config"
	"github.com/settleline-recon-engine/internal/domain/audit"
	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/domain/staging"
	"github.com/settleline-recon-engine/internal/platform/messaging/producers"
	"github.com/settleline-recon-engine/internal/platform/observability"
)

// Scheduler runs the worker's periodic passes: pulling source rows into
// staging and reopening snoozed exceptions whose window has expired.
type Scheduler struct {
	fetchers     []Fetcher
	stagingRepo  staging.Repository
	excRepo      exception.Repository
	auditRepo    audit.Repository
	eventPub     producers.MessagePublisher
	metrics      *observability.Metrics
	history      *History
	logger       *slog.Logger
	pollInterval time.Duration
	fetchTimeout time.Duration
	snoozeBatch  int
	now          func() time.Time
}

func NewScheduler(
	cfg *config.ConnectorConfig,
	fetchers []Fetcher,
	stagingRepo staging.Repository,
	excRepo exception.Repository,
	auditRepo audit.Repository,
	eventPub producers.MessagePublisher,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		fetchers:     fetchers,
		stagingRepo:  stagingRepo,
		excRepo:      excRepo,
		auditRepo:    auditRepo,
		eventPub:     eventPub,
		metrics:      metrics,
		history:      NewHistory(cfg.HistorySize),
		logger:       logger,
		pollInterval: cfg.PollInterval,
		fetchTimeout: cfg.FetchTimeout,
		snoozeBatch:  cfg.SnoozeBatch,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// History exposes the fetch run history for health reporting
func (s *Scheduler) History() *History {
	return s.history
}

// HealthSnapshots grades every registered source from its run history
func (s *Scheduler) HealthSnapshots() []Health {
	out := make([]Health, 0, len(s.fetchers))
	for _, f := range s.fetchers {
		out = append(out, s.history.HealthFor(f.Name(), f.Side()))
	}
	return out
}

// Start begins ticking until the context is canceled
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting connector scheduler",
		"poll_interval", s.pollInterval.String(),
		"fetch_timeout", s.fetchTimeout.String(),
		"sources", len(s.fetchers),
	)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Connector scheduler stopping due to context cancellation.")
			return
		case <-ticker.C:
			s.logger.Debug("Connector scheduler tick")
			s.runFetchPass(ctx)
			if err := s.runSnoozePass(ctx); err != nil {
				s.logger.Error("Error during snooze reopen pass", "error", err)
			}
			if err := s.refreshOpenGauge(ctx); err != nil {
				s.logger.Error("Error refreshing open exception gauge", "error", err)
			}
		}
	}
}

// runFetchPass pulls the current cycle's rows from every source. Per-source
// failures are recorded and do not abort the remaining sources.
func (s *Scheduler) runFetchPass(ctx context.Context) {
	cycleDate := s.now().Format("2006-01-02")
	for _, f := range s.fetchers {
		rec := s.fetchOne(ctx, f, cycleDate)
		s.history.Record(f.Name(), rec)
		outcome := "ok"
		if rec.Err != "" {
			outcome = "error"
		}
		s.metrics.ConnectorFetches.WithLabelValues(f.Name(), outcome).Inc()
	}
}

func (s *Scheduler) fetchOne(ctx context.Context, f Fetcher, cycleDate string) RunRecord {
	started := s.now()
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	rows, err := f.Fetch(fetchCtx, cycleDate)
	if err != nil {
		s.logger.Error("Source fetch failed", "source", f.Name(), "cycle_date", cycleDate, "error", err)
		return RunRecord{StartedAt: started, Duration: time.Since(started), Err: err.Error()}
	}

	if err := s.stagingRepo.CreateBatch(fetchCtx, rows); err != nil {
		s.logger.Error("Failed to stage fetched rows", "source", f.Name(), "cycle_date", cycleDate, "error", err)
		return RunRecord{StartedAt: started, Duration: time.Since(started), Rows: len(rows), Err: err.Error()}
	}

	s.logger.Info("Staged source rows", "source", f.Name(), "cycle_date", cycleDate, "rows", len(rows))
	return RunRecord{StartedAt: started, Duration: time.Since(started), Rows: len(rows)}
}

// refreshOpenGauge recomputes the open-exception gauge from the store.
// Exceptions are opened by this process but closed by the API, so the gauge
// has to be derived rather than counted incrementally.
func (s *Scheduler) refreshOpenGauge(ctx context.Context) error {
	counts, err := s.excRepo.CountByStatus(ctx, exception.Filter{})
	if err != nil {
		return fmt.Errorf("failed to count exceptions by status: %w", err)
	}
	var open int64
	for status, n := range counts {
		if !status.IsTerminal() {
			open += n
		}
	}
	s.metrics.ExceptionsOpen.Set(float64(open))
	return nil
}

// runSnoozePass reopens snoozed exceptions whose window has expired. A lost
// version race means a concurrent mutation already moved the exception on;
// the reopen is simply skipped.
func (s *Scheduler) runSnoozePass(ctx context.Context) error {
	now := s.now()
	expired, err := s.excRepo.ListExpiredSnoozes(ctx, now, s.snoozeBatch)
	if err != nil {
		return fmt.Errorf("failed to list expired snoozes: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	for _, exc := range expired {
		loadedVersion := exc.Version
		before := exc.Status
		if err := exc.Reopen(); err != nil {
			s.logger.Debug("Skipping non-reopenable exception", "exception_id", exc.ID, "status", exc.Status)
			continue
		}

		if err := s.excRepo.Update(ctx, exc, loadedVersion); err != nil {
			if _, conflict := err.(exception.ErrVersionConflict); conflict {
				s.logger.Info("Snooze reopen lost version race, skipping", "exception_id", exc.ID)
				continue
			}
			s.logger.Error("Failed to reopen snoozed exception", "exception_id", exc.ID, "error", err)
			continue
		}

		entry := audit.NewEntry(exc.ID, shared.ActorSystem, "snooze_expired_reopen", before, exc.Status, "")
		if err := s.auditRepo.Append(ctx, entry); err != nil {
			s.logger.Error("Failed to append reopen audit entry", "exception_id", exc.ID, "error", err)
		}

		if s.eventPub != nil {
			event := &shared.ChangeEvent{
				Event:      shared.EventExceptionUpdated,
				ID:         exc.ID,
				JobID:      exc.SourceJobID,
				OccurredAt: now,
			}
			if err := s.eventPub.Publish(ctx, exc.ID.String(), event); err != nil {
				s.logger.Warn("Failed to publish reopen event", "exception_id", exc.ID, "error", err)
			}
		}

		s.metrics.SnoozesReopened.Inc()
		s.logger.Info("Reopened snoozed exception", "exception_id", exc.ID)
	}

	return nil
}
