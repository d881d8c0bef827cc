package connector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/settleline-recon-engine/internal/domain/audit"
	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/domain/staging"
	"github.com/settleline-recon-engine/internal/platform/observability"
)

type MockFetcher struct {
	mock.Mock
	name string
	side shared.SourceSide
}

func (m *MockFetcher) Name() string            { return m.name }
func (m *MockFetcher) Side() shared.SourceSide { return m.side }

func (m *MockFetcher) Fetch(ctx context.Context, cycleDate string) ([]*staging.RawRow, error) {
	args := m.Called(ctx, cycleDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*staging.RawRow), args.Error(1)
}

type MockStagingRepository struct {
	mock.Mock
}

func (m *MockStagingRepository) CreateBatch(ctx context.Context, rows []*staging.RawRow) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *MockStagingRepository) List(ctx context.Context, q staging.Query) ([]*staging.RawRow, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*staging.RawRow), args.Error(1)
}

func (m *MockStagingRepository) Count(ctx context.Context, q staging.Query) (int64, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(int64), args.Error(1)
}

type MockExceptionRepository struct {
	mock.Mock
}

func (m *MockExceptionRepository) CreateBatch(ctx context.Context, excs []*exception.Exception) error {
	args := m.Called(ctx, excs)
	return args.Error(0)
}

func (m *MockExceptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*exception.Exception, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exception.Exception), args.Error(1)
}

func (m *MockExceptionRepository) Update(ctx context.Context, e *exception.Exception, expectedVersion int) error {
	args := m.Called(ctx, e, expectedVersion)
	return args.Error(0)
}

func (m *MockExceptionRepository) List(ctx context.Context, f exception.Filter) ([]*exception.Exception, bool, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]*exception.Exception), args.Bool(1), args.Error(2)
}

func (m *MockExceptionRepository) CountByStatus(ctx context.Context, f exception.Filter) (map[shared.ExceptionStatus]int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[shared.ExceptionStatus]int64), args.Error(1)
}

func (m *MockExceptionRepository) ListExpiredSnoozes(ctx context.Context, now time.Time, limit int) ([]*exception.Exception, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*exception.Exception), args.Error(1)
}

type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByException(ctx context.Context, exceptionID uuid.UUID, limit, offset int) ([]*audit.Entry, error) {
	args := m.Called(ctx, exceptionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Entry), args.Error(1)
}

func (m *MockAuditRepository) CountByException(ctx context.Context, exceptionID uuid.UUID) (int64, error) {
	args := m.Called(ctx, exceptionID)
	return args.Get(0).(int64), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockEventPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newTestScheduler(fetchers []Fetcher, stagingRepo staging.Repository, excRepo exception.Repository, auditRepo audit.Repository, eventPub *MockEventPublisher) *Scheduler {
	s := &Scheduler{
		fetchers:     fetchers,
		stagingRepo:  stagingRepo,
		excRepo:      excRepo,
		auditRepo:    auditRepo,
		metrics:      observability.NewMetrics(prometheus.NewRegistry()),
		history:      NewHistory(10),
		logger:       slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})),
		pollInterval: time.Minute,
		fetchTimeout: time.Second,
		snoozeBatch:  100,
		now:          func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) },
	}
	if eventPub != nil {
		s.eventPub = eventPub
	}
	return s
}

func TestScheduler_FetchPass(t *testing.T) {
	ctx := context.Background()

	t.Run("stages fetched rows and records history", func(t *testing.T) {
		fetcher := &MockFetcher{name: "bank-sftp", side: shared.SourceSideBank}
		stagingRepo := new(MockStagingRepository)

		rows := []*staging.RawRow{
			{ID: uuid.New(), Side: shared.SourceSideBank, CycleDate: "2024-03-15", Fields: map[string]string{"utr": "U1"}},
			{ID: uuid.New(), Side: shared.SourceSideBank, CycleDate: "2024-03-15", Fields: map[string]string{"utr": "U2"}},
		}
		fetcher.On("Fetch", mock.Anything, "2024-03-15").Return(rows, nil).Once()
		stagingRepo.On("CreateBatch", mock.Anything, rows).Return(nil).Once()

		s := newTestScheduler([]Fetcher{fetcher}, stagingRepo, new(MockExceptionRepository), new(MockAuditRepository), nil)
		s.runFetchPass(ctx)

		history := s.History().Snapshot("bank-sftp")
		require.Len(t, history, 1)
		assert.Equal(t, 2, history[0].Rows)
		assert.Empty(t, history[0].Err)

		fetcher.AssertExpectations(t)
		stagingRepo.AssertExpectations(t)
	})

	t.Run("one failing source does not abort the others", func(t *testing.T) {
		failing := &MockFetcher{name: "pg-api", side: shared.SourceSidePG}
		healthy := &MockFetcher{name: "bank-sftp", side: shared.SourceSideBank}
		stagingRepo := new(MockStagingRepository)

		failing.On("Fetch", mock.Anything, "2024-03-15").Return(nil, errors.New("connection refused")).Once()
		rows := []*staging.RawRow{{ID: uuid.New(), Side: shared.SourceSideBank, CycleDate: "2024-03-15", Fields: map[string]string{"utr": "U1"}}}
		healthy.On("Fetch", mock.Anything, "2024-03-15").Return(rows, nil).Once()
		stagingRepo.On("CreateBatch", mock.Anything, rows).Return(nil).Once()

		s := newTestScheduler([]Fetcher{failing, healthy}, stagingRepo, new(MockExceptionRepository), new(MockAuditRepository), nil)
		s.runFetchPass(ctx)

		assert.Contains(t, s.History().LastError("pg-api"), "connection refused")
		assert.Empty(t, s.History().LastError("bank-sftp"))

		failing.AssertExpectations(t)
		healthy.AssertExpectations(t)
		stagingRepo.AssertExpectations(t)
	})
}

func snoozedException(until time.Time) *exception.Exception {
	now := until.Add(-48 * time.Hour)
	return &exception.Exception{
		ID:          uuid.New(),
		SourceJobID: uuid.New(),
		ResultID:    uuid.New(),
		ReasonCode:  shared.MatchStatusUnmatchedPG,
		Status:      shared.ExceptionStatusSnoozed,
		Severity:    shared.SeverityMedium,
		SnoozeUntil: &until,
		Version:     3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestScheduler_SnoozePass(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	t.Run("reopens expired snoozes with audit and event", func(t *testing.T) {
		excRepo := new(MockExceptionRepository)
		auditRepo := new(MockAuditRepository)
		eventPub := new(MockEventPublisher)

		exc := snoozedException(now.Add(-time.Hour))
		excRepo.On("ListExpiredSnoozes", mock.Anything, now, 100).Return([]*exception.Exception{exc}, nil).Once()
		excRepo.On("Update", mock.Anything, exc, 3).Return(nil).Once()
		auditRepo.On("Append", mock.Anything, mock.MatchedBy(func(e *audit.Entry) bool {
			return e.ExceptionID == exc.ID &&
				e.ActorID == shared.ActorSystem &&
				e.Action == "snooze_expired_reopen" &&
				*e.Before == shared.ExceptionStatusSnoozed &&
				*e.After == shared.ExceptionStatusOpen
		})).Return(nil).Once()
		eventPub.On("Publish", mock.Anything, exc.ID.String(), mock.Anything).Return(nil).Once()

		s := newTestScheduler(nil, new(MockStagingRepository), excRepo, auditRepo, eventPub)
		err := s.runSnoozePass(ctx)
		require.NoError(t, err)

		assert.Equal(t, shared.ExceptionStatusOpen, exc.Status)
		assert.Equal(t, 4, exc.Version)

		excRepo.AssertExpectations(t)
		auditRepo.AssertExpectations(t)
		eventPub.AssertExpectations(t)
	})

	t.Run("version conflict skips without audit", func(t *testing.T) {
		excRepo := new(MockExceptionRepository)
		auditRepo := new(MockAuditRepository)

		exc := snoozedException(now.Add(-time.Hour))
		excRepo.On("ListExpiredSnoozes", mock.Anything, now, 100).Return([]*exception.Exception{exc}, nil).Once()
		excRepo.On("Update", mock.Anything, exc, 3).Return(exception.ErrVersionConflict{ExceptionID: exc.ID}).Once()

		s := newTestScheduler(nil, new(MockStagingRepository), excRepo, auditRepo, nil)
		err := s.runSnoozePass(ctx)
		require.NoError(t, err)

		auditRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		excRepo.AssertExpectations(t)
	})

	t.Run("empty expired set is a no-op", func(t *testing.T) {
		excRepo := new(MockExceptionRepository)
		excRepo.On("ListExpiredSnoozes", mock.Anything, now, 100).Return([]*exception.Exception{}, nil).Once()

		s := newTestScheduler(nil, new(MockStagingRepository), excRepo, new(MockAuditRepository), nil)
		err := s.runSnoozePass(ctx)
		require.NoError(t, err)
		excRepo.AssertExpectations(t)
	})
}

func TestScheduler_OpenGauge(t *testing.T) {
	ctx := context.Background()

	t.Run("gauge tracks non-terminal statuses only", func(t *testing.T) {
		excRepo := new(MockExceptionRepository)
		excRepo.On("CountByStatus", mock.Anything, exception.Filter{}).Return(map[shared.ExceptionStatus]int64{
			shared.ExceptionStatusOpen:          4,
			shared.ExceptionStatusInvestigating: 2,
			shared.ExceptionStatusSnoozed:       1,
			shared.ExceptionStatusResolved:      10,
			shared.ExceptionStatusWontFix:       3,
		}, nil).Once()

		s := newTestScheduler(nil, new(MockStagingRepository), excRepo, new(MockAuditRepository), nil)
		require.NoError(t, s.refreshOpenGauge(ctx))

		assert.Equal(t, float64(7), testutil.ToFloat64(s.metrics.ExceptionsOpen))
		excRepo.AssertExpectations(t)
	})

	t.Run("gauge falls when exceptions close", func(t *testing.T) {
		excRepo := new(MockExceptionRepository)
		excRepo.On("CountByStatus", mock.Anything, exception.Filter{}).Return(map[shared.ExceptionStatus]int64{
			shared.ExceptionStatusOpen: 5,
		}, nil).Once()
		excRepo.On("CountByStatus", mock.Anything, exception.Filter{}).Return(map[shared.ExceptionStatus]int64{
			shared.ExceptionStatusOpen:     2,
			shared.ExceptionStatusResolved: 3,
		}, nil).Once()

		s := newTestScheduler(nil, new(MockStagingRepository), excRepo, new(MockAuditRepository), nil)
		require.NoError(t, s.refreshOpenGauge(ctx))
		require.NoError(t, s.refreshOpenGauge(ctx))

		assert.Equal(t, float64(2), testutil.ToFloat64(s.metrics.ExceptionsOpen))
		excRepo.AssertExpectations(t)
	})
}
