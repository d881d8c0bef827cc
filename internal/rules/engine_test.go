package rules

import (
	"context"
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
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/rule"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/platform/observability"
)

type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) ListEnabled(ctx context.Context) ([]*rule.Rule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*rule.Rule), args.Error(1)
}

func (m *MockRuleRepository) Create(ctx context.Context, r *rule.Rule) error {
	args := m.Called(ctx, r)
	return args.Error(0)
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
		return nil, false, args.Error(2)
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

func newTestException(delta int64) *exception.Exception {
	res := &recon.Result{
		ID:               uuid.New(),
		JobID:            uuid.New(),
		Status:           shared.MatchStatusAmountMismatch,
		AmountDeltaPaise: &delta,
	}
	return exception.NewFromResult(res)
}

func triageRule() *rule.Rule {
	return &rule.Rule{
		ID:       uuid.New(),
		Name:     "amount-triage",
		Priority: 10,
		Enabled:  true,
		Scope: rule.Scope{
			ReasonCodes: []shared.MatchStatus{shared.MatchStatusAmountMismatch},
		},
		Actions: []rule.Action{
			{Type: rule.ActionAssign, Value: "recon-team"},
			{Type: rule.ActionAddTag, Value: "auto-triaged"},
		},
	}
}

func TestEngine_Evaluate(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	t.Run("AppliesAllMatchingRules", func(t *testing.T) {
		ruleRepo := new(MockRuleRepository)
		excRepo := new(MockExceptionRepository)
		auditRepo := new(MockAuditRepository)
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		engine := NewEngine(logger, metrics, ruleRepo, excRepo, auditRepo)

		escalation := &rule.Rule{
			ID:       uuid.New(),
			Name:     "big-delta-escalation",
			Priority: 20,
			Enabled:  true,
			Scope: rule.Scope{
				MinAmountDeltaPaise: ptrInt64(100_000),
			},
			Actions: []rule.Action{{Type: rule.ActionEscalate}},
		}
		ruleRepo.On("ListEnabled", ctx).Return([]*rule.Rule{triageRule(), escalation}, nil).Once()

		exc := newTestException(150_000)
		excRepo.On("Update", ctx, exc, 1).Return(nil).Once()
		auditRepo.On("Append", ctx, mock.AnythingOfType("*audit.Entry")).Return(nil).Times(3)

		changed, err := engine.Evaluate(ctx, exc)

		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "recon-team", exc.AssignedTo)
		assert.Contains(t, exc.Tags, "auto-triaged")
		assert.Equal(t, shared.ExceptionStatusEscalated, exc.Status, "both matching rules apply, not just the first")
		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RuleApplications.WithLabelValues("amount-triage")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RuleApplications.WithLabelValues("big-delta-escalation")))
		ruleRepo.AssertExpectations(t)
		excRepo.AssertExpectations(t)
		auditRepo.AssertExpectations(t)
	})

	t.Run("SecondEvaluationIsNoOp", func(t *testing.T) {
		ruleRepo := new(MockRuleRepository)
		excRepo := new(MockExceptionRepository)
		auditRepo := new(MockAuditRepository)
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		engine := NewEngine(logger, metrics, ruleRepo, excRepo, auditRepo)

		ruleRepo.On("ListEnabled", ctx).Return([]*rule.Rule{triageRule()}, nil).Twice()

		exc := newTestException(500)
		excRepo.On("Update", ctx, exc, 1).Return(nil).Once()
		auditRepo.On("Append", ctx, mock.AnythingOfType("*audit.Entry")).Return(nil).Twice()

		changed, err := engine.Evaluate(ctx, exc)
		require.NoError(t, err)
		require.True(t, changed)

		// Re-applying the same rule set: no duplicate tags, no new audit
		// entries, no write.
		changed, err = engine.Evaluate(ctx, exc)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, []string{"auto-triaged"}, exc.Tags)
		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RuleApplications.WithLabelValues("amount-triage")))
		excRepo.AssertNumberOfCalls(t, "Update", 1)
		auditRepo.AssertNumberOfCalls(t, "Append", 2)
	})

	t.Run("ScopeMismatchSkipsRule", func(t *testing.T) {
		ruleRepo := new(MockRuleRepository)
		excRepo := new(MockExceptionRepository)
		auditRepo := new(MockAuditRepository)
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		engine := NewEngine(logger, metrics, ruleRepo, excRepo, auditRepo)

		r := triageRule()
		r.Scope.ReasonCodes = []shared.MatchStatus{shared.MatchStatusDuplicate}
		ruleRepo.On("ListEnabled", ctx).Return([]*rule.Rule{r}, nil).Once()

		exc := newTestException(500)
		changed, err := engine.Evaluate(ctx, exc)

		require.NoError(t, err)
		assert.False(t, changed)
		assert.Empty(t, exc.AssignedTo)
		excRepo.AssertNotCalled(t, "Update")
	})

	t.Run("VersionConflictIsDropped", func(t *testing.T) {
		ruleRepo := new(MockRuleRepository)
		excRepo := new(MockExceptionRepository)
		auditRepo := new(MockAuditRepository)
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		engine := NewEngine(logger, metrics, ruleRepo, excRepo, auditRepo)

		ruleRepo.On("ListEnabled", ctx).Return([]*rule.Rule{triageRule()}, nil).Once()

		exc := newTestException(500)
		excRepo.On("Update", ctx, exc, 1).
			Return(exception.ErrVersionConflict{ExceptionID: exc.ID}).Once()

		changed, err := engine.Evaluate(ctx, exc)

		require.NoError(t, err, "a lost write race is not an error")
		assert.False(t, changed)
		auditRepo.AssertNotCalled(t, "Append")
	})

	t.Run("ResolveActionOnTerminalIsSkipped", func(t *testing.T) {
		ruleRepo := new(MockRuleRepository)
		excRepo := new(MockExceptionRepository)
		auditRepo := new(MockAuditRepository)
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		engine := NewEngine(logger, metrics, ruleRepo, excRepo, auditRepo)

		closer := &rule.Rule{
			ID: uuid.New(), Name: "auto-close", Priority: 1, Enabled: true,
			Actions: []rule.Action{{Type: rule.ActionResolve, Value: string(shared.ResolveActionWriteOff), Note: "auto"}},
		}
		ruleRepo.On("ListEnabled", ctx).Return([]*rule.Rule{closer}, nil).Once()

		exc := newTestException(500)
		_, err := exc.Resolve(shared.ResolveActionAcceptPG, "", "ops@x")
		require.NoError(t, err)

		changed, err := engine.Evaluate(ctx, exc)

		require.NoError(t, err)
		assert.False(t, changed)
		require.NotNil(t, exc.Resolution)
		assert.Equal(t, shared.ResolveActionAcceptPG, exc.Resolution.Action)
	})

	t.Run("MarkInvestigateAlreadyInvestigatingIsNoOp", func(t *testing.T) {
		ruleRepo := new(MockRuleRepository)
		excRepo := new(MockExceptionRepository)
		auditRepo := new(MockAuditRepository)
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		engine := NewEngine(logger, metrics, ruleRepo, excRepo, auditRepo)

		router := &rule.Rule{
			ID: uuid.New(), Name: "route-to-investigation", Priority: 1, Enabled: true,
			Actions: []rule.Action{{Type: rule.ActionResolve, Value: string(shared.ResolveActionMarkInvestigate)}},
		}
		ruleRepo.On("ListEnabled", ctx).Return([]*rule.Rule{router}, nil).Once()

		exc := newTestException(500)
		require.NoError(t, exc.Investigate())

		changed, err := engine.Evaluate(ctx, exc)

		require.NoError(t, err)
		assert.False(t, changed, "re-routing an investigating exception must not report a change")
		assert.Equal(t, shared.ExceptionStatusInvestigating, exc.Status)
		excRepo.AssertNotCalled(t, "Update")
		auditRepo.AssertNotCalled(t, "Append")
	})
}

func ptrInt64(v int64) *int64 {
	return &v
}
