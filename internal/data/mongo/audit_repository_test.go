package mongo

import (
	"context"
	"errors"
	"testing"

	"log/slog"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/audit"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"
)

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

var _ audit.Repository = (*MockAuditRepository)(nil)

func TestNewAuditRepository(t *testing.T) {
	db := &mongo.Database{}
	logger := slog.Default()

	repo := NewAuditRepository(logger, db)

	assert.NotNil(t, repo)
	assert.IsType(t, &AuditRepository{}, repo)
}

func TestMockAuditRepository_Append(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockAuditRepository)

	entry := audit.NewEntry(uuid.New(), "ops_user", "investigate",
		shared.ExceptionStatusOpen, shared.ExceptionStatusInvestigating, "picked up for review")

	mockRepo.On("Append", ctx, entry).Return(nil).Once()
	err := mockRepo.Append(ctx, entry)
	assert.NoError(t, err)

	appendErr := errors.New("insert failed")
	mockRepo.On("Append", ctx, entry).Return(appendErr).Once()
	err = mockRepo.Append(ctx, entry)
	assert.ErrorIs(t, err, appendErr)

	mockRepo.AssertExpectations(t)
}

func TestMockAuditRepository_ListByException(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockAuditRepository)
	excID := uuid.New()

	entries := []*audit.Entry{
		audit.NewEntry(excID, shared.ActorRuleEngine, "rule:auto-assign:ASSIGN",
			shared.ExceptionStatusOpen, shared.ExceptionStatusOpen, ""),
		audit.NewEntry(excID, "ops_user", "resolve",
			shared.ExceptionStatusOpen, shared.ExceptionStatusResolved, "accepted bank value"),
	}

	mockRepo.On("ListByException", ctx, excID, 50, 0).Return(entries, nil).Once()
	got, err := mockRepo.ListByException(ctx, excID, 50, 0)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "resolve", got[1].Action)

	mockRepo.On("CountByException", ctx, excID).Return(int64(2), nil).Once()
	count, err := mockRepo.CountByException(ctx, excID)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)

	mockRepo.AssertExpectations(t)
}
