package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/api_gateway/service"
	"github.com/settleline-recon-engine/internal/domain/audit"
	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockExceptionService struct {
	mock.Mock
}

func (m *MockExceptionService) List(ctx context.Context, f exception.Filter) (service.ExceptionPage, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(service.ExceptionPage), args.Error(1)
}

func (m *MockExceptionService) Get(ctx context.Context, id uuid.UUID) (*exception.Exception, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exception.Exception), args.Error(1)
}

func (m *MockExceptionService) Assign(ctx context.Context, id uuid.UUID, version int, userID, actor string) (*exception.Exception, error) {
	args := m.Called(ctx, id, version, userID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exception.Exception), args.Error(1)
}

func (m *MockExceptionService) Investigate(ctx context.Context, id uuid.UUID, version int, actor string) (*exception.Exception, error) {
	args := m.Called(ctx, id, version, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exception.Exception), args.Error(1)
}

func (m *MockExceptionService) Snooze(ctx context.Context, id uuid.UUID, version int, until time.Time, actor string) (*exception.Exception, error) {
	args := m.Called(ctx, id, version, until, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exception.Exception), args.Error(1)
}

func (m *MockExceptionService) Escalate(ctx context.Context, id uuid.UUID, version int, actor string) (*exception.Exception, error) {
	args := m.Called(ctx, id, version, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exception.Exception), args.Error(1)
}

func (m *MockExceptionService) Resolve(ctx context.Context, id uuid.UUID, version int, action shared.ResolveAction, note, actor string) (*exception.Exception, error) {
	args := m.Called(ctx, id, version, action, note, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exception.Exception), args.Error(1)
}

func (m *MockExceptionService) AddTag(ctx context.Context, id uuid.UUID, version int, tag, actor string) (*exception.Exception, error) {
	args := m.Called(ctx, id, version, tag, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exception.Exception), args.Error(1)
}

func (m *MockExceptionService) Reprocess(ctx context.Context, id uuid.UUID, version int, actor string) (*exception.Exception, error) {
	args := m.Called(ctx, id, version, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exception.Exception), args.Error(1)
}

func (m *MockExceptionService) BulkUpdate(ctx context.Context, params service.BulkUpdateParams) []service.BulkOutcome {
	args := m.Called(ctx, params)
	return args.Get(0).([]service.BulkOutcome)
}

func (m *MockExceptionService) BulkResolve(ctx context.Context, params service.BulkResolveParams) service.BulkResolveResult {
	args := m.Called(ctx, params)
	return args.Get(0).(service.BulkResolveResult)
}

func (m *MockExceptionService) Audit(ctx context.Context, id uuid.UUID, page, perPage int) ([]*audit.Entry, int64, error) {
	args := m.Called(ctx, id, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*audit.Entry), args.Get(1).(int64), args.Error(2)
}

func testException() *exception.Exception {
	now := time.Now().UTC()
	return &exception.Exception{
		ID:          uuid.New(),
		SourceJobID: uuid.New(),
		ResultID:    uuid.New(),
		ReasonCode:  shared.MatchStatusAmountMismatch,
		Status:      shared.ExceptionStatusOpen,
		Severity:    shared.SeverityHigh,
		Version:     2,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestExceptionHandler_List(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("FiltersAndCursor", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		first := testException()
		first.Seq = 7
		second := testException()
		second.Seq = 9

		mockService.On("List", mock.Anything, mock.MatchedBy(func(f exception.Filter) bool {
			return len(f.Statuses) == 1 &&
				f.Statuses[0] == shared.ExceptionStatusOpen &&
				f.AssignedTo == "analyst.priya" &&
				f.Limit == 50
		})).Return(service.ExceptionPage{
			Items:   []*exception.Exception{first, second},
			HasMore: true,
			Counts:  map[shared.ExceptionStatus]int64{shared.ExceptionStatusOpen: 12},
		}, nil)

		router := setupTestRouter()
		router.GET("/exceptions", h.List)

		req, _ := http.NewRequest(http.MethodGet, "/exceptions?status=OPEN&assigned_to=analyst.priya", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		var payload ExceptionListResponse
		dataBytes, _ := json.Marshal(resp.Data)
		require.NoError(t, json.Unmarshal(dataBytes, &payload))
		assert.Len(t, payload.Items, 2)
		assert.Equal(t, int64(9), payload.Cursor)
		assert.Equal(t, int64(12), payload.Counts["OPEN"])
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		router := setupTestRouter()
		router.GET("/exceptions", h.List)

		req, _ := http.NewRequest(http.MethodGet, "/exceptions?status=BOGUS", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
	})
}

func TestExceptionHandler_Assign(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("ActorFromHeader", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		exc := testException()
		exc.AssignedTo = "analyst.priya"
		mockService.On("Assign", mock.Anything, exc.ID, 2, "analyst.priya", "ops.rahul").Return(exc, nil)

		router := setupTestRouter()
		router.POST("/exceptions/:id/assign", h.Assign)

		body, _ := json.Marshal(ExceptionActionRequest{Version: 2, AssignTo: "analyst.priya"})
		req, _ := http.NewRequest(http.MethodPost, "/exceptions/"+exc.ID.String()+"/assign", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(ActorHeader, "ops.rahul")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("MissingAssignee", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		exc := testException()
		router := setupTestRouter()
		router.POST("/exceptions/:id/assign", h.Assign)

		body, _ := json.Marshal(ExceptionActionRequest{Version: 2})
		req, _ := http.NewRequest(http.MethodPost, "/exceptions/"+exc.ID.String()+"/assign", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Assign", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("VersionConflict", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		exc := testException()
		mockService.On("Assign", mock.Anything, exc.ID, 1, "analyst.priya", defaultActor).
			Return(nil, exception.ErrVersionConflict{ExceptionID: exc.ID})

		router := setupTestRouter()
		router.POST("/exceptions/:id/assign", h.Assign)

		body, _ := json.Marshal(ExceptionActionRequest{Version: 1, AssignTo: "analyst.priya"})
		req, _ := http.NewRequest(http.MethodPost, "/exceptions/"+exc.ID.String()+"/assign", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestExceptionHandler_Resolve(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		exc := testException()
		exc.Status = shared.ExceptionStatusResolved
		mockService.On("Resolve", mock.Anything, exc.ID, 2, shared.ResolveActionAcceptBank, "verified", defaultActor).Return(exc, nil)

		router := setupTestRouter()
		router.POST("/exceptions/:id/resolve", h.Resolve)

		body, _ := json.Marshal(ExceptionActionRequest{Version: 2, Action: "ACCEPT_BANK", Note: "verified"})
		req, _ := http.NewRequest(http.MethodPost, "/exceptions/"+exc.ID.String()+"/resolve", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("UnknownAction", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		exc := testException()
		router := setupTestRouter()
		router.POST("/exceptions/:id/resolve", h.Resolve)

		body, _ := json.Marshal(ExceptionActionRequest{Version: 2, Action: "SHRED"})
		req, _ := http.NewRequest(http.MethodPost, "/exceptions/"+exc.ID.String()+"/resolve", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("TerminalStateConflict", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		exc := testException()
		mockService.On("Resolve", mock.Anything, exc.ID, 2, shared.ResolveActionAcceptBank, "", defaultActor).
			Return(nil, exception.ErrTransitionNotAllowed{Status: shared.ExceptionStatusResolved, Action: "resolve"})

		router := setupTestRouter()
		router.POST("/exceptions/:id/resolve", h.Resolve)

		body, _ := json.Marshal(ExceptionActionRequest{Version: 2, Action: "ACCEPT_BANK"})
		req, _ := http.NewRequest(http.MethodPost, "/exceptions/"+exc.ID.String()+"/resolve", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestExceptionHandler_BulkUpdate(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("PerItemOutcomes", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		okID := uuid.New()
		failedID := uuid.New()
		mockService.On("BulkUpdate", mock.Anything, mock.MatchedBy(func(p service.BulkUpdateParams) bool {
			return p.Op == "escalate" && len(p.IDs) == 2
		})).Return([]service.BulkOutcome{
			{ID: okID, OK: true},
			{ID: failedID, OK: false, Reason: "version conflict"},
		})

		router := setupTestRouter()
		router.POST("/exceptions/bulk-update", h.BulkUpdate)

		body, _ := json.Marshal(BulkUpdateRequest{
			IDs: []string{okID.String(), failedID.String()},
			Op:  "escalate",
		})
		req, _ := http.NewRequest(http.MethodPost, "/exceptions/bulk-update", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("SnoozeRequiresUntil", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		router := setupTestRouter()
		router.POST("/exceptions/bulk-update", h.BulkUpdate)

		body, _ := json.Marshal(BulkUpdateRequest{
			IDs: []string{uuid.New().String()},
			Op:  "snooze",
		})
		req, _ := http.NewRequest(http.MethodPost, "/exceptions/bulk-update", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "BulkUpdate", mock.Anything, mock.Anything)
	})

	t.Run("UnknownOpRejectedByBinding", func(t *testing.T) {
		mockService := new(MockExceptionService)
		h := NewExceptionHandler(logger, mockService, testReconConfig())

		router := setupTestRouter()
		router.POST("/exceptions/bulk-update", h.BulkUpdate)

		body, _ := json.Marshal(BulkUpdateRequest{
			IDs: []string{uuid.New().String()},
			Op:  "delete",
		})
		req, _ := http.NewRequest(http.MethodPost, "/exceptions/bulk-update", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestExceptionHandler_BulkResolve(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	mockService := new(MockExceptionService)
	h := NewExceptionHandler(logger, mockService, testReconConfig())

	ids := []string{uuid.New().String(), uuid.New().String()}
	mockService.On("BulkResolve", mock.Anything, mock.MatchedBy(func(p service.BulkResolveParams) bool {
		return p.Action == shared.ResolveActionWriteOff && len(p.IDs) == 2 && p.Actor == "ops.rahul"
	})).Return(service.BulkResolveResult{Resolved: 2, Failures: []service.BulkOutcome{}})

	router := setupTestRouter()
	router.POST("/recon/resolve", h.BulkResolve)

	body, _ := json.Marshal(BulkResolveRequest{
		Items:  ids,
		Action: "WRITE_OFF",
		Note:   "below threshold",
	})
	req, _ := http.NewRequest(http.MethodPost, "/recon/resolve", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "ops.rahul")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	mockService.AssertExpectations(t)
}

func TestExceptionHandler_Audit(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	mockService := new(MockExceptionService)
	h := NewExceptionHandler(logger, mockService, testReconConfig())

	exc := testException()
	entries := []*audit.Entry{
		audit.NewEntry(exc.ID, "ops.rahul", "escalate", shared.ExceptionStatusOpen, shared.ExceptionStatusEscalated, ""),
	}
	mockService.On("Audit", mock.Anything, exc.ID, 1, 20).Return(entries, int64(1), nil)

	router := setupTestRouter()
	router.GET("/exceptions/:id/audit", h.Audit)

	req, _ := http.NewRequest(http.MethodGet, "/exceptions/"+exc.ID.String()+"/audit", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 1, resp.Meta.TotalItems)
}
