package handler

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/api_gateway/middleware"
	"github.com/settleline-recon-engine/internal/api_gateway/service"
	"github.com/settleline-recon-engine/internal/config"
	"github.com/settleline-recon-engine/internal/domain/job"
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// ReconHandler handles HTTP requests for run triggers and job reads
type ReconHandler struct {
	reconService service.ReconService
	cfg          *config.ReconConfig
	logger       *slog.Logger
}

// NewReconHandler creates a new recon handler
func NewReconHandler(logger *slog.Logger, reconService service.ReconService, cfg *config.ReconConfig) *ReconHandler {
	return &ReconHandler{
		reconService: reconService,
		cfg:          cfg,
		logger:       logger,
	}
}

// TriggerRun enqueues a recon run for one cycle date
func (h *ReconHandler) TriggerRun(c *gin.Context) {
	var req TriggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	j, created, err := h.reconService.TriggerRun(c.Request.Context(), service.TriggerRunParams{
		CycleDate:     req.Date,
		MerchantID:    req.MerchantID,
		AcquirerID:    req.AcquirerID,
		DryRun:        req.DryRun,
		Limit:         req.Limit,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.logger.Error("Failed to trigger run", "cycle_date", req.Date, "error", err)
		RespondInternalError(c)
		return
	}

	resp := TriggerRunResponse{
		JobID:     j.ID.String(),
		Status:    string(j.Status),
		CycleDate: j.CycleDate,
		DryRun:    req.DryRun,
		Existing:  !created,
	}
	if created {
		RespondAccepted(c, resp)
		return
	}
	RespondOK(c, resp)
}

// GetJob retrieves job status, counters and error by ID
func (h *ReconHandler) GetJob(c *gin.Context) {
	id, ok := parseJobID(c, h.logger)
	if !ok {
		return
	}

	j, err := h.reconService.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound{}) {
			RespondNotFound(c, "Job not found")
			return
		}
		h.logger.Error("Failed to get job", "job_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}
	RespondOK(c, NewJobResponse(j))
}

// GetSummary returns the per-status breakdown of a job's results
func (h *ReconHandler) GetSummary(c *gin.Context) {
	id, ok := parseJobID(c, h.logger)
	if !ok {
		return
	}

	summary, err := h.reconService.GetSummary(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound{}) {
			RespondNotFound(c, "Job not found")
			return
		}
		var violation recon.InvariantViolationError
		if errors.As(err, &violation) {
			// The aggregation is still the truth for clients; the drift is
			// surfaced alongside it rather than hidden behind a 500
			response := NewResponse(summary)
			response.Error = &ErrorInfo{Code: "INVARIANT_VIOLATION", Message: violation.Error()}
			response.CorrelationID = middleware.GetCorrelationID(c)
			c.JSON(200, response)
			return
		}
		h.logger.Error("Failed to build summary", "job_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}
	RespondOK(c, summary)
}

// ListResults returns one keyset page of a job's classified results
func (h *ReconHandler) ListResults(c *gin.Context) {
	id, ok := parseJobID(c, h.logger)
	if !ok {
		return
	}

	var page CursorPageParams
	if err := c.ShouldBindQuery(&page); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	filter := recon.ResultFilter{
		AfterSeq: page.Cursor,
		Limit:    h.clampLimit(page.Limit),
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := shared.ParseMatchStatus(raw)
		if !ok {
			RespondBadRequest(c, "Invalid status filter: "+raw)
			return
		}
		filter.Status = &status
	}

	resultPage, err := h.reconService.ListResults(c.Request.Context(), id, filter)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound{}) {
			RespondNotFound(c, "Job not found")
			return
		}
		h.logger.Error("Failed to list results", "job_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}

	resp := ResultListResponse{Results: resultPage.Results, HasMore: resultPage.HasMore}
	if n := len(resultPage.Results); n > 0 {
		resp.Cursor = resultPage.Results[n-1].Seq
	}
	RespondOK(c, resp)
}

func (h *ReconHandler) clampLimit(limit int) int {
	if limit <= 0 {
		return h.cfg.DefaultPageSize
	}
	if limit > h.cfg.MaxPageSize {
		return h.cfg.MaxPageSize
	}
	return limit
}

func parseJobID(c *gin.Context, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		logger.Error("Invalid job ID", "id", c.Param("id"), "error", err)
		RespondBadRequest(c, "Invalid job ID")
		return uuid.Nil, false
	}
	return id, true
}
