package handler

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/api_gateway/service"
	"github.com/settleline-recon-engine/internal/config"
	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// ActorHeader identifies the operator performing a mutation
const ActorHeader = "X-User-ID"

const defaultActor = "operator"

// ExceptionHandler handles HTTP requests for the exception lifecycle
type ExceptionHandler struct {
	exceptionService service.ExceptionService
	cfg              *config.ReconConfig
	logger           *slog.Logger
}

// NewExceptionHandler creates a new exception handler
func NewExceptionHandler(logger *slog.Logger, exceptionService service.ExceptionService, cfg *config.ReconConfig) *ExceptionHandler {
	return &ExceptionHandler{
		exceptionService: exceptionService,
		cfg:              cfg,
		logger:           logger,
	}
}

// List returns one keyset page of the exception queue with filtered counts
func (h *ExceptionHandler) List(c *gin.Context) {
	var page CursorPageParams
	if err := c.ShouldBindQuery(&page); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	filter := exception.Filter{
		AssignedTo: c.Query("assigned_to"),
		AfterSeq:   page.Cursor,
		Limit:      h.clampLimit(page.Limit),
	}
	for _, raw := range c.QueryArray("status") {
		status, ok := shared.ParseExceptionStatus(raw)
		if !ok {
			RespondBadRequest(c, "Invalid status filter: "+raw)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, raw := range c.QueryArray("severity") {
		severity, ok := shared.ParseSeverity(raw)
		if !ok {
			RespondBadRequest(c, "Invalid severity filter: "+raw)
			return
		}
		filter.Severities = append(filter.Severities, severity)
	}
	if raw := c.Query("reason"); raw != "" {
		reason, ok := shared.ParseMatchStatus(raw)
		if !ok {
			RespondBadRequest(c, "Invalid reason filter: "+raw)
			return
		}
		filter.ReasonCode = &reason
	}
	if raw := c.Query("job_id"); raw != "" {
		jobID, err := uuid.Parse(raw)
		if err != nil {
			RespondBadRequest(c, "Invalid job_id filter")
			return
		}
		filter.JobID = &jobID
	}

	excPage, err := h.exceptionService.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list exceptions", "error", err)
		RespondInternalError(c)
		return
	}

	counts := make(map[string]int64, len(excPage.Counts))
	for status, n := range excPage.Counts {
		counts[string(status)] = n
	}
	resp := ExceptionListResponse{
		Counts:  counts,
		Items:   excPage.Items,
		HasMore: excPage.HasMore,
	}
	if n := len(excPage.Items); n > 0 {
		resp.Cursor = excPage.Items[n-1].Seq
	}
	RespondOK(c, resp)
}

// GetByID retrieves an exception, returns 404 if not found
func (h *ExceptionHandler) GetByID(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	exc, err := h.exceptionService.Get(c.Request.Context(), id)
	if err != nil {
		h.respondActionError(c, id, err)
		return
	}
	RespondOK(c, exc)
}

// Assign sets the assignee of an exception
func (h *ExceptionHandler) Assign(c *gin.Context) {
	h.action(c, func(id uuid.UUID, req ExceptionActionRequest, actor string) (*exception.Exception, error) {
		if req.AssignTo == "" {
			return nil, errValidation("assign_to is required")
		}
		return h.exceptionService.Assign(c.Request.Context(), id, req.Version, req.AssignTo, actor)
	})
}

// Investigate moves an open exception into investigation
func (h *ExceptionHandler) Investigate(c *gin.Context) {
	h.action(c, func(id uuid.UUID, req ExceptionActionRequest, actor string) (*exception.Exception, error) {
		return h.exceptionService.Investigate(c.Request.Context(), id, req.Version, actor)
	})
}

// Snooze parks the exception until a future time
func (h *ExceptionHandler) Snooze(c *gin.Context) {
	h.action(c, func(id uuid.UUID, req ExceptionActionRequest, actor string) (*exception.Exception, error) {
		if req.SnoozeUntil == nil {
			return nil, errValidation("snooze_until is required")
		}
		return h.exceptionService.Snooze(c.Request.Context(), id, req.Version, *req.SnoozeUntil, actor)
	})
}

// Escalate raises the exception out of the normal queue
func (h *ExceptionHandler) Escalate(c *gin.Context) {
	h.action(c, func(id uuid.UUID, req ExceptionActionRequest, actor string) (*exception.Exception, error) {
		return h.exceptionService.Escalate(c.Request.Context(), id, req.Version, actor)
	})
}

// Resolve closes the exception with an operator decision
func (h *ExceptionHandler) Resolve(c *gin.Context) {
	h.action(c, func(id uuid.UUID, req ExceptionActionRequest, actor string) (*exception.Exception, error) {
		action, ok := shared.ParseResolveAction(req.Action)
		if !ok {
			return nil, errValidation("invalid resolve action: " + req.Action)
		}
		return h.exceptionService.Resolve(c.Request.Context(), id, req.Version, action, req.Note, actor)
	})
}

// Reprocess re-runs matching scoped to this exception's source rows
func (h *ExceptionHandler) Reprocess(c *gin.Context) {
	h.action(c, func(id uuid.UUID, req ExceptionActionRequest, actor string) (*exception.Exception, error) {
		return h.exceptionService.Reprocess(c.Request.Context(), id, req.Version, actor)
	})
}

// BulkUpdate applies one operation to many exceptions, reporting per-item
// outcomes
func (h *ExceptionHandler) BulkUpdate(c *gin.Context) {
	var req BulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	ids, err := parseIDs(req.IDs)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	params := service.BulkUpdateParams{
		IDs:      ids,
		Op:       req.Op,
		Actor:    actorFrom(c),
		AssignTo: req.AssignTo,
		Tag:      req.Tag,
	}
	if req.SnoozeUntil != nil {
		params.SnoozeUntil = *req.SnoozeUntil
	}
	if req.Op == "snooze" && req.SnoozeUntil == nil {
		RespondBadRequest(c, "snooze_until is required for the snooze operation")
		return
	}
	if req.Op == "assign" && req.AssignTo == "" {
		RespondBadRequest(c, "assign_to is required for the assign operation")
		return
	}
	if req.Op == "add_tag" && req.Tag == "" {
		RespondBadRequest(c, "tag is required for the add_tag operation")
		return
	}

	outcomes := h.exceptionService.BulkUpdate(c.Request.Context(), params)
	RespondOK(c, gin.H{"outcomes": outcomes})
}

// BulkResolve resolves many exceptions with one decision
func (h *ExceptionHandler) BulkResolve(c *gin.Context) {
	var req BulkResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	action, ok := shared.ParseResolveAction(req.Action)
	if !ok {
		RespondBadRequest(c, "Invalid resolve action: "+req.Action)
		return
	}
	ids, err := parseIDs(req.Items)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	result := h.exceptionService.BulkResolve(c.Request.Context(), service.BulkResolveParams{
		IDs:      ids,
		Action:   action,
		AssignTo: req.AssignTo,
		Note:     req.Note,
		Actor:    actorFrom(c),
	})
	RespondOK(c, result)
}

// Audit retrieves the paginated mutation trail of one exception
func (h *ExceptionHandler) Audit(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var page PaginationParams
	if err := c.ShouldBindQuery(&page); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	entries, total, err := h.exceptionService.Audit(c.Request.Context(), id, page.Page, page.PerPage)
	if err != nil {
		h.respondActionError(c, id, err)
		return
	}
	RespondWithPaginatedData(c, 200, gin.H{"entries": entries}, page.Page, page.PerPage, int(total))
}

// action is the shared plumbing of every single-item mutation endpoint
func (h *ExceptionHandler) action(c *gin.Context, run func(id uuid.UUID, req ExceptionActionRequest, actor string) (*exception.Exception, error)) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req ExceptionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	exc, err := run(id, req, actorFrom(c))
	if err != nil {
		h.respondActionError(c, id, err)
		return
	}
	RespondOK(c, exc)
}

func (h *ExceptionHandler) respondActionError(c *gin.Context, id uuid.UUID, err error) {
	var validation validationError
	switch {
	case errors.As(err, &validation):
		RespondBadRequest(c, validation.Error())
	case errors.Is(err, exception.ErrExceptionNotFound{}):
		RespondNotFound(c, "Exception not found")
	case errors.Is(err, exception.ErrVersionConflict{}):
		RespondConflict(c, "Exception was modified concurrently, re-fetch and retry")
	default:
		var transition exception.ErrTransitionNotAllowed
		if errors.As(err, &transition) {
			RespondConflict(c, transition.Error())
			return
		}
		h.logger.Error("Exception action failed", "exception_id", id.String(), "error", err)
		RespondInternalError(c)
	}
}

func (h *ExceptionHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid exception ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ExceptionHandler) clampLimit(limit int) int {
	if limit <= 0 {
		return h.cfg.DefaultPageSize
	}
	if limit > h.cfg.MaxPageSize {
		return h.cfg.MaxPageSize
	}
	return limit
}

func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader(ActorHeader); actor != "" {
		return actor
	}
	return defaultActor
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, errors.New("invalid exception ID: " + r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// validationError marks client mistakes raised inside action closures
type validationError string

func (e validationError) Error() string { return string(e) }

func errValidation(msg string) error { return validationError(msg) }
