package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/settleline-recon-engine/internal/api_gateway/service"
	"github.com/settleline-recon-engine/internal/domain/mapping"
	"github.com/settleline-recon-engine/internal/domain/rule"
)

// AdminHandler handles operational endpoints: mapping templates, triage
// rules and connector health
type AdminHandler struct {
	adminService    service.AdminService
	workerStatusURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(logger *slog.Logger, adminService service.AdminService, workerStatusURL string) *AdminHandler {
	return &AdminHandler{
		adminService:    adminService,
		workerStatusURL: workerStatusURL,
		httpClient:      &http.Client{Timeout: 5 * time.Second},
		logger:          logger,
	}
}

// CreateTemplate publishes a new mapping template version
func (h *AdminHandler) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	t := &mapping.Template{
		AcquirerCode:    req.AcquirerCode,
		FieldMap:        req.FieldMap,
		DateFormats:     req.DateFormats,
		AmountParsers:   req.AmountParsers,
		DeferDateErrors: req.DeferDateErrors,
	}
	if err := h.adminService.CreateTemplate(c.Request.Context(), t); err != nil {
		h.logger.Error("Failed to create template", "acquirer_code", req.AcquirerCode, "error", err)
		RespondInternalError(c)
		return
	}
	RespondCreated(c, t)
}

// GetTemplate returns the latest template for an acquirer
func (h *AdminHandler) GetTemplate(c *gin.Context) {
	acquirerCode := c.Param("acquirer")
	t, err := h.adminService.GetTemplate(c.Request.Context(), acquirerCode)
	if err != nil {
		if errors.Is(err, mapping.ErrTemplateNotFound{}) {
			RespondNotFound(c, "No template published for acquirer "+acquirerCode)
			return
		}
		h.logger.Error("Failed to get template", "acquirer_code", acquirerCode, "error", err)
		RespondInternalError(c)
		return
	}
	RespondOK(c, t)
}

// CreateRule persists a triage rule
func (h *AdminHandler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	r := &rule.Rule{
		Name:     req.Name,
		Priority: req.Priority,
		Enabled:  req.Enabled,
		Scope:    req.Scope,
		Actions:  req.Actions,
	}
	if err := h.adminService.CreateRule(c.Request.Context(), r); err != nil {
		h.logger.Error("Failed to create rule", "name", req.Name, "error", err)
		RespondInternalError(c)
		return
	}
	RespondCreated(c, r)
}

// ListRules returns the enabled rules in evaluation order
func (h *AdminHandler) ListRules(c *gin.Context) {
	rules, err := h.adminService.ListRules(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list rules", "error", err)
		RespondInternalError(c)
		return
	}
	RespondOK(c, gin.H{"rules": rules})
}

// ConnectorsHealth relays the worker's connector health snapshots. The
// scheduler state lives in the worker process, so this is a read-through.
func (h *AdminHandler) ConnectorsHealth(c *gin.Context) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, h.workerStatusURL+"/connectors/health", nil)
	if err != nil {
		h.logger.Error("Failed to build worker status request", "error", err)
		RespondInternalError(c)
		return
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Warn("Worker status endpoint unreachable", "url", h.workerStatusURL, "error", err.Error())
		RespondWithError(c, http.StatusBadGateway, "WORKER_UNREACHABLE", "connector health is reported by the worker, which is not reachable")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		h.logger.Error("Failed to read worker status response", "error", err)
		RespondInternalError(c)
		return
	}
	c.Data(resp.StatusCode, "application/json", body)
}
