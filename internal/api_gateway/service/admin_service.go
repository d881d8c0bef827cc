package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/mapping"
	"github.com/settleline-recon-engine/internal/domain/rule"
)

// AdminServiceImpl implements the AdminService interface
type AdminServiceImpl struct {
	templateRepo mapping.Repository
	ruleRepo     rule.Repository
	logger       *slog.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(logger *slog.Logger, templateRepo mapping.Repository, ruleRepo rule.Repository) AdminService {
	return &AdminServiceImpl{
		templateRepo: templateRepo,
		ruleRepo:     ruleRepo,
		logger:       logger,
	}
}

// CreateTemplate publishes a new template version for an acquirer. Earlier
// versions stay addressable; nothing is mutated in place.
func (s *AdminServiceImpl) CreateTemplate(ctx context.Context, t *mapping.Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	latest, err := s.templateRepo.GetLatestByAcquirer(ctx, t.AcquirerCode)
	if err == nil {
		t.Version = latest.Version + 1
	} else {
		t.Version = 1
	}
	if err := s.templateRepo.Create(ctx, t); err != nil {
		s.logger.Error("Failed to create mapping template", "acquirer_code", t.AcquirerCode, "error", err)
		return err
	}
	s.logger.Info("Mapping template published", "acquirer_code", t.AcquirerCode, "version", t.Version)
	return nil
}

// GetTemplate returns the latest template for an acquirer
func (s *AdminServiceImpl) GetTemplate(ctx context.Context, acquirerCode string) (*mapping.Template, error) {
	return s.templateRepo.GetLatestByAcquirer(ctx, acquirerCode)
}

// CreateRule persists a triage rule
func (s *AdminServiceImpl) CreateRule(ctx context.Context, r *rule.Rule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if err := s.ruleRepo.Create(ctx, r); err != nil {
		s.logger.Error("Failed to create triage rule", "name", r.Name, "error", err)
		return err
	}
	s.logger.Info("Triage rule created", "name", r.Name, "priority", r.Priority, "enabled", r.Enabled)
	return nil
}

// ListRules returns the enabled rules in evaluation order
func (s *AdminServiceImpl) ListRules(ctx context.Context) ([]*rule.Rule, error) {
	return s.ruleRepo.ListEnabled(ctx)
}
