package service

import (
	"context"

	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// RunnerService executes recon run requests end to end
type RunnerService interface {
	RunJob(ctx context.Context, request *shared.RunRequest) error
}

// RuleEvaluator applies the triage rule set to a freshly created or
// mutated exception
type RuleEvaluator interface {
	Evaluate(ctx context.Context, exc *exception.Exception) (bool, error)
}
