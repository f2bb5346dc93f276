// Package service contains the business logic layer.
//
// This file implements plan resolution. Plans are read on every call so that
// a change written by the billing webhook is visible on the next request.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// PlanResolver reads and assigns tenant plans.
type PlanResolver interface {
	// ResolvePlan returns the tenant's current plan, read through q so that
	// callers can resolve inside their transaction. A tenant without an
	// assignment is a configuration fault (ECONFIG), never a free tier.
	ResolvePlan(ctx context.Context, q *repository.Queries, userID uuid.UUID) (domain.Plan, error)

	// AssignPlan sets the tenant's plan, replacing any previous assignment.
	AssignPlan(ctx context.Context, userID uuid.UUID, code domain.PlanCode) error

	// ListPlans returns every seeded plan.
	ListPlans(ctx context.Context) ([]domain.Plan, error)
}

// =============================================================================
// Implementation
// =============================================================================

type planResolver struct {
	queries *repository.Queries
	logger  *slog.Logger
	now     func() time.Time
}

// NewPlanResolver creates a new PlanResolver.
func NewPlanResolver(queries *repository.Queries, logger *slog.Logger) PlanResolver {
	return &planResolver{
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
}

// ResolvePlan returns the tenant's current plan.
func (s *planResolver) ResolvePlan(ctx context.Context, q *repository.Queries, userID uuid.UUID) (domain.Plan, error) {
	const op = "plan.resolve"

	if userID == uuid.Nil {
		return domain.Plan{}, domain.Invalid(op, "user ID is required")
	}
	if q == nil {
		q = s.queries
	}

	row, err := q.GetUserPlan(ctx, userID)
	if err != nil {
		if repository.IsNoRows(err) {
			return domain.Plan{}, domain.Config(err, op, "no plan assigned to user "+userID.String())
		}
		return domain.Plan{}, storageError(err, op, "failed to resolve plan")
	}
	return toDomainPlan(row), nil
}

// AssignPlan sets the tenant's plan.
func (s *planResolver) AssignPlan(ctx context.Context, userID uuid.UUID, code domain.PlanCode) error {
	const op = "plan.assign"

	if userID == uuid.Nil {
		return domain.Invalid(op, "user ID is required")
	}
	if _, err := domain.ParsePlanCode(string(code)); err != nil {
		return domain.Invalid(op, err.Error())
	}

	if _, err := s.queries.GetPlan(ctx, string(code)); err != nil {
		if repository.IsNoRows(err) {
			return domain.Config(err, op, "plan "+string(code)+" is not seeded")
		}
		return storageError(err, op, "failed to read plan")
	}

	err := s.queries.UpsertUserPlan(ctx, repository.UpsertUserPlanParams{
		UserID:    userID,
		PlanCode:  string(code),
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return storageError(err, op, "failed to assign plan")
	}

	s.logger.Info("plan assigned", "user_id", userID, "plan", code)
	return nil
}

// ListPlans returns every seeded plan.
func (s *planResolver) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	const op = "plan.list"

	rows, err := s.queries.ListPlans(ctx)
	if err != nil {
		return nil, storageError(err, op, "failed to list plans")
	}

	plans := make([]domain.Plan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, toDomainPlan(row))
	}
	return plans, nil
}

// =============================================================================
// Helpers
// =============================================================================

func toDomainPlan(row repository.Plan) domain.Plan {
	plan := domain.Plan{Code: domain.PlanCode(row.Code)}
	if row.BaseQuota.Valid {
		plan.BaseQuota = domain.Int64Ptr(row.BaseQuota.Int64)
	}
	if row.AiMessageLimit.Valid {
		plan.AIMessageLimit = domain.Int64Ptr(row.AiMessageLimit.Int64)
	}
	return plan
}

// storageError classifies a repository failure. Transient faults become
// EUNAVAILABLE so callers can retry; everything else is EINTERNAL.
func storageError(err error, op, message string) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	if repository.IsTransient(err) {
		return domain.Unavailable(err, op, message)
	}
	return domain.Internal(err, op, message)
}
