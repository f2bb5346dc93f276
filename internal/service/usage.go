package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/metrics"
	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageGateway is the only write path for usage counters.
//
// Increments are a single conditional upsert at the storage layer, so
// concurrent requests for one tenant cannot jointly pass a limit no matter how
// they interleave.
type UsageGateway interface {
	// Increment adds one to the counter when it is below Limit (or always,
	// when Limit is nil) and returns the authoritative post-increment count.
	// With an IdempotencyKey, a repeated call by the same tenant in the same
	// period returns the first result. Keys are scoped per tenant.
	// q should be transactional when an IdempotencyKey is set.
	Increment(ctx context.Context, q *repository.Queries, params IncrementParams) (IncrementResult, error)

	// Current returns the counter without changing it.
	Current(ctx context.Context, q *repository.Queries, userID uuid.UUID, resource domain.ResourceKind, periodKey string) (int64, error)
}

// IncrementParams contains parameters for a counter increment.
type IncrementParams struct {
	UserID         uuid.UUID
	Resource       domain.ResourceKind
	PeriodKey      string
	Limit          *int64 // nil = unbounded
	IdempotencyKey string
	At             time.Time
}

// IncrementResult is the outcome of a counter increment.
type IncrementResult struct {
	// Count is the counter value after the call. When Applied is false it is
	// the current value that blocked the increment.
	Count    int64
	Applied  bool
	Replayed bool
}

// =============================================================================
// Implementation
// =============================================================================

type usageGateway struct {
	logger *slog.Logger
}

// NewUsageGateway creates a new UsageGateway.
func NewUsageGateway(logger *slog.Logger) UsageGateway {
	return &usageGateway{logger: logger}
}

// Increment adds one to the counter unless it has reached the limit.
func (s *usageGateway) Increment(ctx context.Context, q *repository.Queries, params IncrementParams) (IncrementResult, error) {
	const op = "usage.increment"

	if params.UserID == uuid.Nil {
		return IncrementResult{}, domain.Invalid(op, "user ID is required")
	}
	if params.PeriodKey == "" {
		return IncrementResult{}, domain.Invalid(op, "period key is required")
	}

	if params.IdempotencyKey != "" {
		event, err := q.GetUsageEvent(ctx, params.UserID, params.IdempotencyKey)
		switch {
		case err == nil:
			if event.Resource != string(params.Resource) {
				return IncrementResult{}, domain.Conflict(op, "idempotency key was used for a different request")
			}
			if event.PeriodKey != params.PeriodKey {
				return IncrementResult{}, domain.Conflict(op, "idempotency key was used in billing period "+event.PeriodKey)
			}
			metrics.UsageIncrements.WithLabelValues(string(params.Resource), "replayed").Inc()
			return IncrementResult{Count: event.CountAfter, Applied: true, Replayed: true}, nil
		case !repository.IsNoRows(err):
			return IncrementResult{}, storageError(err, op, "failed to read usage event")
		}
	}

	at := params.At.UTC()

	var (
		count int64
		err   error
	)
	switch {
	case params.Limit == nil:
		count, err = q.IncrementUsage(ctx, repository.IncrementUsageParams{
			UserID:    params.UserID,
			Resource:  string(params.Resource),
			PeriodKey: params.PeriodKey,
			UpdatedAt: at,
		})
	case *params.Limit <= 0:
		// Nothing can be admitted; the bounded upsert would still insert at 1.
		return s.blocked(ctx, q, params, op)
	default:
		count, err = q.IncrementUsageBounded(ctx, repository.IncrementUsageBoundedParams{
			UserID:    params.UserID,
			Resource:  string(params.Resource),
			PeriodKey: params.PeriodKey,
			UpdatedAt: at,
			Limit:     *params.Limit,
		})
	}
	if err != nil {
		if repository.IsNoRows(err) {
			return s.blocked(ctx, q, params, op)
		}
		return IncrementResult{}, storageError(err, op, "failed to increment usage")
	}

	if params.IdempotencyKey != "" {
		err := q.CreateUsageEvent(ctx, repository.CreateUsageEventParams{
			IdempotencyKey: params.IdempotencyKey,
			UserID:         params.UserID,
			Resource:       string(params.Resource),
			PeriodKey:      params.PeriodKey,
			CountAfter:     count,
			CreatedAt:      at,
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return IncrementResult{}, domain.Conflict(op, "a request with this idempotency key is already in progress")
			}
			return IncrementResult{}, storageError(err, op, "failed to record usage event")
		}
	}

	metrics.UsageIncrements.WithLabelValues(string(params.Resource), "applied").Inc()
	return IncrementResult{Count: count, Applied: true}, nil
}

func (s *usageGateway) blocked(ctx context.Context, q *repository.Queries, params IncrementParams, op string) (IncrementResult, error) {
	current, err := s.Current(ctx, q, params.UserID, params.Resource, params.PeriodKey)
	if err != nil {
		return IncrementResult{}, err
	}
	metrics.UsageIncrements.WithLabelValues(string(params.Resource), "blocked").Inc()
	s.logger.Debug("usage increment blocked at limit",
		"op", op,
		"user_id", params.UserID,
		"resource", params.Resource,
		"period_key", params.PeriodKey,
		"count", current,
	)
	return IncrementResult{Count: current}, nil
}

// Current returns the counter without changing it.
func (s *usageGateway) Current(ctx context.Context, q *repository.Queries, userID uuid.UUID, resource domain.ResourceKind, periodKey string) (int64, error) {
	const op = "usage.current"

	count, err := q.GetUsageCount(ctx, repository.GetUsageCountParams{
		UserID:    userID,
		Resource:  string(resource),
		PeriodKey: periodKey,
	})
	if err != nil {
		return 0, storageError(err, op, "failed to read usage count")
	}
	return count, nil
}
