// Package service contains the business logic layer.
//
// This file implements the quota service: the gate every usage-consuming
// action calls before proceeding, and the limits view shown to tenants.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/metrics"
	"github.com/DukeRupert/draftline/internal/period"
	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for checking and enforcing quota limits.
type QuotaService interface {
	// GetLimits returns the tenant's limits for the current billing period.
	// The view is not linearizable with concurrent consumption.
	GetLimits(ctx context.Context, userID uuid.UUID) (*domain.Limits, error)

	// CanConsume reports whether one more unit would be admitted right now,
	// without consuming it.
	CanConsume(ctx context.Context, userID uuid.UUID, kind domain.ResourceKind) (domain.Decision, error)

	// CheckAndConsume admits and records one unit of usage, or denies it.
	// Limit-reached and not-authenticated are decisions, not errors.
	CheckAndConsume(ctx context.Context, req domain.ConsumeRequest) (domain.Decision, error)
}

// QuotaConfig holds tunables for the quota service.
type QuotaConfig struct {
	// NearLimitThreshold is the usage fraction at which decisions are
	// flagged NearLimit. Default: domain.NearLimitThreshold
	NearLimitThreshold float64
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	db      *sql.DB
	queries *repository.Queries
	periods *period.Calculator
	plans   PlanResolver
	ledger  CreditLedger
	usage   UsageGateway
	config  QuotaConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(
	db *sql.DB,
	queries *repository.Queries,
	periods *period.Calculator,
	plans PlanResolver,
	ledger CreditLedger,
	usage UsageGateway,
	config QuotaConfig,
	logger *slog.Logger,
) QuotaService {
	if config.NearLimitThreshold <= 0 || config.NearLimitThreshold > 1 {
		config.NearLimitThreshold = domain.NearLimitThreshold
	}
	return &quotaService{
		db:      db,
		queries: queries,
		periods: periods,
		plans:   plans,
		ledger:  ledger,
		usage:   usage,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// projectUsage is the base-quota position of a tenant in one period.
type projectUsage struct {
	tenant         domain.TenantContext
	plan           domain.Plan
	periodKey      string
	adjustments    int64 // administrative BASE ledger entries
	bonusGranted   int64
	effectiveLimit *int64
}

// used is the lifetime project counter plus administrative adjustments.
func (u projectUsage) used() int64 {
	return u.tenant.LifetimeBaseConsumed
}

// counterLimit is the bound applied to the raw counter so that counter plus
// adjustments never passes the effective limit.
func (u projectUsage) counterLimit() *int64 {
	if u.effectiveLimit == nil {
		return nil
	}
	return domain.Int64Ptr(*u.effectiveLimit - u.adjustments)
}

// GetLimits returns the tenant's limits for the current billing period.
func (s *quotaService) GetLimits(ctx context.Context, userID uuid.UUID) (*domain.Limits, error) {
	const op = "quota.get_limits"

	if userID == uuid.Nil {
		return nil, domain.Unauthorized(op, "authentication required")
	}

	var limits *domain.Limits
	err := InTx(ctx, s.db, s.queries, func(q *repository.Queries) error {
		pu, err := s.loadProjectUsage(ctx, q, userID, s.now())
		if err != nil {
			return err
		}

		bonusUsed, err := s.ledger.CountByType(ctx, q, userID, domain.LedgerBonusMonthly, domain.LedgerConsume, pu.periodKey)
		if err != nil {
			return err
		}

		aiUsed, err := s.usage.Current(ctx, q, userID, domain.ResourceAIMessage, pu.periodKey)
		if err != nil {
			return err
		}

		limits = &domain.Limits{
			PlanCode:                pu.plan.Code,
			PlanName:                pu.plan.Code.DisplayName(),
			PeriodKey:               pu.periodKey,
			BaseQuota:               pu.plan.BaseQuota,
			BaseUsed:                pu.used(),
			BaseRemaining:           pu.tenant.BaseRemaining(),
			BonusGrantedThisMonth:   pu.bonusGranted,
			BonusUsedThisMonth:      bonusUsed,
			BonusRemainingThisMonth: domain.BonusRemaining(pu.bonusGranted, bonusUsed),
			EffectiveBaseLimit:      pu.effectiveLimit,
			AIMessageLimit:          pu.plan.AIMessageLimit,
			AIMessagesUsed:          aiUsed,
			AIMessagesRemaining:     domain.Remaining(pu.plan.AIMessageLimit, aiUsed),
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(err, op, userID)
	}

	return limits, nil
}

// CanConsume reports whether one more unit would be admitted right now.
func (s *quotaService) CanConsume(ctx context.Context, userID uuid.UUID, kind domain.ResourceKind) (domain.Decision, error) {
	const op = "quota.can_consume"

	if userID == uuid.Nil {
		return s.record(op, domain.Deny(kind, domain.ReasonNotAuthenticated)), nil
	}

	var decision domain.Decision
	err := InTx(ctx, s.db, s.queries, func(q *repository.Queries) error {
		now := s.now()

		var (
			periodKey string
			used      int64
			limit     *int64
		)
		switch kind {
		case domain.ResourceProject:
			pu, err := s.loadProjectUsage(ctx, q, userID, now)
			if err != nil {
				return err
			}
			periodKey, used, limit = pu.periodKey, pu.used(), pu.effectiveLimit
		case domain.ResourceAIMessage:
			plan, err := s.plans.ResolvePlan(ctx, q, userID)
			if err != nil {
				return err
			}
			periodKey = s.periods.Key(now)
			used, err = s.usage.Current(ctx, q, userID, kind, periodKey)
			if err != nil {
				return err
			}
			limit = plan.AIMessageLimit
		default:
			return domain.Invalid(op, "unknown resource kind "+string(kind))
		}

		decision = s.decide(kind, periodKey, used, limit, limit == nil || used < *limit)
		return nil
	})
	if err != nil {
		return domain.Decision{}, s.fail(err, op, userID)
	}

	return s.record(op, decision), nil
}

// CheckAndConsume admits and records one unit of usage, or denies it.
//
// The limit is read first; at or above it the request is denied without
// touching the counter. Otherwise the conditional increment decides, and its
// returned count is what remaining and nearLimit are computed from.
func (s *quotaService) CheckAndConsume(ctx context.Context, req domain.ConsumeRequest) (domain.Decision, error) {
	const op = "quota.check_and_consume"

	if req.UserID == uuid.Nil {
		return s.record(op, domain.Deny(req.Kind, domain.ReasonNotAuthenticated)), nil
	}

	var decision domain.Decision
	err := InTx(ctx, s.db, s.queries, func(q *repository.Queries) error {
		var err error
		switch req.Kind {
		case domain.ResourceProject:
			decision, err = s.consumeProject(ctx, q, req)
		case domain.ResourceAIMessage:
			decision, err = s.consumeAIMessage(ctx, q, req)
		default:
			err = domain.Invalid(op, "unknown resource kind "+string(req.Kind))
		}
		return err
	})
	if err != nil {
		return domain.Decision{}, s.fail(err, op, req.UserID)
	}

	if !decision.Allowed {
		s.logger.Info("quota limit reached",
			"user_id", req.UserID,
			"kind", req.Kind,
			"used", decision.Used,
			"limit", decision.Limit,
		)
	}

	return s.record(op, decision), nil
}

func (s *quotaService) consumeProject(ctx context.Context, q *repository.Queries, req domain.ConsumeRequest) (domain.Decision, error) {
	now := s.now()

	pu, err := s.loadProjectUsage(ctx, q, req.UserID, now)
	if err != nil {
		return domain.Decision{}, err
	}

	if pu.effectiveLimit != nil && pu.used() >= *pu.effectiveLimit && req.IdempotencyKey == "" {
		return s.decide(req.Kind, pu.periodKey, pu.used(), pu.effectiveLimit, false), nil
	}

	result, err := s.usage.Increment(ctx, q, IncrementParams{
		UserID:         req.UserID,
		Resource:       domain.ResourceProject,
		PeriodKey:      domain.LifetimePeriod,
		Limit:          pu.counterLimit(),
		IdempotencyKey: req.IdempotencyKey,
		At:             now,
	})
	if err != nil {
		return domain.Decision{}, err
	}

	after := domain.NewTenantContext(req.UserID, pu.plan, result.Count+pu.adjustments)
	used := after.LifetimeBaseConsumed
	if !result.Applied {
		return s.decide(req.Kind, pu.periodKey, used, pu.effectiveLimit, false), nil
	}

	// Creations above the base quota ride on this period's bonus credits.
	if !result.Replayed && after.OverBase() {
		if err := s.ledger.RecordBonusConsumption(ctx, q, req.UserID, pu.periodKey, now); err != nil {
			return domain.Decision{}, err
		}
	}

	decision := s.decide(req.Kind, pu.periodKey, used, pu.effectiveLimit, true)
	decision.Replayed = result.Replayed
	return decision, nil
}

func (s *quotaService) consumeAIMessage(ctx context.Context, q *repository.Queries, req domain.ConsumeRequest) (domain.Decision, error) {
	now := s.now()

	plan, err := s.plans.ResolvePlan(ctx, q, req.UserID)
	if err != nil {
		return domain.Decision{}, err
	}
	periodKey := s.periods.Key(now)

	result, err := s.usage.Increment(ctx, q, IncrementParams{
		UserID:         req.UserID,
		Resource:       domain.ResourceAIMessage,
		PeriodKey:      periodKey,
		Limit:          plan.AIMessageLimit,
		IdempotencyKey: req.IdempotencyKey,
		At:             now,
	})
	if err != nil {
		return domain.Decision{}, err
	}

	decision := s.decide(req.Kind, periodKey, result.Count, plan.AIMessageLimit, result.Applied)
	decision.Replayed = result.Replayed
	return decision, nil
}

// loadProjectUsage reads everything the project gate needs through q.
func (s *quotaService) loadProjectUsage(ctx context.Context, q *repository.Queries, userID uuid.UUID, now time.Time) (projectUsage, error) {
	plan, err := s.plans.ResolvePlan(ctx, q, userID)
	if err != nil {
		return projectUsage{}, err
	}

	pu := projectUsage{
		plan:      plan,
		periodKey: s.periods.Key(now),
	}

	counted, err := s.usage.Current(ctx, q, userID, domain.ResourceProject, domain.LifetimePeriod)
	if err != nil {
		return projectUsage{}, err
	}

	pu.adjustments, err = s.ledger.CountBaseConsumed(ctx, q, userID)
	if err != nil {
		return projectUsage{}, err
	}

	pu.bonusGranted, err = s.ledger.CountByType(ctx, q, userID, domain.LedgerBonusMonthly, domain.LedgerGrant, pu.periodKey)
	if err != nil {
		return projectUsage{}, err
	}

	pu.tenant = domain.NewTenantContext(userID, plan, counted+pu.adjustments)
	pu.effectiveLimit = plan.PlanLimit(pu.bonusGranted)
	return pu, nil
}

func (s *quotaService) decide(kind domain.ResourceKind, periodKey string, used int64, limit *int64, allowed bool) domain.Decision {
	var d domain.Decision
	if allowed {
		d = domain.Allow(kind, periodKey, used, limit)
	} else {
		d = domain.Deny(kind, domain.ReasonLimitReached)
		d.PeriodKey = periodKey
		d.Used = used
		d.Limit = limit
	}
	d.NearLimit = domain.IsNearLimitAt(limit, used, s.config.NearLimitThreshold)
	return d
}

func (s *quotaService) record(op string, d domain.Decision) domain.Decision {
	outcome := "allowed"
	if !d.Allowed {
		outcome = string(d.Reason)
	}
	metrics.QuotaDecisions.WithLabelValues(op, string(d.Kind), outcome).Inc()
	return d
}

// fail logs a fault. Storage faults fail closed: the caller gets an error,
// never an allowed decision.
func (s *quotaService) fail(err error, op string, userID uuid.UUID) error {
	err = storageError(err, op, "quota evaluation failed")
	switch domain.ErrorCode(err) {
	case domain.ECONFIG:
		s.logger.Error("quota configuration fault", "op", op, "user_id", userID, "error", err)
	case domain.EINVALID, domain.ECONFLICT, domain.EUNAUTHORIZED:
		s.logger.Debug("quota request rejected", "op", op, "user_id", userID, "error", err)
	default:
		s.logger.Error("quota evaluation failed", "op", op, "user_id", userID, "error", err)
	}
	metrics.QuotaFaults.WithLabelValues(op, domain.ErrorCode(err)).Inc()
	return err
}
