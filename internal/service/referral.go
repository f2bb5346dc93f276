package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/metrics"
	"github.com/DukeRupert/draftline/internal/period"
	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Referral award sources, used as a metrics label.
const (
	AwardSourceFirstProject = "first_project"
	AwardSourceReconcile    = "reconcile"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ReferralQualifier drives referrals from signup to credit award.
type ReferralQualifier interface {
	// RegisterReferral creates the referred user's profile at signup and, when
	// the referral code resolves, a pending referral.
	RegisterReferral(ctx context.Context, params RegisterReferralParams) (*domain.Profile, error)

	// OnFirstProject handles the referred user's first qualifying action.
	// It is idempotent: the first-project flag and the referral's
	// credits_awarded flag guard against repeated awards.
	OnFirstProject(ctx context.Context, referredUserID uuid.UUID) (domain.QualificationResult, error)

	// ReconcilePending awards referrals whose referred user qualified but
	// whose credit was never granted, up to limit rows. Referrals that cannot
	// be awarded without an operator are flagged for review and left out of
	// later runs.
	ReconcilePending(ctx context.Context, limit int) (domain.ReconcileReport, error)

	// ListFlagged returns referrals waiting for manual review, oldest first.
	ListFlagged(ctx context.Context, limit int) ([]domain.Referral, error)

	// ClearReview returns a flagged referral to reconciliation once the
	// underlying problem has been corrected.
	ClearReview(ctx context.Context, referralID uuid.UUID) error

	// CountApproved counts approved referrals for a referrer in a period.
	CountApproved(ctx context.Context, referrerUserID uuid.UUID, periodKey string) (int64, error)
}

// RegisterReferralParams contains parameters for signup registration.
type RegisterReferralParams struct {
	UserID uuid.UUID
	// ReferralCode is the new user's own code. Generated when empty.
	ReferralCode string
	// ReferredBy is the code the user signed up with, if any.
	ReferredBy string
}

// Retry defaults for the award transaction.
const (
	DefaultReferralMaxRetries = 3
	DefaultReferralBaseDelay  = 100 * time.Millisecond
)

// ReferralConfig holds retry settings for the award transaction.
type ReferralConfig struct {
	// MaxRetries is how many times a transient failure is retried.
	// Default: 3
	MaxRetries uint64

	// BaseDelay is the first backoff interval; later ones grow exponentially.
	// Default: 100ms
	BaseDelay time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

type referralQualifier struct {
	db      *sql.DB
	queries *repository.Queries
	periods *period.Calculator
	ledger  CreditLedger
	config  ReferralConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewReferralQualifier creates a new ReferralQualifier.
func NewReferralQualifier(
	db *sql.DB,
	queries *repository.Queries,
	periods *period.Calculator,
	ledger CreditLedger,
	config ReferralConfig,
	logger *slog.Logger,
) ReferralQualifier {
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultReferralMaxRetries
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultReferralBaseDelay
	}
	return &referralQualifier{
		db:      db,
		queries: queries,
		periods: periods,
		ledger:  ledger,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterReferral creates the profile and, when possible, a pending referral.
func (s *referralQualifier) RegisterReferral(ctx context.Context, params RegisterReferralParams) (*domain.Profile, error) {
	const op = "referral.register"

	if params.UserID == uuid.Nil {
		return nil, domain.Invalid(op, "user ID is required")
	}

	code := strings.TrimSpace(params.ReferralCode)
	if code == "" {
		code = newReferralCode()
	}
	referredBy := strings.TrimSpace(params.ReferredBy)
	if referredBy != "" && strings.EqualFold(referredBy, code) {
		return nil, domain.Invalid(op, "users cannot refer themselves")
	}

	now := s.now().UTC()
	err := InTx(ctx, s.db, s.queries, func(q *repository.Queries) error {
		err := q.CreateProfile(ctx, repository.CreateProfileParams{
			UserID:       params.UserID,
			ReferralCode: code,
			ReferredBy:   sql.NullString{String: referredBy, Valid: referredBy != ""},
			CreatedAt:    now,
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return domain.Conflict(op, "profile or referral code already exists")
			}
			return storageError(err, op, "failed to create profile")
		}

		if referredBy == "" {
			return nil
		}

		referrer, err := q.GetProfileByReferralCode(ctx, referredBy)
		if err != nil {
			if repository.IsNoRows(err) {
				// Kept on the profile; qualification reports it as an anomaly.
				s.logger.Warn("unknown referral code at signup",
					"user_id", params.UserID,
					"referral_code", referredBy,
				)
				return nil
			}
			return storageError(err, op, "failed to resolve referral code")
		}

		_, err = q.CreateReferral(ctx, repository.CreateReferralParams{
			ID:             uuid.New(),
			ReferrerUserID: referrer.UserID,
			ReferredUserID: params.UserID,
			CreatedAt:      now,
		})
		if err != nil {
			return storageError(err, op, "failed to create referral")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile registered",
		"user_id", params.UserID,
		"referred_by", referredBy,
	)

	return &domain.Profile{
		UserID:       params.UserID,
		ReferralCode: code,
		ReferredBy:   referredBy,
	}, nil
}

// OnFirstProject handles the referred user's first qualifying action.
func (s *referralQualifier) OnFirstProject(ctx context.Context, referredUserID uuid.UUID) (domain.QualificationResult, error) {
	const op = "referral.on_first_project"

	if referredUserID == uuid.Nil {
		return domain.QualificationResult{}, domain.Invalid(op, "user ID is required")
	}

	var result domain.QualificationResult
	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		return InTx(ctx, s.db, s.queries, func(q *repository.Queries) error {
			var err error
			result, err = s.qualify(ctx, q, referredUserID)
			return err
		})
	})
	if err != nil {
		s.logger.Error("referral qualification failed", "user_id", referredUserID, "error", err)
		return domain.QualificationResult{}, storageError(err, op, "referral qualification failed")
	}

	switch result.Outcome {
	case domain.QualificationAwarded:
		metrics.ReferralAwards.WithLabelValues(AwardSourceFirstProject).Inc()
		s.logger.Info("referral credit awarded",
			"referred_user_id", referredUserID,
			"referrer_user_id", result.ReferrerUserID,
			"period_key", result.PeriodKey,
		)
	case domain.QualificationReferrerMissing:
		metrics.ReferralAnomalies.WithLabelValues("referrer_missing").Inc()
	}

	return result, nil
}

// qualify runs one attempt of the first-project transition inside q's
// transaction.
func (s *referralQualifier) qualify(ctx context.Context, q *repository.Queries, referredUserID uuid.UUID) (domain.QualificationResult, error) {
	const op = "referral.qualify"

	flipped, err := q.MarkFirstProjectCreated(ctx, referredUserID)
	if err != nil {
		return domain.QualificationResult{}, err
	}

	profile, err := q.GetProfile(ctx, referredUserID)
	if err != nil {
		if repository.IsNoRows(err) {
			return domain.QualificationResult{}, domain.NotFound(op, "profile", referredUserID.String())
		}
		return domain.QualificationResult{}, err
	}

	if flipped == 0 {
		return domain.QualificationResult{Outcome: domain.QualificationAlreadyQualified}, nil
	}
	if !profile.ReferredBy.Valid || profile.ReferredBy.String == "" {
		return domain.QualificationResult{Outcome: domain.QualificationNotReferred}, nil
	}

	referrer, err := q.GetProfileByReferralCode(ctx, profile.ReferredBy.String)
	if err != nil {
		if !repository.IsNoRows(err) {
			return domain.QualificationResult{}, err
		}
		// The flag stays set; the referral waits for manual reconciliation.
		s.logger.Warn("referrer not found for qualified user",
			"referred_user_id", referredUserID,
			"referral_code", profile.ReferredBy.String,
		)
		row, err := q.GetReferralByReferred(ctx, referredUserID)
		switch {
		case err == nil:
			if err := s.flag(ctx, q, row.ID, domain.ReviewReasonReferrerMissing); err != nil {
				return domain.QualificationResult{}, err
			}
		case !repository.IsNoRows(err):
			return domain.QualificationResult{}, err
		}
		return domain.QualificationResult{Outcome: domain.QualificationReferrerMissing}, nil
	}
	if referrer.UserID == referredUserID {
		s.logger.Warn("self-referral ignored", "user_id", referredUserID)
		return domain.QualificationResult{Outcome: domain.QualificationReferrerMissing}, nil
	}

	row, err := q.GetReferralByReferred(ctx, referredUserID)
	if repository.IsNoRows(err) {
		if _, err = q.CreateReferral(ctx, repository.CreateReferralParams{
			ID:             uuid.New(),
			ReferrerUserID: referrer.UserID,
			ReferredUserID: referredUserID,
			CreatedAt:      s.now().UTC(),
		}); err != nil {
			return domain.QualificationResult{}, err
		}
		row, err = q.GetReferralByReferred(ctx, referredUserID)
	}
	if err != nil {
		return domain.QualificationResult{}, err
	}

	return s.award(ctx, q, row)
}

// award moves a pending referral to approved and grants the referrer's bonus
// credit in the current period. credits_awarded is the only guard against a
// second grant; the ledger is never consulted for that.
func (s *referralQualifier) award(ctx context.Context, q *repository.Queries, row repository.Referral) (domain.QualificationResult, error) {
	const op = "referral.award"

	now := s.now()
	periodKey := s.periods.Key(now)

	referral := toDomainReferral(row)
	if err := referral.Qualify(now.UTC(), periodKey); err != nil {
		if referral.State() == domain.ReferralStateAwarded {
			return domain.QualificationResult{
				Outcome:        domain.QualificationAlreadyAwarded,
				ReferrerUserID: &referral.ReferrerUserID,
				PeriodKey:      referral.PeriodKey,
			}, nil
		}
		s.logger.Error("referral in inconsistent state",
			"referral_id", row.ID,
			"status", row.Status,
			"credits_awarded", row.CreditsAwarded,
		)
		metrics.ReferralAnomalies.WithLabelValues("inconsistent_state").Inc()
		return domain.QualificationResult{}, err
	}

	approved, err := q.ApproveReferral(ctx, repository.ApproveReferralParams{
		QualifiedAt: now.UTC(),
		PeriodKey:   periodKey,
		ID:          row.ID,
	})
	if err != nil {
		return domain.QualificationResult{}, err
	}
	if approved == 0 {
		// Lost the race to a concurrent award.
		return domain.QualificationResult{
			Outcome:        domain.QualificationAlreadyAwarded,
			ReferrerUserID: &referral.ReferrerUserID,
		}, nil
	}

	_, err = s.ledger.GrantBonus(ctx, q, GrantBonusParams{
		UserID:     referral.ReferrerUserID,
		PeriodKey:  periodKey,
		ReferralID: referral.ID,
		At:         now,
	})
	if err != nil {
		s.logger.Error("bonus grant failed", "op", op, "referral_id", referral.ID, "error", err)
		return domain.QualificationResult{}, err
	}

	return domain.QualificationResult{
		Outcome:        domain.QualificationAwarded,
		ReferrerUserID: &referral.ReferrerUserID,
		PeriodKey:      periodKey,
	}, nil
}

// ReconcilePending awards qualified but unawarded referrals.
func (s *referralQualifier) ReconcilePending(ctx context.Context, limit int) (domain.ReconcileReport, error) {
	const op = "referral.reconcile_pending"

	var report domain.ReconcileReport
	if limit < 1 {
		return report, domain.Invalid(op, "limit must be at least 1")
	}

	rows, err := s.queries.ListQualifiedUnawardedReferrals(ctx, int32(limit))
	if err != nil {
		return report, storageError(err, op, "failed to list pending referrals")
	}

	for _, row := range rows {
		report.Checked++
		logger := s.logger.With("referral_id", row.ID, "referrer_user_id", row.ReferrerUserID)

		var result domain.QualificationResult
		err := s.withRetry(ctx, op, func(ctx context.Context) error {
			return InTx(ctx, s.db, s.queries, func(q *repository.Queries) error {
				if _, err := q.GetProfile(ctx, row.ReferrerUserID); err != nil {
					if repository.IsNoRows(err) {
						result = domain.QualificationResult{Outcome: domain.QualificationReferrerMissing}
						return s.flag(ctx, q, row.ID, domain.ReviewReasonReferrerMissing)
					}
					return err
				}

				current, err := q.GetReferral(ctx, row.ID)
				if err != nil {
					return err
				}
				result, err = s.award(ctx, q, current)
				return err
			})
		})
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if errors.Is(err, domain.ErrReferralInconsistent) {
				// Retrying cannot fix an inconsistent row; park it.
				if ferr := s.flag(ctx, s.queries, row.ID, domain.ReviewReasonInconsistentState); ferr != nil {
					logger.Error("failed to flag referral for review", "error", ferr)
					report.Failed++
					continue
				}
				report.Flagged++
				logger.Error("referral flagged for review", "reason", domain.ReviewReasonInconsistentState, "error", err)
				continue
			}
			report.Failed++
			logger.Error("referral reconciliation failed", "error", err)
			continue
		}

		switch result.Outcome {
		case domain.QualificationAwarded:
			report.Awarded++
			metrics.ReferralAwards.WithLabelValues(AwardSourceReconcile).Inc()
			logger.Info("pending referral awarded", "period_key", result.PeriodKey)
		case domain.QualificationReferrerMissing:
			report.Flagged++
			metrics.ReferralAnomalies.WithLabelValues("referrer_missing").Inc()
			logger.Warn("referrer missing, referral flagged for review")
		default:
			report.Skipped++
		}
	}

	return report, nil
}

// ListFlagged returns referrals waiting for manual review.
func (s *referralQualifier) ListFlagged(ctx context.Context, limit int) ([]domain.Referral, error) {
	const op = "referral.list_flagged"

	if limit < 1 {
		return nil, domain.Invalid(op, "limit must be at least 1")
	}

	rows, err := s.queries.ListFlaggedReferrals(ctx, int32(limit))
	if err != nil {
		return nil, storageError(err, op, "failed to list flagged referrals")
	}

	referrals := make([]domain.Referral, 0, len(rows))
	for _, row := range rows {
		referrals = append(referrals, toDomainReferral(row))
	}
	return referrals, nil
}

// ClearReview returns a flagged referral to reconciliation.
func (s *referralQualifier) ClearReview(ctx context.Context, referralID uuid.UUID) error {
	const op = "referral.clear_review"

	cleared, err := s.queries.ClearReferralReview(ctx, referralID)
	if err != nil {
		return storageError(err, op, "failed to clear referral review")
	}
	if cleared == 0 {
		return domain.NotFound(op, "flagged referral", referralID.String())
	}

	s.logger.Info("referral review cleared", "referral_id", referralID)
	return nil
}

// flag parks an unawarded referral for manual review.
func (s *referralQualifier) flag(ctx context.Context, q *repository.Queries, referralID uuid.UUID, reason string) error {
	flagged, err := q.FlagReferralForReview(ctx, repository.FlagReferralForReviewParams{
		Reason:    reason,
		FlaggedAt: s.now().UTC(),
		ID:        referralID,
	})
	if err != nil {
		return err
	}
	if flagged > 0 {
		metrics.ReferralsFlagged.WithLabelValues(reason).Inc()
		s.logger.Warn("referral flagged for review", "referral_id", referralID, "reason", reason)
	}
	return nil
}

// CountApproved counts approved referrals for a referrer in a period.
func (s *referralQualifier) CountApproved(ctx context.Context, referrerUserID uuid.UUID, periodKey string) (int64, error) {
	const op = "referral.count_approved"

	count, err := s.queries.CountApprovedReferrals(ctx, referrerUserID, periodKey)
	if err != nil {
		return 0, storageError(err, op, "failed to count approved referrals")
	}
	return count, nil
}

// withRetry retries fn with exponential backoff while it fails transiently.
func (s *referralQualifier) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.config.MaxRetries, retry.NewExponential(s.config.BaseDelay))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && (repository.IsTransient(err) || domain.IsRetryable(err)) {
			s.logger.Warn("transient failure, retrying", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// =============================================================================
// Helpers
// =============================================================================

func toDomainReferral(row repository.Referral) domain.Referral {
	r := domain.Referral{
		ID:             row.ID,
		ReferrerUserID: row.ReferrerUserID,
		ReferredUserID: row.ReferredUserID,
		Status:         domain.ReferralStatus(row.Status),
		CreditsAwarded: row.CreditsAwarded,
		CreatedAt:      row.CreatedAt,
	}
	if row.QualifiedAt.Valid {
		t := row.QualifiedAt.Time
		r.QualifiedAt = &t
	}
	if row.PeriodKey.Valid {
		r.PeriodKey = row.PeriodKey.String
	}
	if row.FlaggedAt.Valid {
		t := row.FlaggedAt.Time
		r.FlaggedAt = &t
		r.ReviewReason = row.ReviewReason.String
	}
	return r
}

// newReferralCode returns an 8-character shareable code.
func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
