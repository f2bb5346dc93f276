package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/metrics"
	"github.com/DukeRupert/draftline/internal/period"
	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/DukeRupert/draftline/internal/service"
	"github.com/DukeRupert/draftline/internal/worker"
)

// DefaultLookback bounds the normalization scan.
const DefaultLookback = 90 * 24 * time.Hour

// NormalizeReferralsPayload optionally overrides the lookback of a run.
type NormalizeReferralsPayload struct {
	LookbackDays int `json:"lookback_days,omitempty"`
}

// NormalizeReferralsHandler recomputes the period key of recently approved
// referrals from their qualification time and corrects any that drifted,
// along with the ledger grant each one produced.
//
// Only rows that still differ are written, so repeated or concurrent runs
// converge on the same state.
type NormalizeReferralsHandler struct {
	db       *sql.DB
	queries  *repository.Queries
	periods  *period.Calculator
	ledger   service.CreditLedger
	lookback time.Duration
	logger   *slog.Logger
}

// NewNormalizeReferralsHandler creates a new handler for referral normalization jobs.
func NewNormalizeReferralsHandler(
	db *sql.DB,
	queries *repository.Queries,
	periods *period.Calculator,
	ledger service.CreditLedger,
	lookback time.Duration,
	logger *slog.Logger,
) *NormalizeReferralsHandler {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &NormalizeReferralsHandler{
		db:       db,
		queries:  queries,
		periods:  periods,
		ledger:   ledger,
		lookback: lookback,
		logger:   logger,
	}
}

// Type returns the job type identifier.
func (h *NormalizeReferralsHandler) Type() string {
	return worker.JobTypeNormalizeReferrals
}

// Handle executes a scheduled normalization run.
func (h *NormalizeReferralsHandler) Handle(ctx context.Context, payload []byte) error {
	lookback := h.lookback
	if len(payload) > 0 {
		var p NormalizeReferralsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
		}
		if p.LookbackDays > 0 {
			lookback = time.Duration(p.LookbackDays) * 24 * time.Hour
		}
	}

	_, err := h.run(ctx, time.Now(), lookback)
	return err
}

// Run normalizes referrals approved within the lookback window before now.
// Per-row failures are counted in the report and do not fail the run.
func (h *NormalizeReferralsHandler) Run(ctx context.Context, now time.Time) (domain.NormalizationReport, error) {
	return h.run(ctx, now, h.lookback)
}

func (h *NormalizeReferralsHandler) run(ctx context.Context, now time.Time, lookback time.Duration) (domain.NormalizationReport, error) {
	const op = "jobs.normalize_referrals"

	var report domain.NormalizationReport
	since := now.Add(-lookback).UTC()

	rows, err := h.queries.ListApprovedReferralsSince(ctx, since)
	if err != nil {
		return report, domain.Internal(err, op, "failed to list approved referrals")
	}

	h.logger.Info("Normalizing referral period keys",
		"since", since,
		"candidates", len(rows),
	)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.TotalChecked++

		if !row.QualifiedAt.Valid {
			continue
		}
		want := h.periods.Key(row.QualifiedAt.Time)

		needed, updated, err := h.normalizeOne(ctx, row, want)
		if needed {
			report.NeedingUpdate++
		}
		if err != nil {
			report.Failed++
			h.logger.Error("Failed to normalize referral",
				"referral_id", row.ID,
				"period_key", row.PeriodKey.String,
				"want", want,
				"error", err,
			)
			continue
		}
		if updated {
			report.Updated++
			metrics.LedgerCorrections.Inc()
		}
	}

	metrics.NormalizationReported(report.TotalChecked, report.NeedingUpdate, report.Updated, report.Failed)
	h.logger.Info("Referral normalization finished",
		"checked", report.TotalChecked,
		"needed", report.NeedingUpdate,
		"updated", report.Updated,
		"failed", report.Failed,
	)

	return report, nil
}

// normalizeOne moves one referral and its grant to want in a single
// transaction. needed reports whether either row differed when read.
func (h *NormalizeReferralsHandler) normalizeOne(ctx context.Context, row repository.Referral, want string) (needed, updated bool, err error) {
	err = service.InTx(ctx, h.db, h.queries, func(q *repository.Queries) error {
		grant, err := q.GetGrantByReferral(ctx, row.ID)
		hasGrant := err == nil
		if err != nil && !repository.IsNoRows(err) {
			return fmt.Errorf("get grant: %w", err)
		}

		needed = row.PeriodKey.String != want || (hasGrant && grant.PeriodKey != want)
		if !needed {
			return nil
		}

		changed, err := q.UpdateReferralPeriodKey(ctx, row.ID, want)
		if err != nil {
			return fmt.Errorf("update referral: %w", err)
		}
		if changed > 0 {
			h.logger.Info("Referral period key corrected",
				"referral_id", row.ID,
				"old_period_key", row.PeriodKey.String,
				"new_period_key", want,
			)
		}

		corrected := false
		if hasGrant {
			corrected, err = h.ledger.CorrectPeriodKey(ctx, q, grant.ID, want)
			if err != nil {
				return err
			}
		}

		updated = changed > 0 || corrected
		return nil
	})
	if err != nil {
		updated = false
	}
	return needed, updated, err
}
