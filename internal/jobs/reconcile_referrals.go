package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/draftline/internal/service"
	"github.com/DukeRupert/draftline/internal/worker"
)

// ReconcileReferralsPayload optionally overrides the batch size of a run.
type ReconcileReferralsPayload struct {
	BatchSize int `json:"batch_size,omitempty"`
}

// ReconcileReferralsHandler awards referrals whose referred user qualified
// but whose credit was never granted, e.g. after a transient failure that
// outlasted the in-request retries.
type ReconcileReferralsHandler struct {
	referrals service.ReferralQualifier
	batchSize int
	logger    *slog.Logger
}

// NewReconcileReferralsHandler creates a new handler for referral reconciliation jobs.
func NewReconcileReferralsHandler(referrals service.ReferralQualifier, batchSize int, logger *slog.Logger) *ReconcileReferralsHandler {
	if batchSize < 1 {
		batchSize = 100
	}
	return &ReconcileReferralsHandler{
		referrals: referrals,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Type returns the job type identifier.
func (h *ReconcileReferralsHandler) Type() string {
	return worker.JobTypeReconcileReferrals
}

// Handle executes one reconciliation batch.
func (h *ReconcileReferralsHandler) Handle(ctx context.Context, payload []byte) error {
	batchSize := h.batchSize
	if len(payload) > 0 {
		var p ReconcileReferralsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
		}
		if p.BatchSize > 0 {
			batchSize = p.BatchSize
		}
	}

	report, err := h.referrals.ReconcilePending(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("reconcile pending referrals: %w", err)
	}

	h.logger.Info("Referral reconciliation finished",
		"checked", report.Checked,
		"awarded", report.Awarded,
		"skipped", report.Skipped,
		"flagged", report.Flagged,
		"failed", report.Failed,
	)
	return nil
}
