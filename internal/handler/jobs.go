package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/draftline/internal/domain"
)

// NormalizationRunner runs one referral normalization pass.
type NormalizationRunner interface {
	Run(ctx context.Context, now time.Time) (domain.NormalizationReport, error)
}

// JobsHandler exposes maintenance jobs to an external timer.
type JobsHandler struct {
	normalizer NormalizationRunner
	logger     *slog.Logger
	now        func() time.Time
}

// NewJobsHandler creates a new JobsHandler.
func NewJobsHandler(normalizer NormalizationRunner, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		normalizer: normalizer,
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterRoutes registers job routes. They are INTERNAL and must be wrapped
// by requireToken.
func (h *JobsHandler) RegisterRoutes(mux *http.ServeMux, requireToken func(http.Handler) http.Handler) {
	mux.Handle("POST /internal/jobs/normalize-referrals", requireToken(http.HandlerFunc(h.NormalizeReferrals)))
}

// NormalizeReferrals runs a normalization pass and returns its report.
// Per-row failures are reported in the body, not as an error status.
func (h *JobsHandler) NormalizeReferrals(w http.ResponseWriter, r *http.Request) {
	report, err := h.normalizer.Run(r.Context(), h.now())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("normalization triggered",
		"checked", report.TotalChecked,
		"updated", report.Updated,
		"failed", report.Failed,
	)
	writeJSON(w, http.StatusOK, report)
}
