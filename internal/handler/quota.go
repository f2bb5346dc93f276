// Package handler contains HTTP handlers for the Draftline accounting API.
//
// This file implements the quota routes used by product features before and
// while they consume a metered resource.
//
// Routes:
//   - GET  /api/limits                 -> Limits
//   - POST /api/usage/{kind}/check     -> Check
//   - POST /api/usage/{kind}/consume   -> Consume
//
// The usage routes run with an optional identity: a request without one gets
// a not_authenticated decision instead of a 401, so feature code has a single
// response shape to branch on.
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/draftline/internal/auth"
	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/service"
)

// IdempotencyKeyHeader carries the client's retry key on consume requests.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxIdempotencyKeyLen bounds the stored key.
const maxIdempotencyKeyLen = 255

// QuotaHandler serves limit views and quota decisions.
type QuotaHandler struct {
	quota  service.QuotaService
	logger *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quota service.QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:  quota,
		logger: logger,
	}
}

// RegisterRoutes registers quota routes on the provided mux.
//
// withIdentity attaches the tenant when one is present; requireUser also
// rejects anonymous requests.
func (h *QuotaHandler) RegisterRoutes(
	mux *http.ServeMux,
	withIdentity func(http.Handler) http.Handler,
	requireUser func(http.Handler) http.Handler,
) {
	mux.Handle("GET /api/limits", requireUser(http.HandlerFunc(h.Limits)))
	mux.Handle("POST /api/usage/{kind}/check", withIdentity(http.HandlerFunc(h.Check)))
	mux.Handle("POST /api/usage/{kind}/consume", withIdentity(http.HandlerFunc(h.Consume)))
}

// =============================================================================
// GET /api/limits
// =============================================================================

// Limits returns the tenant's plan limits and usage for the current period.
func (h *QuotaHandler) Limits(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromRequest(r)

	limits, err := h.quota.GetLimits(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, limits)
}

// =============================================================================
// POST /api/usage/{kind}/check
// =============================================================================

// Check reports whether one more unit of kind would be admitted.
// Nothing is consumed.
func (h *QuotaHandler) Check(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.resourceKind(w, r)
	if !ok {
		return
	}

	decision, err := h.quota.CanConsume(r.Context(), auth.GetUserIDFromRequest(r), kind)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// =============================================================================
// POST /api/usage/{kind}/consume
// =============================================================================

// Consume admits and records one unit of kind, or returns the denial.
// A denial is a normal 200 response with allowed=false.
func (h *QuotaHandler) Consume(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.resourceKind(w, r)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.consume", IdempotencyKeyHeader+" header is too long"))
		return
	}

	decision, err := h.quota.CheckAndConsume(r.Context(), domain.ConsumeRequest{
		UserID:         auth.GetUserIDFromRequest(r),
		Kind:           kind,
		IdempotencyKey: key,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// resourceKind parses the {kind} path value, writing a 400 when unknown.
func (h *QuotaHandler) resourceKind(w http.ResponseWriter, r *http.Request) (domain.ResourceKind, bool) {
	kind, err := domain.ParseResourceKind(r.PathValue("kind"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.resource_kind", err.Error()))
		return "", false
	}
	return kind, true
}
