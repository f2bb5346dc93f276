package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/DukeRupert/draftline/internal/auth"
	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/service"
)

// maxReferralBody limits the signup payload (4KB).
const maxReferralBody = 4096

// ReferralHandler serves referral registration and qualification events.
//
// Routes:
//   - POST /api/referrals              -> Register
//   - POST /api/events/first-project   -> FirstProject
//
// Both are called by collaborators acting for the authenticated tenant: the
// signup flow and the project CRUD service.
type ReferralHandler struct {
	referrals service.ReferralQualifier
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewReferralHandler creates a new ReferralHandler.
func NewReferralHandler(referrals service.ReferralQualifier, validate *validator.Validate, logger *slog.Logger) *ReferralHandler {
	return &ReferralHandler{
		referrals: referrals,
		validate:  validate,
		logger:    logger,
	}
}

// RegisterRoutes registers referral routes on the provided mux.
func (h *ReferralHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /api/referrals", requireUser(http.HandlerFunc(h.Register)))
	mux.Handle("POST /api/events/first-project", requireUser(http.HandlerFunc(h.FirstProject)))
}

// RegisterReferralRequest is the signup payload.
type RegisterReferralRequest struct {
	ReferralCode string `json:"referralCode" validate:"omitempty,alphanum,min=4,max=32"`
	ReferredBy   string `json:"referredBy" validate:"omitempty,alphanum,min=4,max=32"`
}

// ProfileResponse is the referral profile returned after registration.
type ProfileResponse struct {
	UserID                 uuid.UUID `json:"userId"`
	ReferralCode           string    `json:"referralCode"`
	ReferredBy             string    `json:"referredBy,omitempty"`
	HasCreatedFirstProject bool      `json:"hasCreatedFirstProject"`
}

// =============================================================================
// POST /api/referrals
// =============================================================================

// Register creates the tenant's referral profile at signup.
func (h *ReferralHandler) Register(w http.ResponseWriter, r *http.Request) {
	const op = "handler.register_referral"

	var req RegisterReferralRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReferralBody))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "failed to read request body"))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "request body must be a JSON object"))
			return
		}
	}

	req.ReferralCode = strings.TrimSpace(req.ReferralCode)
	req.ReferredBy = strings.TrimSpace(req.ReferredBy)
	if err := h.validate.Struct(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "referral codes must be 4-32 letters or digits"))
		return
	}

	profile, err := h.referrals.RegisterReferral(r.Context(), service.RegisterReferralParams{
		UserID:       auth.GetUserIDFromRequest(r),
		ReferralCode: req.ReferralCode,
		ReferredBy:   req.ReferredBy,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, ProfileResponse{
		UserID:                 profile.UserID,
		ReferralCode:           profile.ReferralCode,
		ReferredBy:             profile.ReferredBy,
		HasCreatedFirstProject: profile.HasCreatedFirstProject,
	})
}

// =============================================================================
// POST /api/events/first-project
// =============================================================================

// FirstProject records that the tenant created their first project and
// awards their referrer when applicable. Repeated calls are harmless.
func (h *ReferralHandler) FirstProject(w http.ResponseWriter, r *http.Request) {
	result, err := h.referrals.OnFirstProject(r.Context(), auth.GetUserIDFromRequest(r))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
