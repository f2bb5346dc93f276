package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/draftline/internal/auth"
	"github.com/DukeRupert/draftline/internal/domain"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeQuotaService struct {
	limits   *domain.Limits
	decision domain.Decision
	err      error

	lastUser    uuid.UUID
	lastRequest domain.ConsumeRequest
}

func (f *fakeQuotaService) GetLimits(ctx context.Context, userID uuid.UUID) (*domain.Limits, error) {
	f.lastUser = userID
	return f.limits, f.err
}

func (f *fakeQuotaService) CanConsume(ctx context.Context, userID uuid.UUID, kind domain.ResourceKind) (domain.Decision, error) {
	f.lastUser = userID
	return f.decision, f.err
}

func (f *fakeQuotaService) CheckAndConsume(ctx context.Context, req domain.ConsumeRequest) (domain.Decision, error) {
	f.lastRequest = req
	return f.decision, f.err
}

// headerIdentity stands in for the identity middleware.
func headerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := uuid.Parse(r.Header.Get(auth.UserIDHeader)); err == nil {
			r = r.WithContext(auth.SetUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func requireHeaderIdentity(next http.Handler) http.Handler {
	return headerIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetUserIDFromRequest(r) == uuid.Nil {
			UnauthorizedResponse(w, r, discardLogger())
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func quotaMux(q *fakeQuotaService) *http.ServeMux {
	mux := http.NewServeMux()
	NewQuotaHandler(q, discardLogger()).RegisterRoutes(mux, headerIdentity, requireHeaderIdentity)
	return mux
}

// =============================================================================
// Quota routes
// =============================================================================

func TestQuotaHandler_Limits(t *testing.T) {
	userID := uuid.New()
	q := &fakeQuotaService{limits: &domain.Limits{
		PlanCode:  domain.PlanBasic,
		PlanName:  "Basic",
		PeriodKey: "2024-03",
		BaseQuota: domain.Int64Ptr(5),
		BaseUsed:  2,
	}}

	req := httptest.NewRequest("GET", "/api/limits", nil)
	req.Header.Set(auth.UserIDHeader, userID.String())
	rec := httptest.NewRecorder()
	quotaMux(q).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, q.lastUser)

	var got domain.Limits
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2024-03", got.PeriodKey)
	assert.Equal(t, int64(2), got.BaseUsed)
}

func TestQuotaHandler_LimitsRequiresIdentity(t *testing.T) {
	rec := httptest.NewRecorder()
	quotaMux(&fakeQuotaService{}).ServeHTTP(rec, httptest.NewRequest("GET", "/api/limits", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQuotaHandler_Consume(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name       string
		path       string
		user       string
		key        string
		decision   domain.Decision
		err        error
		wantStatus int
		wantKind   domain.ResourceKind
	}{
		{
			name:       "allowed",
			path:       "/api/usage/project/consume",
			user:       userID.String(),
			key:        "req-1",
			decision:   domain.Allow(domain.ResourceProject, domain.LifetimePeriod, 3, domain.Int64Ptr(5)),
			wantStatus: http.StatusOK,
			wantKind:   domain.ResourceProject,
		},
		{
			name:       "denial is not an error status",
			path:       "/api/usage/ai_message/consume",
			user:       userID.String(),
			decision:   domain.Deny(domain.ResourceAIMessage, domain.ReasonLimitReached),
			wantStatus: http.StatusOK,
			wantKind:   domain.ResourceAIMessage,
		},
		{
			name:       "anonymous reaches the gate",
			path:       "/api/usage/project/consume",
			decision:   domain.Deny(domain.ResourceProject, domain.ReasonNotAuthenticated),
			wantStatus: http.StatusOK,
			wantKind:   domain.ResourceProject,
		},
		{
			name:       "unknown kind",
			path:       "/api/usage/widgets/consume",
			user:       userID.String(),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "idempotency conflict",
			path:       "/api/usage/project/consume",
			user:       userID.String(),
			key:        "req-1",
			err:        domain.Conflict("usage.increment", "idempotency key reused"),
			wantStatus: http.StatusConflict,
			wantKind:   domain.ResourceProject,
		},
		{
			name:       "storage fault fails closed",
			path:       "/api/usage/project/consume",
			user:       userID.String(),
			err:        domain.Unavailable(errors.New("locked"), "quota.check_and_consume", "storage unavailable"),
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   domain.ResourceProject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuotaService{decision: tt.decision, err: tt.err}

			req := httptest.NewRequest("POST", tt.path, nil)
			if tt.user != "" {
				req.Header.Set(auth.UserIDHeader, tt.user)
			}
			if tt.key != "" {
				req.Header.Set(IdempotencyKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			quotaMux(q).ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantKind, q.lastRequest.Kind)
			assert.Equal(t, tt.key, q.lastRequest.IdempotencyKey)

			if tt.wantStatus == http.StatusOK {
				var got domain.Decision
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, tt.decision.Allowed, got.Allowed)
				assert.Equal(t, tt.decision.Reason, got.Reason)
			}
		})
	}
}

func TestQuotaHandler_ConsumeRejectsLongKey(t *testing.T) {
	q := &fakeQuotaService{}

	req := httptest.NewRequest("POST", "/api/usage/project/consume", nil)
	req.Header.Set(auth.UserIDHeader, uuid.NewString())
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("k", maxIdempotencyKeyLen+1))
	rec := httptest.NewRecorder()
	quotaMux(q).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, q.lastRequest.Kind)
}

func TestQuotaHandler_Check(t *testing.T) {
	userID := uuid.New()
	q := &fakeQuotaService{decision: domain.Allow(domain.ResourceAIMessage, "2024-03", 40, domain.Int64Ptr(50))}

	req := httptest.NewRequest("POST", "/api/usage/ai_message/check", nil)
	req.Header.Set(auth.UserIDHeader, userID.String())
	rec := httptest.NewRecorder()
	quotaMux(q).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, q.lastUser)

	var got domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Allowed)
	assert.True(t, got.NearLimit)
	require.NotNil(t, got.Remaining)
	assert.Equal(t, int64(10), *got.Remaining)
}
