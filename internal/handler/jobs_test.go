package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/draftline/internal/domain"
)

type fakeNormalizer struct {
	report domain.NormalizationReport
	err    error
	calls  int
}

func (f *fakeNormalizer) Run(ctx context.Context, now time.Time) (domain.NormalizationReport, error) {
	f.calls++
	return f.report, f.err
}

func TestJobsHandler_NormalizeReferrals(t *testing.T) {
	n := &fakeNormalizer{report: domain.NormalizationReport{TotalChecked: 4, NeedingUpdate: 1, Updated: 1}}
	passthrough := func(next http.Handler) http.Handler { return next }

	mux := http.NewServeMux()
	NewJobsHandler(n, discardLogger()).RegisterRoutes(mux, passthrough)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/internal/jobs/normalize-referrals", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, n.calls)
	assert.JSONEq(t, `{"totalChecked":4,"needed":1,"updated":1,"failed":0}`, rec.Body.String())
}

func TestJobsHandler_NormalizeReferralsError(t *testing.T) {
	n := &fakeNormalizer{err: domain.Internal(errors.New("boom"), "jobs.normalize_referrals", "failed to list")}
	passthrough := func(next http.Handler) http.Handler { return next }

	mux := http.NewServeMux()
	NewJobsHandler(n, discardLogger()).RegisterRoutes(mux, passthrough)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/internal/jobs/normalize-referrals", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}
