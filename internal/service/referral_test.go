package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/draftline/internal"
	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/service"
)

// register creates a profile with the given code, referred by referredBy.
func register(t *testing.T, svc *internal.Services, userID uuid.UUID, code, referredBy string) *domain.Profile {
	t.Helper()
	p, err := svc.Referrals.RegisterReferral(context.Background(), service.RegisterReferralParams{
		UserID:       userID,
		ReferralCode: code,
		ReferredBy:   referredBy,
	})
	require.NoError(t, err)
	return p
}

func TestReferral_RegisterGeneratesCode(t *testing.T) {
	svc := newTestServices(t)

	p := register(t, svc, uuid.New(), "", "")
	assert.Len(t, p.ReferralCode, 8)
	assert.Empty(t, p.ReferredBy)
}

func TestReferral_RegisterRejectsInvalid(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	existing := uuid.New()
	register(t, svc, existing, "TAKEN001", "")

	tests := []struct {
		name     string
		params   service.RegisterReferralParams
		wantCode string
	}{
		{"missing user", service.RegisterReferralParams{ReferralCode: "X"}, domain.EINVALID},
		{"self referral", service.RegisterReferralParams{UserID: uuid.New(), ReferralCode: "ME000001", ReferredBy: "me000001"}, domain.EINVALID},
		{"duplicate profile", service.RegisterReferralParams{UserID: existing, ReferralCode: "OTHER001"}, domain.ECONFLICT},
		{"duplicate code", service.RegisterReferralParams{UserID: uuid.New(), ReferralCode: "TAKEN001"}, domain.ECONFLICT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Referrals.RegisterReferral(ctx, tt.params)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
		})
	}
}

func TestReferral_FirstProjectAwardsOnce(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	referrer := uuid.New()
	referred := uuid.New()
	register(t, svc, referrer, "REFERRER", "")
	register(t, svc, referred, "", "REFERRER")

	first, err := svc.Referrals.OnFirstProject(ctx, referred)
	require.NoError(t, err)
	assert.Equal(t, domain.QualificationAwarded, first.Outcome)
	require.NotNil(t, first.ReferrerUserID)
	assert.Equal(t, referrer, *first.ReferrerUserID)
	assert.Equal(t, svc.Periods.Key(time.Now()), first.PeriodKey)

	second, err := svc.Referrals.OnFirstProject(ctx, referred)
	require.NoError(t, err)
	assert.Equal(t, domain.QualificationAlreadyQualified, second.Outcome)

	count, err := svc.Referrals.CountApproved(ctx, referrer, first.PeriodKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	grants, err := svc.Ledger.CountByType(ctx, svc.Queries, referrer, domain.LedgerBonusMonthly, domain.LedgerGrant, first.PeriodKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), grants)
}

func TestReferral_ConcurrentFirstProjectAwardsOnce(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	referrer := uuid.New()
	referred := uuid.New()
	register(t, svc, referrer, "RACE0001", "")
	register(t, svc, referred, "", "RACE0001")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Referrals.OnFirstProject(ctx, referred)
		}()
	}
	wg.Wait()

	grants, err := svc.Ledger.CountByType(ctx, svc.Queries, referrer, domain.LedgerBonusMonthly, domain.LedgerGrant, svc.Periods.Key(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), grants)
}

func TestReferral_FirstProjectOutcomes(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	plain := uuid.New()
	register(t, svc, plain, "", "")

	orphan := uuid.New()
	register(t, svc, orphan, "", "NOSUCHCD")

	tests := []struct {
		name    string
		userID  uuid.UUID
		want    domain.QualificationOutcome
		wantErr string
	}{
		{"not referred", plain, domain.QualificationNotReferred, ""},
		{"referrer missing", orphan, domain.QualificationReferrerMissing, ""},
		{"no profile", uuid.New(), "", domain.ENOTFOUND},
		{"nil user", uuid.Nil, "", domain.EINVALID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Referrals.OnFirstProject(ctx, tt.userID)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, domain.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Outcome)
		})
	}

	// The flag is committed even when no award is possible
	again, err := svc.Referrals.OnFirstProject(ctx, orphan)
	require.NoError(t, err)
	assert.Equal(t, domain.QualificationAlreadyQualified, again.Outcome)
}

// A BASIC tenant who has used all 5 base projects and earned 2 referral
// credits this month can create exactly 2 more projects.
func TestReferral_BonusCreditsRaiseProjectLimit(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	referrer := newTenant(t, svc, domain.PlanBasic)
	register(t, svc, referrer, "BONUS001", "")

	for i := 0; i < 5; i++ {
		require.True(t, consume(t, svc, referrer, domain.ResourceProject).Allowed)
	}
	blocked := consume(t, svc, referrer, domain.ResourceProject)
	require.False(t, blocked.Allowed)

	for i := 0; i < 2; i++ {
		friend := uuid.New()
		register(t, svc, friend, "", "BONUS001")
		res, err := svc.Referrals.OnFirstProject(ctx, friend)
		require.NoError(t, err)
		require.Equal(t, domain.QualificationAwarded, res.Outcome)
	}

	check, err := svc.Quota.CanConsume(ctx, referrer, domain.ResourceProject)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	require.NotNil(t, check.Limit)
	assert.Equal(t, int64(7), *check.Limit)

	sixth := consume(t, svc, referrer, domain.ResourceProject)
	assert.True(t, sixth.Allowed)
	assert.Equal(t, int64(6), sixth.Used)

	seventh := consume(t, svc, referrer, domain.ResourceProject)
	assert.True(t, seventh.Allowed)
	require.NotNil(t, seventh.Remaining)
	assert.Equal(t, int64(0), *seventh.Remaining)

	eighth := consume(t, svc, referrer, domain.ResourceProject)
	assert.False(t, eighth.Allowed)
	assert.Equal(t, domain.ReasonLimitReached, eighth.Reason)

	limits, err := svc.Quota.GetLimits(ctx, referrer)
	require.NoError(t, err)
	assert.Equal(t, int64(7), limits.BaseUsed)
	require.NotNil(t, limits.BaseRemaining)
	assert.Equal(t, int64(0), *limits.BaseRemaining)
	assert.Equal(t, int64(2), limits.BonusGrantedThisMonth)
	assert.Equal(t, int64(2), limits.BonusUsedThisMonth)
	assert.Equal(t, int64(0), limits.BonusRemainingThisMonth)
	require.NotNil(t, limits.EffectiveBaseLimit)
	assert.Equal(t, int64(7), *limits.EffectiveBaseLimit)
}

func TestReferral_ReconcilePending(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	referrer := uuid.New()
	referred := uuid.New()
	register(t, svc, referrer, "RECON001", "")
	register(t, svc, referred, "", "RECON001")

	// Qualified, but the award never ran
	flipped, err := svc.Queries.MarkFirstProjectCreated(ctx, referred)
	require.NoError(t, err)
	require.Equal(t, int64(1), flipped)

	report, err := svc.Referrals.ReconcilePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconcileReport{Checked: 1, Awarded: 1}, report)

	report, err = svc.Referrals.ReconcilePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconcileReport{}, report)

	_, err = svc.Referrals.ReconcilePending(ctx, 0)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

// pendingReferral registers a referrer and a referred user, creates the
// referral row and sets the first-project flag without awarding.
func pendingReferral(t *testing.T, svc *internal.Services, code string) (referrer, referred, referralID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	referrer = uuid.New()
	referred = uuid.New()
	register(t, svc, referrer, code, "")
	register(t, svc, referred, "", code)

	_, err := svc.Queries.MarkFirstProjectCreated(ctx, referred)
	require.NoError(t, err)

	row, err := svc.Queries.GetReferralByReferred(ctx, referred)
	require.NoError(t, err)
	return referrer, referred, row.ID
}

// A referral that can never be awarded must not hold up the ones behind it.
func TestReferral_ReconcileFlagsAnomaliesAndMovesOn(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	orphanReferrer, _, orphan := pendingReferral(t, svc, "GONE0001")
	_, healthyReferred, healthy := pendingReferral(t, svc, "LIVE0001")

	// The orphan is strictly older so it sorts first
	_, err := svc.DB.ExecContext(ctx, "UPDATE referrals SET created_at = ? WHERE id = ?",
		time.Now().Add(-time.Hour).UTC(), orphan)
	require.NoError(t, err)
	_, err = svc.DB.ExecContext(ctx, "DELETE FROM profiles WHERE user_id = ?", orphanReferrer)
	require.NoError(t, err)

	tests := []struct {
		name string
		want domain.ReconcileReport
	}{
		{"orphan is flagged", domain.ReconcileReport{Checked: 1, Flagged: 1}},
		{"healthy is awarded", domain.ReconcileReport{Checked: 1, Awarded: 1}},
		{"nothing left", domain.ReconcileReport{}},
	}
	for _, tt := range tests {
		report, err := svc.Referrals.ReconcilePending(ctx, 1)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, report, tt.name)
	}

	row, err := svc.Queries.GetReferralByReferred(ctx, healthyReferred)
	require.NoError(t, err)
	assert.Equal(t, healthy, row.ID)
	assert.True(t, row.CreditsAwarded)

	flagged, err := svc.Referrals.ListFlagged(ctx, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, orphan, flagged[0].ID)
	assert.Equal(t, domain.ReviewReasonReferrerMissing, flagged[0].ReviewReason)
	require.NotNil(t, flagged[0].FlaggedAt)
	assert.False(t, flagged[0].CreditsAwarded)

	// Requeued, it is checked again and flagged again
	require.NoError(t, svc.Referrals.ClearReview(ctx, orphan))
	report, err := svc.Referrals.ReconcilePending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconcileReport{Checked: 1, Flagged: 1}, report)
}

func TestReferral_ReconcileFlagsInconsistentState(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	_, _, id := pendingReferral(t, svc, "BROKEN01")

	// Approved without credits cannot transition to approved again
	_, err := svc.DB.ExecContext(ctx, "UPDATE referrals SET status = ? WHERE id = ?",
		string(domain.ReferralStatusApproved), id)
	require.NoError(t, err)

	report, err := svc.Referrals.ReconcilePending(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconcileReport{Checked: 1, Flagged: 1}, report)

	report, err = svc.Referrals.ReconcilePending(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconcileReport{}, report)

	flagged, err := svc.Referrals.ListFlagged(ctx, 5)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, domain.ReviewReasonInconsistentState, flagged[0].ReviewReason)
}

func TestReferral_ReviewArguments(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	_, err := svc.Referrals.ListFlagged(ctx, 0)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	// Nothing flagged with this ID
	err = svc.Referrals.ClearReview(ctx, uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	_, _, id := pendingReferral(t, svc, "FINE0001")
	err = svc.Referrals.ClearReview(ctx, id)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
