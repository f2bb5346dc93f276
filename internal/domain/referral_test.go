package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReferral_State(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		referral Referral
		want     ReferralState
	}{
		{"fresh pending", Referral{Status: ReferralStatusPending}, ReferralStatePending},
		{"approved and awarded", Referral{Status: ReferralStatusApproved, CreditsAwarded: true, QualifiedAt: &now}, ReferralStateAwarded},
		{"approved without credits", Referral{Status: ReferralStatusApproved, QualifiedAt: &now}, ReferralStateInvalid},
		{"pending with credits", Referral{Status: ReferralStatusPending, CreditsAwarded: true}, ReferralStateInvalid},
		{"approved without qualified_at", Referral{Status: ReferralStatusApproved, CreditsAwarded: true}, ReferralStateInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.referral.State())
		})
	}
}

func TestReferralState_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    ReferralState
		event   ReferralEvent
		want    ReferralState
		wantErr bool
	}{
		{"pending qualifies", ReferralStatePending, ReferralEventQualified, ReferralStateAwarded, false},
		{"awarded qualifies again", ReferralStateAwarded, ReferralEventQualified, ReferralStateAwarded, true},
		{"invalid qualifies", ReferralStateInvalid, ReferralEventQualified, ReferralStateInvalid, true},
		{"unknown event", ReferralStatePending, ReferralEvent(99), ReferralStatePending, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.Transition(tt.event)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReferral_Qualify(t *testing.T) {
	qualifiedAt := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	r := &Referral{Status: ReferralStatusPending}
	assert.NoError(t, r.Qualify(qualifiedAt, "2025-03"))
	assert.Equal(t, ReferralStatusApproved, r.Status)
	assert.True(t, r.CreditsAwarded)
	assert.Equal(t, "2025-03", r.PeriodKey)
	assert.Equal(t, qualifiedAt, *r.QualifiedAt)

	// Second qualification is rejected and leaves the row untouched
	err := r.Qualify(qualifiedAt.AddDate(0, 1, 0), "2025-04")
	assert.True(t, errors.Is(err, ErrReferralAlreadyAwarded))
	assert.Equal(t, "2025-03", r.PeriodKey)
	assert.Equal(t, qualifiedAt, *r.QualifiedAt)
}
