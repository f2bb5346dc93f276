package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPlan_PlanLimit(t *testing.T) {
	basic := Plan{Code: PlanBasic, BaseQuota: Int64Ptr(5)}
	assert.Equal(t, int64(5), *basic.PlanLimit(0))
	assert.Equal(t, int64(7), *basic.PlanLimit(2))

	enterprise := Plan{Code: PlanEnterprise}
	assert.Nil(t, enterprise.PlanLimit(3))
	assert.True(t, enterprise.IsUnlimited())
}

func TestRemaining(t *testing.T) {
	tests := []struct {
		name  string
		limit *int64
		used  int64
		want  *int64
	}{
		{"unlimited", nil, 1000, nil},
		{"under limit", Int64Ptr(5), 3, Int64Ptr(2)},
		{"at limit", Int64Ptr(5), 5, Int64Ptr(0)},
		{"over limit clamps to zero", Int64Ptr(5), 9, Int64Ptr(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Remaining(tt.limit, tt.used))
		})
	}
}

func TestIsNearLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit *int64
		used  int64
		want  bool
	}{
		{"unlimited", nil, 1_000_000, false},
		{"zero limit", Int64Ptr(0), 0, false},
		{"below 80 percent", Int64Ptr(50), 39, false},
		{"exactly 80 percent", Int64Ptr(50), 40, true},
		{"at limit", Int64Ptr(50), 50, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNearLimit(tt.limit, tt.used))
		})
	}
}

func TestDeny(t *testing.T) {
	d := Deny(ResourceAIMessage, ReasonLimitReached)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLimitReached, d.Reason)
	assert.Equal(t, int64(0), *d.Remaining)

	d = Deny(ResourceProject, ReasonNotAuthenticated)
	assert.False(t, d.Allowed)
	assert.Nil(t, d.Remaining)
}

func TestParsePlanCode(t *testing.T) {
	code, err := ParsePlanCode(" pro ")
	assert.NoError(t, err)
	assert.Equal(t, PlanPro, code)

	_, err = ParsePlanCode("FREE")
	assert.Error(t, err)
}

func TestBonusRemaining(t *testing.T) {
	assert.Equal(t, int64(2), BonusRemaining(2, 0))
	assert.Equal(t, int64(0), BonusRemaining(1, 3))
}

func TestTenantContext(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name          string
		plan          Plan
		consumed      int64
		wantConsumed  int64
		wantRemaining *int64
		wantOverBase  bool
	}{
		{"under base", Plan{Code: PlanBasic, BaseQuota: Int64Ptr(5)}, 3, 3, Int64Ptr(2), false},
		{"at base", Plan{Code: PlanBasic, BaseQuota: Int64Ptr(5)}, 5, 5, Int64Ptr(0), false},
		{"on bonus credits", Plan{Code: PlanBasic, BaseQuota: Int64Ptr(5)}, 6, 6, Int64Ptr(0), true},
		{"negative clamps", Plan{Code: PlanPro, BaseQuota: Int64Ptr(25)}, -2, 0, Int64Ptr(25), false},
		{"unlimited", Plan{Code: PlanEnterprise}, 900, 900, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := NewTenantContext(userID, tt.plan, tt.consumed)
			assert.Equal(t, userID, tc.UserID)
			assert.Equal(t, tt.plan.Code, tc.PlanCode)
			assert.Equal(t, tt.wantConsumed, tc.LifetimeBaseConsumed)
			assert.Equal(t, tt.wantRemaining, tc.BaseRemaining())
			assert.Equal(t, tt.wantOverBase, tc.OverBase())
		})
	}
}
