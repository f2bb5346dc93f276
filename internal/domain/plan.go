// Package domain contains core business types and interfaces.
//
// This file defines subscription plans and the per-tenant accounting context
// derived from them.
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PlanCode identifies a subscription plan.
type PlanCode string

const (
	PlanBasic      PlanCode = "BASIC"
	PlanPro        PlanCode = "PRO"
	PlanEnterprise PlanCode = "ENTERPRISE"
)

// ParsePlanCode normalizes and validates a plan code.
func ParsePlanCode(s string) (PlanCode, error) {
	code := PlanCode(strings.ToUpper(strings.TrimSpace(s)))
	switch code {
	case PlanBasic, PlanPro, PlanEnterprise:
		return code, nil
	}
	return "", fmt.Errorf("unknown plan code %q", s)
}

// DisplayName returns the plan name shown to tenants, e.g. "Enterprise".
func (c PlanCode) DisplayName() string {
	// Casers are stateful and cannot be shared across goroutines.
	return cases.Title(language.English).String(strings.ToLower(string(c)))
}

// Plan is the quota definition attached to a tenant. A nil limit means
// unlimited.
type Plan struct {
	Code           PlanCode
	BaseQuota      *int64 // lifetime project allowance
	AIMessageLimit *int64 // AI messages per billing period
}

// IsUnlimited reports whether the plan's base quota is unbounded.
func (p Plan) IsUnlimited() bool {
	return p.BaseQuota == nil
}

// PlanLimit returns the effective base limit once this period's bonus credits
// are added. Bonus credits raise the limit; they are not a separate balance.
// Returns nil for unlimited plans.
func (p Plan) PlanLimit(bonusCredits int64) *int64 {
	if p.BaseQuota == nil {
		return nil
	}
	limit := *p.BaseQuota + bonusCredits
	return &limit
}

// TenantContext is the derived accounting view of a tenant.
type TenantContext struct {
	UserID               uuid.UUID
	PlanCode             PlanCode
	BaseQuota            *int64
	LifetimeBaseConsumed int64
}

// NewTenantContext builds the view for a tenant on plan whose counted base
// consumption is consumed. Negative totals are clamped to zero.
func NewTenantContext(userID uuid.UUID, plan Plan, consumed int64) TenantContext {
	return TenantContext{
		UserID:               userID,
		PlanCode:             plan.Code,
		BaseQuota:            plan.BaseQuota,
		LifetimeBaseConsumed: max(consumed, 0),
	}
}

// BaseRemaining is what is left of the base quota, ignoring bonus credits.
// Nil when the plan is unlimited.
func (t TenantContext) BaseRemaining() *int64 {
	return Remaining(t.BaseQuota, t.LifetimeBaseConsumed)
}

// OverBase reports whether consumption has gone past the base quota, so
// further creations draw on bonus credits.
func (t TenantContext) OverBase() bool {
	return t.BaseQuota != nil && t.LifetimeBaseConsumed > *t.BaseQuota
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
