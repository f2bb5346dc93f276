// Package domain contains core business types and interfaces.
//
// This file defines the quota decision types returned to every consuming
// action, and the aggregate limits view shown to tenants.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ResourceKind identifies a usage-consuming action.
type ResourceKind string

const (
	// ResourceProject is gated by the plan's lifetime base quota plus this
	// period's bonus credits.
	ResourceProject ResourceKind = "project"
	// ResourceAIMessage is metered per billing period by plan tier.
	ResourceAIMessage ResourceKind = "ai_message"
)

// ParseResourceKind validates a resource kind from a request path.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch ResourceKind(s) {
	case ResourceProject, ResourceAIMessage:
		return ResourceKind(s), nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// LifetimePeriod is the period key under which lifetime counters are stored.
const LifetimePeriod = "lifetime"

// DenialReason explains why a consumption was refused. These are the only two
// denial kinds; anything else is a fault and surfaces as an error.
type DenialReason string

const (
	ReasonNotAuthenticated DenialReason = "not_authenticated"
	ReasonLimitReached     DenialReason = "limit_reached"
)

// NearLimitThreshold is the usage fraction at which a response is flagged as
// near its limit.
const NearLimitThreshold = 0.8

// ConsumeRequest asks the quota gate to admit and record one unit of usage.
type ConsumeRequest struct {
	UserID uuid.UUID
	Kind   ResourceKind
	// IdempotencyKey is optional. A retried request carrying the same key
	// returns the original outcome without consuming again.
	IdempotencyKey string
}

// Decision is the structured outcome of a quota check. Denials are data,
// not errors.
type Decision struct {
	Allowed   bool         `json:"allowed"`
	Reason    DenialReason `json:"reason,omitempty"`
	Kind      ResourceKind `json:"kind"`
	PeriodKey string       `json:"periodKey,omitempty"`
	Used      int64        `json:"used"`
	Limit     *int64       `json:"limit"`     // nil = unlimited
	Remaining *int64       `json:"remaining"` // nil = unlimited
	NearLimit bool         `json:"nearLimit"`
	Replayed  bool         `json:"replayed,omitempty"`
}

// Deny builds a denial decision.
func Deny(kind ResourceKind, reason DenialReason) Decision {
	d := Decision{Kind: kind, Reason: reason}
	if reason == ReasonLimitReached {
		d.Remaining = Int64Ptr(0)
	}
	return d
}

// Allow builds an allowed decision from the authoritative post-increment count.
func Allow(kind ResourceKind, periodKey string, used int64, limit *int64) Decision {
	return Decision{
		Allowed:   true,
		Kind:      kind,
		PeriodKey: periodKey,
		Used:      used,
		Limit:     limit,
		Remaining: Remaining(limit, used),
		NearLimit: IsNearLimit(limit, used),
	}
}

// Remaining returns max(limit-used, 0), or nil when unlimited.
func Remaining(limit *int64, used int64) *int64 {
	if limit == nil {
		return nil
	}
	r := *limit - used
	if r < 0 {
		r = 0
	}
	return &r
}

// IsNearLimit reports whether used has reached NearLimitThreshold of limit.
func IsNearLimit(limit *int64, used int64) bool {
	return IsNearLimitAt(limit, used, NearLimitThreshold)
}

// IsNearLimitAt reports whether used has reached threshold (0..1] of limit.
// Unlimited and zero limits are never near.
func IsNearLimitAt(limit *int64, used int64, threshold float64) bool {
	if limit == nil || *limit <= 0 {
		return false
	}
	return float64(used) >= threshold*float64(*limit)
}

// Limits is the read-only aggregate shown to tenants. It is computed on
// demand and never persisted.
type Limits struct {
	PlanCode  PlanCode `json:"planCode"`
	PlanName  string   `json:"planName"`
	PeriodKey string   `json:"periodKey"`

	BaseQuota     *int64 `json:"baseQuota"`
	BaseUsed      int64  `json:"baseUsed"`
	BaseRemaining *int64 `json:"baseRemaining"`

	BonusGrantedThisMonth   int64 `json:"bonusGrantedThisMonth"`
	BonusUsedThisMonth      int64 `json:"bonusUsedThisMonth"`
	BonusRemainingThisMonth int64 `json:"bonusRemainingThisMonth"`

	// EffectiveBaseLimit is BaseQuota plus this period's bonus credits.
	EffectiveBaseLimit *int64 `json:"effectiveBaseLimit"`

	AIMessageLimit      *int64 `json:"aiMessageLimit"`
	AIMessagesUsed      int64  `json:"aiMessagesUsed"`
	AIMessagesRemaining *int64 `json:"aiMessagesRemaining"`
}

// BonusRemaining returns max(granted-used, 0).
func BonusRemaining(granted, used int64) int64 {
	if granted-used < 0 {
		return 0
	}
	return granted - used
}
