// Package domain contains core business types and interfaces.
//
// This file defines the referral lifecycle. A referral moves from pending to
// approved exactly once, when the referred user completes their first
// qualifying action, and the referrer is granted one monthly bonus credit at
// that moment.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Referral Status
// =============================================================================

// ReferralStatus is the persisted status column.
type ReferralStatus string

const (
	ReferralStatusPending  ReferralStatus = "PENDING"
	ReferralStatusApproved ReferralStatus = "APPROVED"
)

// ReferralState is the lifecycle state derived from the persisted status and
// the credits-awarded flag. Keeping both in one value means "already awarded"
// and "not yet qualified" cannot be confused.
type ReferralState int

const (
	// ReferralStateInvalid marks a row whose columns disagree, e.g. APPROVED
	// without credits, or credits on a PENDING row.
	ReferralStateInvalid ReferralState = iota
	// ReferralStatePending: referred user has not qualified, no credit granted.
	ReferralStatePending
	// ReferralStateAwarded: approved and the referrer's credit has been granted.
	ReferralStateAwarded
)

func (s ReferralState) String() string {
	switch s {
	case ReferralStatePending:
		return "pending"
	case ReferralStateAwarded:
		return "awarded"
	default:
		return "invalid"
	}
}

// ReferralEvent drives the referral state machine.
type ReferralEvent int

const (
	// ReferralEventQualified fires when the referred user completes their
	// first qualifying action and the referrer has been resolved.
	ReferralEventQualified ReferralEvent = iota + 1
)

// ErrReferralAlreadyAwarded is returned when a qualification arrives for a
// referral whose credit was already granted.
var ErrReferralAlreadyAwarded = Conflict("referral.transition", "referral credit already awarded")

// ErrReferralInconsistent is returned when a referral's status and award flag
// disagree. Such a referral needs manual review.
var ErrReferralInconsistent = Conflict("referral.transition", "referral is in an inconsistent state")

// Transition applies ev to s and returns the next state.
func (s ReferralState) Transition(ev ReferralEvent) (ReferralState, error) {
	switch ev {
	case ReferralEventQualified:
		switch s {
		case ReferralStatePending:
			return ReferralStateAwarded, nil
		case ReferralStateAwarded:
			return s, ErrReferralAlreadyAwarded
		case ReferralStateInvalid:
			return s, ErrReferralInconsistent
		}
	}
	return s, Errorf(EINVALID, "referral.transition", "unknown referral event %d in state %s", ev, s)
}

// =============================================================================
// Referral Domain Type
// =============================================================================

// Reasons a referral is flagged for manual review.
const (
	ReviewReasonReferrerMissing   = "referrer_missing"
	ReviewReasonInconsistentState = "inconsistent_state"
)

// Referral links a referrer to a user who signed up with their code.
type Referral struct {
	ID             uuid.UUID
	ReferrerUserID uuid.UUID
	ReferredUserID uuid.UUID
	Status         ReferralStatus
	QualifiedAt    *time.Time
	PeriodKey      string
	CreditsAwarded bool
	CreatedAt      time.Time

	// FlaggedAt is set while the referral waits for manual review.
	FlaggedAt    *time.Time
	ReviewReason string
}

// State derives the lifecycle state from the persisted columns.
func (r *Referral) State() ReferralState {
	switch {
	case r.Status == ReferralStatusPending && !r.CreditsAwarded:
		return ReferralStatePending
	case r.Status == ReferralStatusApproved && r.CreditsAwarded && r.QualifiedAt != nil:
		return ReferralStateAwarded
	default:
		return ReferralStateInvalid
	}
}

// Qualify transitions the referral to approved at qualifiedAt, fixing its
// period key. The referral is unchanged on error.
func (r *Referral) Qualify(qualifiedAt time.Time, periodKey string) error {
	next, err := r.State().Transition(ReferralEventQualified)
	if err != nil {
		return err
	}
	if next != ReferralStateAwarded {
		return fmt.Errorf("referral: unexpected state %s after qualification", next)
	}
	r.Status = ReferralStatusApproved
	r.CreditsAwarded = true
	r.QualifiedAt = &qualifiedAt
	r.PeriodKey = periodKey
	return nil
}

// Profile is the subset of a user profile the referral flow reads and writes.
type Profile struct {
	UserID                 uuid.UUID
	ReferralCode           string
	ReferredBy             string // referrer's code; empty when not referred
	HasCreatedFirstProject bool
}

// =============================================================================
// Results
// =============================================================================

// QualificationOutcome describes what a first-project event did.
type QualificationOutcome string

const (
	// QualificationAwarded: the referrer received a bonus credit.
	QualificationAwarded QualificationOutcome = "awarded"
	// QualificationAlreadyQualified: the flag was already set; nothing changed.
	QualificationAlreadyQualified QualificationOutcome = "already_qualified"
	// QualificationNotReferred: the user signed up without a referral code.
	QualificationNotReferred QualificationOutcome = "not_referred"
	// QualificationAlreadyAwarded: the referral credit was granted earlier.
	QualificationAlreadyAwarded QualificationOutcome = "already_awarded"
	// QualificationReferrerMissing: the referrer could not be resolved. The
	// referral is left unawarded for reconciliation.
	QualificationReferrerMissing QualificationOutcome = "referrer_missing"
)

// QualificationResult is returned by the first-project event handler.
type QualificationResult struct {
	Outcome        QualificationOutcome `json:"outcome"`
	ReferrerUserID *uuid.UUID           `json:"referrerUserId,omitempty"`
	PeriodKey      string               `json:"periodKey,omitempty"`
}

// NormalizationReport summarizes a referral period-key normalization run.
type NormalizationReport struct {
	TotalChecked  int `json:"totalChecked"`
	NeedingUpdate int `json:"needed"`
	Updated       int `json:"updated"`
	Failed        int `json:"failed"`
}

// ReconcileReport summarizes a pending-referral reconciliation run.
type ReconcileReport struct {
	Checked int `json:"checked"`
	Awarded int `json:"awarded"`
	Skipped int `json:"skipped"`
	Flagged int `json:"flagged"`
	Failed  int `json:"failed"`
}
