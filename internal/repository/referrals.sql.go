package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Profiles
// =============================================================================

const getProfile = `
SELECT user_id, referral_code, referred_by, has_created_first_project, created_at
FROM profiles
WHERE user_id = $1
`

func (q *Queries) GetProfile(ctx context.Context, userID uuid.UUID) (Profile, error) {
	row := q.queryRow(ctx, getProfile, userID)
	return scanProfile(row)
}

const getProfileByReferralCode = `
SELECT user_id, referral_code, referred_by, has_created_first_project, created_at
FROM profiles
WHERE referral_code = $1
`

func (q *Queries) GetProfileByReferralCode(ctx context.Context, code string) (Profile, error) {
	row := q.queryRow(ctx, getProfileByReferralCode, code)
	return scanProfile(row)
}

const createProfile = `
INSERT INTO profiles (user_id, referral_code, referred_by, has_created_first_project, created_at)
VALUES ($1, $2, $3, FALSE, $4)
`

type CreateProfileParams struct {
	UserID       uuid.UUID
	ReferralCode string
	ReferredBy   sql.NullString
	CreatedAt    time.Time
}

func (q *Queries) CreateProfile(ctx context.Context, arg CreateProfileParams) error {
	_, err := q.exec(ctx, createProfile, arg.UserID, arg.ReferralCode, arg.ReferredBy, arg.CreatedAt)
	return err
}

const markFirstProjectCreated = `
UPDATE profiles
SET has_created_first_project = TRUE
WHERE user_id = $1 AND has_created_first_project = FALSE
`

// MarkFirstProjectCreated flips the one-way first-project flag. Returns 0 when
// the flag was already set or the profile does not exist.
func (q *Queries) MarkFirstProjectCreated(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := q.exec(ctx, markFirstProjectCreated, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanProfile(row rowScanner) (Profile, error) {
	var i Profile
	err := row.Scan(
		&i.UserID,
		&i.ReferralCode,
		&i.ReferredBy,
		&i.HasCreatedFirstProject,
		&i.CreatedAt,
	)
	return i, err
}

// =============================================================================
// Referrals
// =============================================================================

const referralColumns = `id, referrer_user_id, referred_user_id, status, qualified_at, period_key, credits_awarded, created_at, review_reason, flagged_at`

const getReferral = `
SELECT ` + referralColumns + `
FROM referrals
WHERE id = $1
`

func (q *Queries) GetReferral(ctx context.Context, id uuid.UUID) (Referral, error) {
	row := q.queryRow(ctx, getReferral, id)
	return scanReferral(row)
}

const getReferralByReferred = `
SELECT ` + referralColumns + `
FROM referrals
WHERE referred_user_id = $1
`

func (q *Queries) GetReferralByReferred(ctx context.Context, referredUserID uuid.UUID) (Referral, error) {
	row := q.queryRow(ctx, getReferralByReferred, referredUserID)
	return scanReferral(row)
}

const createReferral = `
INSERT INTO referrals (id, referrer_user_id, referred_user_id, status, credits_awarded, created_at)
VALUES ($1, $2, $3, 'PENDING', FALSE, $4)
ON CONFLICT (referred_user_id) DO NOTHING
`

type CreateReferralParams struct {
	ID             uuid.UUID
	ReferrerUserID uuid.UUID
	ReferredUserID uuid.UUID
	CreatedAt      time.Time
}

// CreateReferral inserts a pending referral. A user can be referred once;
// returns 0 when a referral for ReferredUserID already exists.
func (q *Queries) CreateReferral(ctx context.Context, arg CreateReferralParams) (int64, error) {
	result, err := q.exec(ctx, createReferral, arg.ID, arg.ReferrerUserID, arg.ReferredUserID, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const approveReferral = `
UPDATE referrals
SET status = 'APPROVED', credits_awarded = TRUE, qualified_at = $1, period_key = $2
WHERE id = $3 AND credits_awarded = FALSE
`

type ApproveReferralParams struct {
	QualifiedAt time.Time
	PeriodKey   string
	ID          uuid.UUID
}

// ApproveReferral performs the false->true credits_awarded transition.
// Returns 0 when the referral was already awarded.
func (q *Queries) ApproveReferral(ctx context.Context, arg ApproveReferralParams) (int64, error) {
	result, err := q.exec(ctx, approveReferral, arg.QualifiedAt, arg.PeriodKey, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countApprovedReferrals = `
SELECT COUNT(*)
FROM referrals
WHERE referrer_user_id = $1 AND status = 'APPROVED' AND period_key = $2
`

func (q *Queries) CountApprovedReferrals(ctx context.Context, referrerUserID uuid.UUID, periodKey string) (int64, error) {
	row := q.queryRow(ctx, countApprovedReferrals, referrerUserID, periodKey)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const listApprovedReferralsSince = `
SELECT ` + referralColumns + `
FROM referrals
WHERE status = 'APPROVED' AND qualified_at >= $1
ORDER BY qualified_at, id
`

func (q *Queries) ListApprovedReferralsSince(ctx context.Context, since time.Time) ([]Referral, error) {
	rows, err := q.query(ctx, listApprovedReferralsSince, since)
	if err != nil {
		return nil, err
	}
	return collectReferrals(rows)
}

const listQualifiedUnawardedReferrals = `
SELECT r.id, r.referrer_user_id, r.referred_user_id, r.status, r.qualified_at, r.period_key, r.credits_awarded, r.created_at, r.review_reason, r.flagged_at
FROM referrals r
JOIN profiles p ON p.user_id = r.referred_user_id
WHERE p.has_created_first_project = TRUE AND r.credits_awarded = FALSE AND r.flagged_at IS NULL
ORDER BY r.created_at, r.id
LIMIT $1
`

// ListQualifiedUnawardedReferrals returns referrals whose referred user has
// qualified but whose credit was never granted. Referrals flagged for review
// are left out until an operator clears them.
func (q *Queries) ListQualifiedUnawardedReferrals(ctx context.Context, limit int32) ([]Referral, error) {
	rows, err := q.query(ctx, listQualifiedUnawardedReferrals, limit)
	if err != nil {
		return nil, err
	}
	return collectReferrals(rows)
}

const updateReferralPeriodKey = `
UPDATE referrals
SET period_key = $1
WHERE id = $2 AND (period_key IS NULL OR period_key <> $3)
`

// UpdateReferralPeriodKey sets the referral's period key if it still differs.
func (q *Queries) UpdateReferralPeriodKey(ctx context.Context, id uuid.UUID, periodKey string) (int64, error) {
	result, err := q.exec(ctx, updateReferralPeriodKey, periodKey, id, periodKey)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const flagReferralForReview = `
UPDATE referrals
SET review_reason = $1, flagged_at = $2
WHERE id = $3 AND flagged_at IS NULL AND credits_awarded = FALSE
`

type FlagReferralForReviewParams struct {
	Reason    string
	FlaggedAt time.Time
	ID        uuid.UUID
}

// FlagReferralForReview parks an unawarded referral until an operator clears
// it. Returns 0 when it was already flagged or has been awarded.
func (q *Queries) FlagReferralForReview(ctx context.Context, arg FlagReferralForReviewParams) (int64, error) {
	result, err := q.exec(ctx, flagReferralForReview, arg.Reason, arg.FlaggedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const clearReferralReview = `
UPDATE referrals
SET review_reason = NULL, flagged_at = NULL
WHERE id = $1 AND flagged_at IS NOT NULL
`

// ClearReferralReview returns a flagged referral to reconciliation.
func (q *Queries) ClearReferralReview(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.exec(ctx, clearReferralReview, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listFlaggedReferrals = `
SELECT ` + referralColumns + `
FROM referrals
WHERE flagged_at IS NOT NULL
ORDER BY flagged_at, id
LIMIT $1
`

func (q *Queries) ListFlaggedReferrals(ctx context.Context, limit int32) ([]Referral, error) {
	rows, err := q.query(ctx, listFlaggedReferrals, limit)
	if err != nil {
		return nil, err
	}
	return collectReferrals(rows)
}

func scanReferral(row rowScanner) (Referral, error) {
	var i Referral
	err := row.Scan(
		&i.ID,
		&i.ReferrerUserID,
		&i.ReferredUserID,
		&i.Status,
		&i.QualifiedAt,
		&i.PeriodKey,
		&i.CreditsAwarded,
		&i.CreatedAt,
		&i.ReviewReason,
		&i.FlaggedAt,
	)
	return i, err
}

func collectReferrals(rows *sql.Rows) ([]Referral, error) {
	defer rows.Close()
	var items []Referral
	for rows.Next() {
		i, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
