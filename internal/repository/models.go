package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Plan struct {
	Code           string
	BaseQuota      sql.NullInt64
	AiMessageLimit sql.NullInt64
}

type Profile struct {
	UserID                 uuid.UUID
	ReferralCode           string
	ReferredBy             sql.NullString
	HasCreatedFirstProject bool
	CreatedAt              time.Time
}

type Referral struct {
	ID             uuid.UUID
	ReferrerUserID uuid.UUID
	ReferredUserID uuid.UUID
	Status         string
	QualifiedAt    sql.NullTime
	PeriodKey      sql.NullString
	CreditsAwarded bool
	CreatedAt      time.Time
	ReviewReason   sql.NullString
	FlaggedAt      sql.NullTime
}

type CreditLedger struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	EntryType  string
	EntryKind  string
	PeriodKey  string
	ReferralID uuid.NullUUID
	Metadata   pqtype.NullRawMessage
	CreatedAt  time.Time
}

type LedgerCorrection struct {
	ID           int64
	EntryID      uuid.UUID
	OldPeriodKey string
	NewPeriodKey string
	CorrectedAt  time.Time
}

type UsageEvent struct {
	IdempotencyKey string
	UserID         uuid.UUID
	Resource       string
	PeriodKey      string
	CountAfter     int64
	CreatedAt      time.Time
}
