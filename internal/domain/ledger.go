package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntryType classifies credit ledger rows.
type LedgerEntryType string

const (
	// LedgerBase rows count toward lifetime base consumption.
	LedgerBase LedgerEntryType = "BASE"
	// LedgerBonusMonthly rows are referral bonus credits scoped to one period.
	LedgerBonusMonthly LedgerEntryType = "BONUS_MONTHLY"
)

// LedgerEntryKind distinguishes grants from consumption records.
type LedgerEntryKind string

const (
	LedgerGrant   LedgerEntryKind = "grant"
	LedgerConsume LedgerEntryKind = "consume"
)

// LedgerEntry is one append-only credit ledger row. Only PeriodKey may change
// after insert, and only through the normalization correction path.
type LedgerEntry struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Type       LedgerEntryType
	Kind       LedgerEntryKind
	PeriodKey  string
	ReferralID *uuid.UUID
	CreatedAt  time.Time
}
