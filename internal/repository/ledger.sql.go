package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const insertLedgerEntry = `
INSERT INTO credit_ledger (id, user_id, entry_type, entry_kind, period_key, referral_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

type InsertLedgerEntryParams struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	EntryType  string
	EntryKind  string
	PeriodKey  string
	ReferralID uuid.NullUUID
	Metadata   pqtype.NullRawMessage
	CreatedAt  time.Time
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) error {
	_, err := q.exec(ctx, insertLedgerEntry,
		arg.ID,
		arg.UserID,
		arg.EntryType,
		arg.EntryKind,
		arg.PeriodKey,
		arg.ReferralID,
		arg.Metadata,
		arg.CreatedAt,
	)
	return err
}

const countLedgerEntries = `
SELECT COUNT(*)
FROM credit_ledger
WHERE user_id = $1 AND entry_type = $2 AND entry_kind = $3 AND period_key = $4
`

type CountLedgerEntriesParams struct {
	UserID    uuid.UUID
	EntryType string
	EntryKind string
	PeriodKey string
}

func (q *Queries) CountLedgerEntries(ctx context.Context, arg CountLedgerEntriesParams) (int64, error) {
	row := q.queryRow(ctx, countLedgerEntries, arg.UserID, arg.EntryType, arg.EntryKind, arg.PeriodKey)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countLedgerEntriesAllPeriods = `
SELECT COUNT(*)
FROM credit_ledger
WHERE user_id = $1 AND entry_type = $2 AND entry_kind = $3
`

type CountLedgerEntriesAllPeriodsParams struct {
	UserID    uuid.UUID
	EntryType string
	EntryKind string
}

func (q *Queries) CountLedgerEntriesAllPeriods(ctx context.Context, arg CountLedgerEntriesAllPeriodsParams) (int64, error) {
	row := q.queryRow(ctx, countLedgerEntriesAllPeriods, arg.UserID, arg.EntryType, arg.EntryKind)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const getLedgerEntry = `
SELECT id, user_id, entry_type, entry_kind, period_key, referral_id, metadata, created_at
FROM credit_ledger
WHERE id = $1
`

func (q *Queries) GetLedgerEntry(ctx context.Context, id uuid.UUID) (CreditLedger, error) {
	row := q.queryRow(ctx, getLedgerEntry, id)
	return scanLedger(row)
}

const getGrantByReferral = `
SELECT id, user_id, entry_type, entry_kind, period_key, referral_id, metadata, created_at
FROM credit_ledger
WHERE referral_id = $1 AND entry_kind = 'grant'
`

func (q *Queries) GetGrantByReferral(ctx context.Context, referralID uuid.UUID) (CreditLedger, error) {
	row := q.queryRow(ctx, getGrantByReferral, referralID)
	return scanLedger(row)
}

const updateLedgerPeriodKey = `
UPDATE credit_ledger
SET period_key = $1
WHERE id = $2 AND period_key <> $3
`

// UpdateLedgerPeriodKey rewrites an entry's period key when it differs from
// periodKey. Returns the number of rows changed.
func (q *Queries) UpdateLedgerPeriodKey(ctx context.Context, id uuid.UUID, periodKey string) (int64, error) {
	result, err := q.exec(ctx, updateLedgerPeriodKey, periodKey, id, periodKey)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const insertLedgerCorrection = `
INSERT INTO ledger_corrections (entry_id, old_period_key, new_period_key, corrected_at)
VALUES ($1, $2, $3, $4)
`

type InsertLedgerCorrectionParams struct {
	EntryID      uuid.UUID
	OldPeriodKey string
	NewPeriodKey string
	CorrectedAt  time.Time
}

func (q *Queries) InsertLedgerCorrection(ctx context.Context, arg InsertLedgerCorrectionParams) error {
	_, err := q.exec(ctx, insertLedgerCorrection, arg.EntryID, arg.OldPeriodKey, arg.NewPeriodKey, arg.CorrectedAt)
	return err
}

const listLedgerCorrections = `
SELECT id, entry_id, old_period_key, new_period_key, corrected_at
FROM ledger_corrections
WHERE entry_id = $1
ORDER BY id
`

func (q *Queries) ListLedgerCorrections(ctx context.Context, entryID uuid.UUID) ([]LedgerCorrection, error) {
	rows, err := q.query(ctx, listLedgerCorrections, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LedgerCorrection
	for rows.Next() {
		var i LedgerCorrection
		if err := rows.Scan(&i.ID, &i.EntryID, &i.OldPeriodKey, &i.NewPeriodKey, &i.CorrectedAt); err != nil {
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLedger(row rowScanner) (CreditLedger, error) {
	var i CreditLedger
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.EntryType,
		&i.EntryKind,
		&i.PeriodKey,
		&i.ReferralID,
		&i.Metadata,
		&i.CreatedAt,
	)
	return i, err
}
