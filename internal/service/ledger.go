package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/period"
	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// =============================================================================
// Interface Definition
// =============================================================================

// CreditLedger appends and counts credit ledger entries.
//
// Every method runs against the Queries it is handed so that ledger writes
// join the caller's transaction. Entries are never deleted; the period key is
// the only column that may change after insert, through CorrectPeriodKey.
type CreditLedger interface {
	// GrantBonus appends one BONUS_MONTHLY grant for a qualified referral.
	// The caller guards against double grants with the referral's
	// credits_awarded flag in the same transaction.
	GrantBonus(ctx context.Context, q *repository.Queries, params GrantBonusParams) (domain.LedgerEntry, error)

	// RecordBonusConsumption appends an informational BONUS_MONTHLY consume
	// entry for a project created above the base quota.
	RecordBonusConsumption(ctx context.Context, q *repository.Queries, userID uuid.UUID, periodKey string, at time.Time) error

	// RecordBaseAdjustment appends an administrative BASE consume entry,
	// counted toward lifetime base consumption.
	RecordBaseAdjustment(ctx context.Context, q *repository.Queries, params BaseAdjustmentParams) (domain.LedgerEntry, error)

	// CountByType counts entries of one type and kind in a period.
	CountByType(ctx context.Context, q *repository.Queries, userID uuid.UUID, entryType domain.LedgerEntryType, kind domain.LedgerEntryKind, periodKey string) (int64, error)

	// CountBaseConsumed counts BASE consume entries across all periods.
	CountBaseConsumed(ctx context.Context, q *repository.Queries, userID uuid.UUID) (int64, error)

	// CorrectPeriodKey moves an entry to newPeriodKey and records the change
	// in ledger_corrections. Returns false when the entry already had it.
	CorrectPeriodKey(ctx context.Context, q *repository.Queries, entryID uuid.UUID, newPeriodKey string) (bool, error)
}

// GrantBonusParams contains parameters for a referral bonus grant.
type GrantBonusParams struct {
	UserID     uuid.UUID
	PeriodKey  string
	ReferralID uuid.UUID
	At         time.Time
}

// BaseAdjustmentParams contains parameters for an administrative BASE entry.
type BaseAdjustmentParams struct {
	UserID uuid.UUID
	Reason string
	Actor  string
	At     time.Time
}

// =============================================================================
// Implementation
// =============================================================================

type creditLedger struct {
	periods *period.Calculator
	logger  *slog.Logger
}

// NewCreditLedger creates a new CreditLedger.
func NewCreditLedger(periods *period.Calculator, logger *slog.Logger) CreditLedger {
	return &creditLedger{
		periods: periods,
		logger:  logger,
	}
}

// GrantBonus appends one BONUS_MONTHLY grant.
func (s *creditLedger) GrantBonus(ctx context.Context, q *repository.Queries, params GrantBonusParams) (domain.LedgerEntry, error) {
	const op = "ledger.grant_bonus"

	if params.ReferralID == uuid.Nil {
		return domain.LedgerEntry{}, domain.Invalid(op, "referral ID is required for a bonus grant")
	}
	if _, err := s.periods.Parse(params.PeriodKey); err != nil {
		return domain.LedgerEntry{}, err
	}

	entry := domain.LedgerEntry{
		ID:         uuid.New(),
		UserID:     params.UserID,
		Type:       domain.LedgerBonusMonthly,
		Kind:       domain.LedgerGrant,
		PeriodKey:  params.PeriodKey,
		ReferralID: &params.ReferralID,
		CreatedAt:  params.At.UTC(),
	}

	err := q.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		ID:         entry.ID,
		UserID:     entry.UserID,
		EntryType:  string(entry.Type),
		EntryKind:  string(entry.Kind),
		PeriodKey:  entry.PeriodKey,
		ReferralID: uuid.NullUUID{UUID: params.ReferralID, Valid: true},
		CreatedAt:  entry.CreatedAt,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return domain.LedgerEntry{}, domain.Conflict(op, "referral already has a bonus grant")
		}
		return domain.LedgerEntry{}, storageError(err, op, "failed to insert bonus grant")
	}

	return entry, nil
}

// RecordBonusConsumption appends a BONUS_MONTHLY consume entry.
func (s *creditLedger) RecordBonusConsumption(ctx context.Context, q *repository.Queries, userID uuid.UUID, periodKey string, at time.Time) error {
	const op = "ledger.record_bonus_consumption"

	err := q.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		ID:        uuid.New(),
		UserID:    userID,
		EntryType: string(domain.LedgerBonusMonthly),
		EntryKind: string(domain.LedgerConsume),
		PeriodKey: periodKey,
		CreatedAt: at.UTC(),
	})
	if err != nil {
		return storageError(err, op, "failed to record bonus consumption")
	}
	return nil
}

// RecordBaseAdjustment appends an administrative BASE consume entry.
func (s *creditLedger) RecordBaseAdjustment(ctx context.Context, q *repository.Queries, params BaseAdjustmentParams) (domain.LedgerEntry, error) {
	const op = "ledger.record_base_adjustment"

	if params.UserID == uuid.Nil {
		return domain.LedgerEntry{}, domain.Invalid(op, "user ID is required")
	}
	if params.Reason == "" {
		return domain.LedgerEntry{}, domain.Invalid(op, "a reason is required for base adjustments")
	}
	if params.At.IsZero() {
		params.At = time.Now()
	}

	metadata, err := json.Marshal(map[string]string{
		"reason": params.Reason,
		"actor":  params.Actor,
	})
	if err != nil {
		return domain.LedgerEntry{}, domain.Internal(err, op, "failed to encode metadata")
	}

	entry := domain.LedgerEntry{
		ID:        uuid.New(),
		UserID:    params.UserID,
		Type:      domain.LedgerBase,
		Kind:      domain.LedgerConsume,
		PeriodKey: s.periods.Key(params.At),
		CreatedAt: params.At.UTC(),
	}

	err = q.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		ID:        entry.ID,
		UserID:    entry.UserID,
		EntryType: string(entry.Type),
		EntryKind: string(entry.Kind),
		PeriodKey: entry.PeriodKey,
		Metadata:  pqtype.NullRawMessage{RawMessage: metadata, Valid: true},
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		return domain.LedgerEntry{}, storageError(err, op, "failed to insert base adjustment")
	}

	s.logger.Info("base adjustment recorded",
		"user_id", params.UserID,
		"entry_id", entry.ID,
		"reason", params.Reason,
		"actor", params.Actor,
	)
	return entry, nil
}

// CountByType counts entries of one type and kind in a period.
func (s *creditLedger) CountByType(ctx context.Context, q *repository.Queries, userID uuid.UUID, entryType domain.LedgerEntryType, kind domain.LedgerEntryKind, periodKey string) (int64, error) {
	const op = "ledger.count_by_type"

	count, err := q.CountLedgerEntries(ctx, repository.CountLedgerEntriesParams{
		UserID:    userID,
		EntryType: string(entryType),
		EntryKind: string(kind),
		PeriodKey: periodKey,
	})
	if err != nil {
		return 0, storageError(err, op, "failed to count ledger entries")
	}
	return count, nil
}

// CountBaseConsumed counts BASE consume entries across all periods.
func (s *creditLedger) CountBaseConsumed(ctx context.Context, q *repository.Queries, userID uuid.UUID) (int64, error) {
	const op = "ledger.count_base_consumed"

	count, err := q.CountLedgerEntriesAllPeriods(ctx, repository.CountLedgerEntriesAllPeriodsParams{
		UserID:    userID,
		EntryType: string(domain.LedgerBase),
		EntryKind: string(domain.LedgerConsume),
	})
	if err != nil {
		return 0, storageError(err, op, "failed to count base consumption")
	}
	return count, nil
}

// CorrectPeriodKey moves an entry to newPeriodKey with an audit row.
func (s *creditLedger) CorrectPeriodKey(ctx context.Context, q *repository.Queries, entryID uuid.UUID, newPeriodKey string) (bool, error) {
	const op = "ledger.correct_period_key"

	if _, err := s.periods.Parse(newPeriodKey); err != nil {
		return false, err
	}

	entry, err := q.GetLedgerEntry(ctx, entryID)
	if err != nil {
		if repository.IsNoRows(err) {
			return false, domain.NotFound(op, "ledger entry", entryID.String())
		}
		return false, storageError(err, op, "failed to read ledger entry")
	}
	if entry.PeriodKey == newPeriodKey {
		return false, nil
	}

	changed, err := q.UpdateLedgerPeriodKey(ctx, entryID, newPeriodKey)
	if err != nil {
		return false, storageError(err, op, "failed to update ledger period key")
	}
	if changed == 0 {
		// A concurrent run corrected it first.
		return false, nil
	}

	err = q.InsertLedgerCorrection(ctx, repository.InsertLedgerCorrectionParams{
		EntryID:      entryID,
		OldPeriodKey: entry.PeriodKey,
		NewPeriodKey: newPeriodKey,
		CorrectedAt:  time.Now().UTC(),
	})
	if err != nil {
		return false, storageError(err, op, "failed to record ledger correction")
	}

	s.logger.Info("ledger period key corrected",
		"entry_id", entryID,
		"user_id", entry.UserID,
		"old_period_key", entry.PeriodKey,
		"new_period_key", newPeriodKey,
	)
	return true, nil
}
