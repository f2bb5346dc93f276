package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const incrementUsage = `
INSERT INTO usage_counters (user_id, resource, period_key, count, updated_at)
VALUES ($1, $2, $3, 1, $4)
ON CONFLICT (user_id, resource, period_key) DO UPDATE
SET count = usage_counters.count + 1, updated_at = excluded.updated_at
RETURNING count
`

type IncrementUsageParams struct {
	UserID    uuid.UUID
	Resource  string
	PeriodKey string
	UpdatedAt time.Time
}

// IncrementUsage atomically adds one to the counter, creating it at 1, and
// returns the post-increment count.
func (q *Queries) IncrementUsage(ctx context.Context, arg IncrementUsageParams) (int64, error) {
	row := q.queryRow(ctx, incrementUsage, arg.UserID, arg.Resource, arg.PeriodKey, arg.UpdatedAt)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const incrementUsageBounded = `
INSERT INTO usage_counters (user_id, resource, period_key, count, updated_at)
VALUES ($1, $2, $3, 1, $4)
ON CONFLICT (user_id, resource, period_key) DO UPDATE
SET count = usage_counters.count + 1, updated_at = excluded.updated_at
WHERE usage_counters.count < $5
RETURNING count
`

type IncrementUsageBoundedParams struct {
	UserID    uuid.UUID
	Resource  string
	PeriodKey string
	UpdatedAt time.Time
	Limit     int64
}

// IncrementUsageBounded atomically adds one to the counter only while it is
// below Limit. It returns sql.ErrNoRows when the counter is already at or
// above Limit. Limit must be at least 1.
func (q *Queries) IncrementUsageBounded(ctx context.Context, arg IncrementUsageBoundedParams) (int64, error) {
	row := q.queryRow(ctx, incrementUsageBounded,
		arg.UserID, arg.Resource, arg.PeriodKey, arg.UpdatedAt, arg.Limit)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const getUsageCount = `
SELECT COALESCE(MAX(count), 0)
FROM usage_counters
WHERE user_id = $1 AND resource = $2 AND period_key = $3
`

type GetUsageCountParams struct {
	UserID    uuid.UUID
	Resource  string
	PeriodKey string
}

func (q *Queries) GetUsageCount(ctx context.Context, arg GetUsageCountParams) (int64, error) {
	row := q.queryRow(ctx, getUsageCount, arg.UserID, arg.Resource, arg.PeriodKey)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const getUsageEvent = `
SELECT idempotency_key, user_id, resource, period_key, count_after, created_at
FROM usage_events
WHERE user_id = $1 AND idempotency_key = $2
`

// GetUsageEvent returns the event a tenant recorded under idempotencyKey.
func (q *Queries) GetUsageEvent(ctx context.Context, userID uuid.UUID, idempotencyKey string) (UsageEvent, error) {
	row := q.queryRow(ctx, getUsageEvent, userID, idempotencyKey)
	var i UsageEvent
	err := row.Scan(
		&i.IdempotencyKey,
		&i.UserID,
		&i.Resource,
		&i.PeriodKey,
		&i.CountAfter,
		&i.CreatedAt,
	)
	return i, err
}

const createUsageEvent = `
INSERT INTO usage_events (idempotency_key, user_id, resource, period_key, count_after, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

type CreateUsageEventParams struct {
	IdempotencyKey string
	UserID         uuid.UUID
	Resource       string
	PeriodKey      string
	CountAfter     int64
	CreatedAt      time.Time
}

func (q *Queries) CreateUsageEvent(ctx context.Context, arg CreateUsageEventParams) error {
	_, err := q.exec(ctx, createUsageEvent,
		arg.IdempotencyKey,
		arg.UserID,
		arg.Resource,
		arg.PeriodKey,
		arg.CountAfter,
		arg.CreatedAt,
	)
	return err
}
