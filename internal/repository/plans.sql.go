package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const getUserPlan = `
SELECT p.code, p.base_quota, p.ai_message_limit
FROM user_plans up
JOIN plans p ON p.code = up.plan_code
WHERE up.user_id = $1
`

func (q *Queries) GetUserPlan(ctx context.Context, userID uuid.UUID) (Plan, error) {
	row := q.queryRow(ctx, getUserPlan, userID)
	var i Plan
	err := row.Scan(&i.Code, &i.BaseQuota, &i.AiMessageLimit)
	return i, err
}

const getPlan = `
SELECT code, base_quota, ai_message_limit FROM plans WHERE code = $1
`

func (q *Queries) GetPlan(ctx context.Context, code string) (Plan, error) {
	row := q.queryRow(ctx, getPlan, code)
	var i Plan
	err := row.Scan(&i.Code, &i.BaseQuota, &i.AiMessageLimit)
	return i, err
}

const listPlans = `
SELECT code, base_quota, ai_message_limit FROM plans ORDER BY code
`

func (q *Queries) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := q.query(ctx, listPlans)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Plan
	for rows.Next() {
		var i Plan
		if err := rows.Scan(&i.Code, &i.BaseQuota, &i.AiMessageLimit); err != nil {
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

const upsertUserPlan = `
INSERT INTO user_plans (user_id, plan_code, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE
SET plan_code = excluded.plan_code, updated_at = excluded.updated_at
`

type UpsertUserPlanParams struct {
	UserID    uuid.UUID
	PlanCode  string
	UpdatedAt time.Time
}

func (q *Queries) UpsertUserPlan(ctx context.Context, arg UpsertUserPlanParams) error {
	_, err := q.exec(ctx, upsertUserPlan, arg.UserID, arg.PlanCode, arg.UpdatedAt)
	return err
}
