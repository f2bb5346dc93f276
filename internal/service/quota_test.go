package service_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/DukeRupert/draftline/internal/service"
)

func TestQuota_MissingPlanIsConfigFault(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.Quota.CheckAndConsume(ctx, domain.ConsumeRequest{UserID: userID, Kind: domain.ResourceProject})
	require.Error(t, err)
	assert.Equal(t, domain.ECONFIG, domain.ErrorCode(err))

	_, err = svc.Quota.GetLimits(ctx, userID)
	assert.Equal(t, domain.ECONFIG, domain.ErrorCode(err))

	_, err = svc.Quota.CanConsume(ctx, userID, domain.ResourceAIMessage)
	assert.Equal(t, domain.ECONFIG, domain.ErrorCode(err))
}

func TestQuota_NotAuthenticated(t *testing.T) {
	svc := newTestServices(t)

	d := consume(t, svc, uuid.Nil, domain.ResourceProject)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonNotAuthenticated, d.Reason)

	d, err := svc.Quota.CanConsume(context.Background(), uuid.Nil, domain.ResourceAIMessage)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNotAuthenticated, d.Reason)

	_, err = svc.Quota.GetLimits(context.Background(), uuid.Nil)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}

func TestQuota_ProjectBaseQuotaIsMonotonic(t *testing.T) {
	svc := newTestServices(t)
	userID := newTenant(t, svc, domain.PlanBasic)

	var last int64
	for i := 1; i <= 5; i++ {
		d := consume(t, svc, userID, domain.ResourceProject)
		require.True(t, d.Allowed, "project %d should be allowed", i)
		assert.Equal(t, int64(i), d.Used)
		assert.Greater(t, d.Used, last)
		last = d.Used
		require.NotNil(t, d.Remaining)
		assert.Equal(t, int64(5-i), *d.Remaining)
	}

	d := consume(t, svc, userID, domain.ResourceProject)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonLimitReached, d.Reason)
	assert.Equal(t, int64(5), d.Used)
	require.NotNil(t, d.Remaining)
	assert.Equal(t, int64(0), *d.Remaining)

	limits, err := svc.Quota.GetLimits(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), limits.BaseUsed)
	assert.Equal(t, "Basic", limits.PlanName)
}

func TestQuota_ConcurrentConsumersNeverExceedLimit(t *testing.T) {
	svc := newTestServices(t)
	userID := newTenant(t, svc, domain.PlanBasic)

	const goroutines = 20
	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
		failed  atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.Quota.CheckAndConsume(context.Background(), domain.ConsumeRequest{UserID: userID, Kind: domain.ResourceProject})
			if err != nil {
				failed.Add(1)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), failed.Load())
	assert.Equal(t, int32(5), allowed.Load())

	limits, err := svc.Quota.GetLimits(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), limits.BaseUsed)
}

func TestQuota_UnlimitedPlan(t *testing.T) {
	svc := newTestServices(t)
	userID := newTenant(t, svc, domain.PlanEnterprise)

	for i := 0; i < 30; i++ {
		d := consume(t, svc, userID, domain.ResourceProject)
		require.True(t, d.Allowed)
		assert.Nil(t, d.Limit)
		assert.Nil(t, d.Remaining)
		assert.False(t, d.NearLimit)
	}

	d := consume(t, svc, userID, domain.ResourceAIMessage)
	assert.True(t, d.Allowed)
	assert.Nil(t, d.Limit)

	limits, err := svc.Quota.GetLimits(context.Background(), userID)
	require.NoError(t, err)
	assert.Nil(t, limits.BaseQuota)
	assert.Nil(t, limits.EffectiveBaseLimit)
	assert.Equal(t, int64(30), limits.BaseUsed)
}

func TestQuota_AIMessagesPerPeriod(t *testing.T) {
	svc := newTestServices(t)
	userID := newTenant(t, svc, domain.PlanBasic)

	for i := 1; i <= 50; i++ {
		d := consume(t, svc, userID, domain.ResourceAIMessage)
		require.True(t, d.Allowed, "message %d", i)
		// 80% of 50
		assert.Equal(t, i >= 40, d.NearLimit, "message %d", i)
		assert.NotEqual(t, domain.LifetimePeriod, d.PeriodKey)
	}

	d := consume(t, svc, userID, domain.ResourceAIMessage)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonLimitReached, d.Reason)
	assert.Equal(t, int64(50), d.Used)

	check, err := svc.Quota.CanConsume(context.Background(), userID, domain.ResourceAIMessage)
	require.NoError(t, err)
	assert.False(t, check.Allowed)

	// Project quota is independent of AI messages
	assert.True(t, consume(t, svc, userID, domain.ResourceProject).Allowed)
}

func TestQuota_CanConsumeDoesNotConsume(t *testing.T) {
	svc := newTestServices(t)
	userID := newTenant(t, svc, domain.PlanBasic)

	for i := 0; i < 3; i++ {
		d, err := svc.Quota.CanConsume(context.Background(), userID, domain.ResourceProject)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(0), d.Used)
	}
}

func TestQuota_IdempotentReplay(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	userID := newTenant(t, svc, domain.PlanBasic)

	req := domain.ConsumeRequest{UserID: userID, Kind: domain.ResourceProject, IdempotencyKey: "create-project-1"}

	first, err := svc.Quota.CheckAndConsume(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.False(t, first.Replayed)

	second, err := svc.Quota.CheckAndConsume(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Used, second.Used)

	limits, err := svc.Quota.GetLimits(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), limits.BaseUsed)

	// Same key for another resource is a client error
	_, err = svc.Quota.CheckAndConsume(ctx, domain.ConsumeRequest{UserID: userID, Kind: domain.ResourceAIMessage, IdempotencyKey: "create-project-1"})
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

	// Keys belong to one tenant; another tenant's identical key is a new request
	other := newTenant(t, svc, domain.PlanBasic)
	theirs, err := svc.Quota.CheckAndConsume(ctx, domain.ConsumeRequest{UserID: other, Kind: domain.ResourceProject, IdempotencyKey: "create-project-1"})
	require.NoError(t, err)
	assert.True(t, theirs.Allowed)
	assert.False(t, theirs.Replayed)
	assert.Equal(t, int64(1), theirs.Used)
}

func TestQuota_BaseAdjustmentCountsTowardQuota(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	userID := newTenant(t, svc, domain.PlanBasic)

	for i := 0; i < 2; i++ {
		err := service.InTx(ctx, svc.DB, svc.Queries, func(q *repository.Queries) error {
			_, err := svc.Ledger.RecordBaseAdjustment(ctx, q, service.BaseAdjustmentParams{
				UserID: userID,
				Reason: fmt.Sprintf("imported project %d", i),
				Actor:  "test",
			})
			return err
		})
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		require.True(t, consume(t, svc, userID, domain.ResourceProject).Allowed)
	}
	d := consume(t, svc, userID, domain.ResourceProject)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(5), d.Used)
}
