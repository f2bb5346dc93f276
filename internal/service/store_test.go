package service_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/draftline/internal"
	"github.com/DukeRupert/draftline/internal/domain"
)

// newTestServices opens a migrated SQLite store in a temp dir and wires the
// services over it.
func newTestServices(t *testing.T) *internal.Services {
	t.Helper()
	return openTestServices(t, "sqlite", filepath.Join(t.TempDir(), "accounting.db"), 0)
}

// openTestServices opens and migrates the given store. A positive maxConns
// overrides the driver's pool size.
func openTestServices(t *testing.T, driver, dsn string, maxConns int) *internal.Services {
	t.Helper()

	db, dialect, err := internal.OpenDatabase(context.Background(), driver, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}

	require.NoError(t, internal.RunMigrations(db, dialect))

	cfg := &internal.Config{
		AppTimezone:            "America/Chicago",
		NearLimitPercent:       80,
		NormalizeLookbackDays:  90,
		ReconcileBatchSize:     100,
		ReferralMaxRetries:     3,
		ReferralRetryBaseDelay: time.Millisecond,
	}

	svc, err := internal.NewServices(db, dialect, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return svc
}

// newTenant creates a user on the given plan.
func newTenant(t *testing.T, svc *internal.Services, code domain.PlanCode) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	require.NoError(t, svc.Plans.AssignPlan(context.Background(), userID, code))
	return userID
}

func consume(t *testing.T, svc *internal.Services, userID uuid.UUID, kind domain.ResourceKind) domain.Decision {
	t.Helper()
	d, err := svc.Quota.CheckAndConsume(context.Background(), domain.ConsumeRequest{UserID: userID, Kind: kind})
	require.NoError(t, err)
	return d
}
