package internal

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/draftline/internal/jobs"
	"github.com/DukeRupert/draftline/internal/period"
	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/DukeRupert/draftline/internal/service"
)

// Services is the accounting core shared by the server and the CLI.
type Services struct {
	DB      *sql.DB
	Queries *repository.Queries
	Periods *period.Calculator

	Plans     service.PlanResolver
	Ledger    service.CreditLedger
	Usage     service.UsageGateway
	Quota     service.QuotaService
	Referrals service.ReferralQualifier

	Normalizer *jobs.NormalizeReferralsHandler
	Reconciler *jobs.ReconcileReferralsHandler
}

// NewServices wires the services over an open database.
func NewServices(db *sql.DB, dialect repository.Dialect, cfg *Config, logger *slog.Logger) (*Services, error) {
	periods, err := period.NewCalculator(cfg.AppTimezone)
	if err != nil {
		return nil, fmt.Errorf("period calculator: %w", err)
	}

	queries := repository.New(db, dialect)
	plans := service.NewPlanResolver(queries, logger)
	ledger := service.NewCreditLedger(periods, logger)
	usage := service.NewUsageGateway(logger)
	referrals := service.NewReferralQualifier(db, queries, periods, ledger, service.ReferralConfig{
		MaxRetries: uint64(max(cfg.ReferralMaxRetries, 0)),
		BaseDelay:  cfg.ReferralRetryBaseDelay,
	}, logger)

	return &Services{
		DB:      db,
		Queries: queries,
		Periods: periods,

		Plans:  plans,
		Ledger: ledger,
		Usage:  usage,
		Quota: service.NewQuotaService(db, queries, periods, plans, ledger, usage, service.QuotaConfig{
			NearLimitThreshold: float64(cfg.NearLimitPercent) / 100,
		}, logger),
		Referrals: referrals,

		Normalizer: jobs.NewNormalizeReferralsHandler(db, queries, periods, ledger, cfg.NormalizeLookback(), logger),
		Reconciler: jobs.NewReconcileReferralsHandler(referrals, cfg.ReconcileBatchSize, logger),
	}, nil
}
