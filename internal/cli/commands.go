package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/draftline/internal"
	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/DukeRupert/draftline/internal/service"
)

// =============================================================================
// migrate
// =============================================================================

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			if err := internal.RunMigrations(e.svc.DB, e.dialect); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied state of every migration",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			return internal.MigrationStatus(e.svc.DB, e.dialect)
		}),
	})

	return cmd
}

// =============================================================================
// normalize / reconcile
// =============================================================================

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Recompute referral period keys and correct drifted ledger grants",
		Long:  "Scans referrals approved within NORMALIZE_LOOKBACK_DAYS and rewrites any period key that no longer matches its qualification time in APP_TIMEZONE. Safe to run repeatedly.",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			report, err := e.svc.Normalizer.Run(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		}),
	}
}

func newReconcileCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Award qualified referrals whose credit was never granted",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			if limit < 1 {
				limit = e.cfg.ReconcileBatchSize
			}
			report, err := e.svc.Referrals.ReconcilePending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		}),
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum referrals to process (default RECONCILE_BATCH_SIZE)")
	return cmd
}

func newReferralsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "referrals",
		Short: "Inspect referrals held back for manual review",
	}

	var limit int
	flagged := &cobra.Command{
		Use:   "flagged",
		Short: "List referrals that reconciliation flagged for review",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			referrals, err := e.svc.Referrals.ListFlagged(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, referrals)
		}),
	}
	flagged.Flags().IntVar(&limit, "limit", 50, "maximum referrals to list")

	cmd.AddCommand(flagged)
	cmd.AddCommand(&cobra.Command{
		Use:   "requeue <referral-id>",
		Short: "Return a flagged referral to reconciliation",
		Long:  "Clears the review flag so the next reconcile run checks the referral again. Fix the underlying data first or it will be flagged again.",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			id, err := parseID("referral", args[0])
			if err != nil {
				return err
			}
			if err := e.svc.Referrals.ClearReview(cmd.Context(), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "requeued referral %s\n", id)
			return nil
		}),
	})

	return cmd
}

// =============================================================================
// limits
// =============================================================================

func newLimitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limits <user-id>",
		Short: "Show a tenant's limits and usage for the current period",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			limits, err := e.svc.Quota.GetLimits(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(cmd, limits)
		}),
	}
}

// =============================================================================
// plan
// =============================================================================

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "List plans or assign one to a tenant",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List seeded plans",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			plans, err := e.svc.Plans.ListPlans(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range plans {
				_, _ = fmt.Fprintf(out, "%-12s base=%-10s ai_messages=%s\n", p.Code, formatLimit(p.BaseQuota), formatLimit(p.AIMessageLimit))
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "assign <user-id> <plan-code>",
		Short: "Assign a plan to a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			code, err := domain.ParsePlanCode(args[1])
			if err != nil {
				return err
			}
			if err := e.svc.Plans.AssignPlan(cmd.Context(), userID, code); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "assigned %s to %s\n", code, userID)
			return nil
		}),
	})

	return cmd
}

// =============================================================================
// ledger
// =============================================================================

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Administrative credit ledger entries",
	}

	var reason, actor string
	adjust := &cobra.Command{
		Use:   "adjust <user-id>",
		Short: "Record one administrative BASE consumption for a tenant",
		Long:  "Appends a BASE consume entry. It counts toward the tenant's lifetime base usage exactly like a created project.",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(reason) == "" {
				return fmt.Errorf("--reason is required")
			}

			var entry domain.LedgerEntry
			err = service.InTx(cmd.Context(), e.svc.DB, e.svc.Queries, func(q *repository.Queries) error {
				entry, err = e.svc.Ledger.RecordBaseAdjustment(cmd.Context(), q, service.BaseAdjustmentParams{
					UserID: userID,
					Reason: reason,
					Actor:  actor,
					At:     time.Now(),
				})
				return err
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recorded %s entry %s in %s\n", entry.Type, entry.ID, entry.PeriodKey)
			return nil
		}),
	}
	adjust.Flags().StringVar(&reason, "reason", "", "why the adjustment is made (required)")
	adjust.Flags().StringVar(&actor, "actor", "quotactl", "who made the adjustment")

	cmd.AddCommand(adjust)
	return cmd
}

func formatLimit(v *int64) string {
	if v == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *v)
}
