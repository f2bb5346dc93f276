// Package cli implements quotactl, the operator command line for the
// accounting store. It shares configuration and wiring with the server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/DukeRupert/draftline/internal"
	"github.com/DukeRupert/draftline/internal/repository"
)

// NewRootCmd creates the root cobra command for quotactl.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "quotactl",
		Short:         "Operate the Draftline usage accounting store",
		Long:          "quotactl runs migrations, maintenance jobs and administrative changes against the accounting database configured by DATABASE_DRIVER and DATABASE_URL.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newNormalizeCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newReferralsCmd())
	root.AddCommand(newLimitsCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newLedgerCmd())

	return root
}

// env is what every command needs from the environment.
type env struct {
	cfg     *internal.Config
	logger  *slog.Logger
	svc     *internal.Services
	dialect repository.Dialect
}

// openEnv loads configuration and opens the database. Logs go to stderr so
// that stdout carries only command output.
func openEnv(ctx context.Context) (*env, func(), error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config initialization failed: %w", err)
	}
	logger := internal.NewLogger(os.Stderr, cfg.Env, cfg.LogLevel)

	db, dialect, err := internal.OpenDatabase(ctx, cfg.DatabaseDriver, cfg.DatabaseUrl)
	if err != nil {
		return nil, nil, err
	}

	svc, err := internal.NewServices(db, dialect, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	cleanup := func() { _ = db.Close() }
	return &env{cfg: cfg, logger: logger, svc: svc, dialect: dialect}, cleanup, nil
}

// withEnv adapts a command body that needs an open environment.
func withEnv(fn func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cmd, args, e)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUserID(s string) (uuid.UUID, error) {
	return parseID("user", s)
}

func parseID(kind, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}
