// Package cli implements testematchctl, the operator command line. Every
// command boots the same configuration and database wiring as the server
// and exits when its operation returns.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/internal/account"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	"github.com/smallbiznis/testematch/internal/audit"
	auditdomain "github.com/smallbiznis/testematch/internal/audit/domain"
	"github.com/smallbiznis/testematch/internal/clock"
	"github.com/smallbiznis/testematch/internal/config"
	"github.com/smallbiznis/testematch/internal/ledger"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	"github.com/smallbiznis/testematch/internal/migration"
	"github.com/smallbiznis/testematch/internal/observability"
	"github.com/smallbiznis/testematch/internal/plan"
	plandomain "github.com/smallbiznis/testematch/internal/plan/domain"
	"github.com/smallbiznis/testematch/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const startTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:           "testematchctl",
	Short:         "Operate testematch accounts, plans and ledgers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command named on the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type services struct {
	fx.In

	Accounts accountdomain.Service
	Ledger   ledgerdomain.Service
	Plans    plandomain.Service
	Audit    auditdomain.Service
	Cfg      config.Config
}

// withServices starts the application graph without its HTTP surface, runs
// fn, and shuts the graph down again.
func withServices(ctx context.Context, fn func(context.Context, services) error) error {
	var svc services
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(newNode),
		db.Module,
		clock.Module,
		migration.Module,
		account.Module,
		ledger.Module,
		plan.Module,
		audit.Module,
		fx.Invoke(func(s services) { svc = s }),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx, svc)
}

// newNode uses a machine id distinct from the server binaries.
func newNode() (*snowflake.Node, error) {
	return snowflake.NewNode(900)
}

// recordAudit reports a lost audit row without failing the command.
func recordAudit(ctx context.Context, cmd *cobra.Command, svc services, rec auditdomain.Record) {
	rec.ActorType = auditdomain.ActorTypeCLI
	if rec.ActorID == "" {
		rec.ActorID = os.Getenv("USER")
	}
	if err := svc.Audit.Record(ctx, rec); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: audit log not written:", err)
	}
}

func accountFlag(cmd *cobra.Command) (snowflake.ID, error) {
	raw, _ := cmd.Flags().GetString("account")
	return parseAccountID(raw)
}

func parseAccountID(raw string) (snowflake.ID, error) {
	if raw == "" {
		return 0, fmt.Errorf("--account is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id %q", raw)
	}
	return id, nil
}
