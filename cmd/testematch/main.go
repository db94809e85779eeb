package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/internal/account"
	"github.com/smallbiznis/testematch/internal/analysis"
	"github.com/smallbiznis/testematch/internal/audit"
	"github.com/smallbiznis/testematch/internal/auth"
	"github.com/smallbiznis/testematch/internal/authorization"
	"github.com/smallbiznis/testematch/internal/clock"
	"github.com/smallbiznis/testematch/internal/config"
	"github.com/smallbiznis/testematch/internal/ledger"
	"github.com/smallbiznis/testematch/internal/migration"
	"github.com/smallbiznis/testematch/internal/observability"
	"github.com/smallbiznis/testematch/internal/payment"
	"github.com/smallbiznis/testematch/internal/plan"
	"github.com/smallbiznis/testematch/internal/provisioning"
	"github.com/smallbiznis/testematch/internal/ratelimit"
	"github.com/smallbiznis/testematch/internal/scheduler"
	"github.com/smallbiznis/testematch/internal/server"
	"github.com/smallbiznis/testematch/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		account.Module,
		audit.Module,
		auth.Module,
		authorization.Module,
		ledger.Module,
		plan.Module,
		provisioning.Module,
		analysis.Module,
		payment.Module,
		ratelimit.Module,

		// Background jobs run in-process unless SCHEDULER_ENABLED=false.
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
