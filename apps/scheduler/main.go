package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/internal/account"
	"github.com/smallbiznis/testematch/internal/analysis"
	"github.com/smallbiznis/testematch/internal/clock"
	"github.com/smallbiznis/testematch/internal/config"
	"github.com/smallbiznis/testematch/internal/ledger"
	"github.com/smallbiznis/testematch/internal/migration"
	"github.com/smallbiznis/testematch/internal/observability"
	"github.com/smallbiznis/testematch/internal/scheduler"
	"github.com/smallbiznis/testematch/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services required by scheduler
		account.Module,
		ledger.Module,
		analysis.Module,

		// No server module! Jobs run regardless of SCHEDULER_ENABLED.
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
