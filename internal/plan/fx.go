package plan

import (
	"context"

	"github.com/smallbiznis/testematch/internal/config"
	"github.com/smallbiznis/testematch/internal/plan/domain"
	"github.com/smallbiznis/testematch/internal/plan/repository"
	"github.com/smallbiznis/testematch/internal/plan/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(seedOnStart),
)

func seedOnStart(lc fx.Lifecycle, cfg config.Config, svc domain.Service, log *zap.Logger) {
	if !cfg.SeedPlans {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := svc.Seed(ctx); err != nil {
				log.Error("plan seed failed", zap.Error(err))
				return err
			}
			return nil
		},
	})
}
