package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/testematch/internal/config"
	"github.com/smallbiznis/testematch/internal/plan/domain"
	"github.com/smallbiznis/testematch/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Catalog *config.CatalogHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	catalog *config.CatalogHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("plan.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		catalog: p.Catalog,
	}
}

func (s *Service) ListActive(ctx context.Context) ([]domain.Plan, error) {
	return s.repo.List(ctx, s.db, true)
}

func (s *Service) ListAll(ctx context.Context) ([]domain.Plan, error) {
	return s.repo.List(ctx, s.db, false)
}

func (s *Service) Resolve(ctx context.Context, idOrCode string) (domain.Plan, error) {
	key := strings.TrimSpace(idOrCode)
	if key == "" {
		return domain.Plan{}, domain.ErrInvalidPlan
	}

	var (
		plan *domain.Plan
		err  error
	)
	if id, parseErr := snowflake.ParseString(key); parseErr == nil && id > 0 {
		plan, err = s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return domain.Plan{}, err
		}
	}
	if plan == nil {
		plan, err = s.repo.FindByCode(ctx, s.db, CodeFor(key))
		if err != nil {
			return domain.Plan{}, err
		}
	}
	if plan == nil || !plan.IsActive {
		return domain.Plan{}, domain.ErrNotFound
	}
	return *plan, nil
}

func (s *Service) Seed(ctx context.Context) (domain.SeedResult, error) {
	specs := s.catalog.Get().Plans

	var result domain.SeedResult
	err := db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, spec := range specs {
			plan := domain.Plan{
				ID:                 s.genID.Generate(),
				Code:               CodeFor(spec.Name),
				Name:               strings.TrimSpace(spec.Name),
				Type:               domain.PlanType(spec.Type),
				PriceCents:         spec.PriceCents,
				OriginalPriceCents: spec.OriginalPriceCents,
				DiscountPercentage: spec.DiscountPercentage,
				Credits:            spec.Credits,
				Description:        spec.Description,
				Features:           spec.Features,
				IsActive:           true,
				SortOrder:          spec.SortOrder,
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			if !plan.Type.Valid() {
				return domain.ErrInvalidPlan
			}
			if plan.Features == nil {
				plan.Features = []string{}
			}

			created, err := s.repo.Upsert(ctx, tx, &plan)
			if err != nil {
				return err
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return domain.SeedResult{}, err
	}

	s.log.Info("plans seeded", zap.Int("created", result.Created), zap.Int("updated", result.Updated))
	return result, nil
}

// CodeFor derives the stable plan code from its display name.
func CodeFor(name string) string {
	return slug.Make(strings.TrimSpace(name))
}
