package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/internal/config"
	"github.com/smallbiznis/testematch/internal/migration"
	"github.com/smallbiznis/testematch/internal/plan/domain"
	"github.com/smallbiznis/testematch/internal/plan/repository"
	"github.com/smallbiznis/testematch/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, catalog config.Catalog) domain.Service {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.ApplySchema(dbConn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:      dbConn,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repository.Provide(),
		Catalog: config.NewStaticCatalog(catalog),
	})
}

func TestSeedIsIdempotent(t *testing.T) {
	svc := newTestService(t, config.DefaultCatalog())
	ctx := context.Background()

	first, err := svc.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)

	second, err := svc.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Updated)

	plans, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "plano-basico", plans[0].Code)
	assert.Equal(t, int64(2990), plans[0].PriceCents)
	assert.Equal(t, int64(1000), plans[0].Credits)
	assert.Equal(t, domain.TypeCreditsPack, plans[2].Type)
	assert.Equal(t, 17, plans[2].DiscountPercentage)
	assert.NotEmpty(t, plans[1].Features)
}

func TestResolveByIDOrCode(t *testing.T) {
	svc := newTestService(t, config.DefaultCatalog())
	ctx := context.Background()

	_, err := svc.Seed(ctx)
	require.NoError(t, err)

	byCode, err := svc.Resolve(ctx, "plano-completo")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), byCode.Credits)

	byID, err := svc.Resolve(ctx, byCode.ID.String())
	require.NoError(t, err)
	assert.Equal(t, byCode.ID, byID.ID)

	byName, err := svc.Resolve(ctx, "Plano Completo")
	require.NoError(t, err)
	assert.Equal(t, byCode.ID, byName.ID)

	_, err = svc.Resolve(ctx, "plano-inexistente")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSeedRejectsUnknownType(t *testing.T) {
	catalog := config.DefaultCatalog()
	catalog.Plans = []config.PlanSpec{{Name: "Broken", Type: "lifetime", PriceCents: 1, Credits: 1}}
	svc := newTestService(t, catalog)

	_, err := svc.Seed(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
}
