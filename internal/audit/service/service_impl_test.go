package service_test

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/testematch/internal/audit/domain"
	auditrepo "github.com/smallbiznis/testematch/internal/audit/repository"
	auditservice "github.com/smallbiznis/testematch/internal/audit/service"
	"github.com/smallbiznis/testematch/internal/ledger/ledgertest"
	obscontext "github.com/smallbiznis/testematch/internal/observability/context"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) auditdomain.Service {
	t.Helper()

	return auditservice.NewService(auditservice.Params{
		DB:    ledgertest.NewDB(t),
		Log:   zap.NewNop(),
		GenID: ledgertest.NewNode(t),
		Repo:  auditrepo.Provide(),
	})
}

func TestRecordUsesContextActor(t *testing.T) {
	svc := newService(t)
	ctx := obscontext.WithActor(context.Background(), "account", "42")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	require.NoError(t, svc.Record(ctx, auditdomain.Record{
		Action:     auditdomain.ActionLedgerAdjust,
		TargetType: auditdomain.TargetAccount,
		TargetID:   "7",
		Metadata:   map[string]any{"amount": 25},
		IPAddress:  "10.0.0.1",
	}))

	res, err := svc.List(context.Background(), auditdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)

	log := res.Logs[0]
	assert.Equal(t, "account", log.ActorType)
	require.NotNil(t, log.ActorID)
	assert.Equal(t, "42", *log.ActorID)
	require.NotNil(t, log.TargetID)
	assert.Equal(t, "7", *log.TargetID)
	assert.Equal(t, "req-1", log.Metadata["request_id"])
	assert.EqualValues(t, 25, log.Metadata["amount"])
	require.NotNil(t, log.IPAddress)
	assert.Nil(t, log.UserAgent)
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc := newService(t)

	require.NoError(t, svc.Record(context.Background(), auditdomain.Record{
		Action: auditdomain.ActionLedgerAudit,
	}))

	res, err := svc.List(context.Background(), auditdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), res.Logs[0].ActorType)
	assert.Equal(t, "unknown", res.Logs[0].TargetType)
	assert.Nil(t, res.Logs[0].ActorID)
}

func TestRecordRequiresAction(t *testing.T) {
	svc := newService(t)

	err := svc.Record(context.Background(), auditdomain.Record{Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(ctx, auditdomain.Record{
			ActorType:  auditdomain.ActorTypeCLI,
			Action:     auditdomain.ActionLedgerAdjust,
			TargetType: auditdomain.TargetAccount,
			TargetID:   "1",
		}))
	}
	require.NoError(t, svc.Record(ctx, auditdomain.Record{
		ActorType:  auditdomain.ActorTypeCLI,
		Action:     auditdomain.ActionAccountRole,
		TargetType: auditdomain.TargetAccount,
		TargetID:   "2",
	}))

	res, err := svc.List(ctx, auditdomain.ListRequest{
		Page:   pagination.Page{Page: 1, Limit: 2},
		Action: auditdomain.ActionLedgerAdjust,
	})
	require.NoError(t, err)
	assert.Len(t, res.Logs, 2)
	assert.Equal(t, int64(3), res.PageInfo.Total)
	assert.Equal(t, 2, res.PageInfo.Pages)

	res, err = svc.List(ctx, auditdomain.ListRequest{TargetID: "2"})
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, auditdomain.ActionAccountRole, res.Logs[0].Action)
}

func TestListRejectsInvertedRange(t *testing.T) {
	svc := newService(t)
	now := time.Now()
	earlier := now.Add(-time.Hour)

	_, err := svc.List(context.Background(), auditdomain.ListRequest{StartAt: &now, EndAt: &earlier})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
