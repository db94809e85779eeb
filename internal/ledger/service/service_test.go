package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	accountrepo "github.com/smallbiznis/testematch/internal/account/repository"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	"github.com/smallbiznis/testematch/internal/ledger/repository"
	"github.com/smallbiznis/testematch/internal/migration"
	"github.com/smallbiznis/testematch/pkg/db"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   ledgerdomain.Service
	db    *gorm.DB
	genID *snowflake.Node
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.ApplySchema(dbConn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    dbConn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return fixture{svc: svc, db: dbConn, genID: node}
}

func (f fixture) createAccount(t *testing.T, externalID string) snowflake.ID {
	t.Helper()

	now := time.Now().UTC()
	acc := accountdomain.Account{
		ID:              f.genID.Generate(),
		ExternalID:      externalID,
		Email:           externalID + "@example.com",
		Name:            "Test",
		PasswordHash:    "!unusable",
		CredentialState: accountdomain.CredentialActive,
		PlanTier:        accountdomain.PlanFree,
		Role:            accountdomain.RoleCustomer,
		IsActive:        true,
		Preferences:     accountdomain.DefaultPreferences(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, accountrepo.Provide().Insert(context.Background(), f.db, &acc))
	return acc.ID
}

func TestAdjustGrantsBonusOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.createAccount(t, "52998224725")

	req := ledgerdomain.AdjustRequest{AccountID: accountID, Amount: 50, Reason: "welcome", Reference: "promo-1", Actor: "ops"}
	first, err := f.svc.Adjust(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(50), first.Balance)
	assert.Equal(t, ledgerdomain.KindBonus, first.Entry.Kind)

	second, err := f.svc.Adjust(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(50), second.Balance)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	req.Amount = 60
	_, err = f.svc.Adjust(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrReferenceConflict)
}

func TestAdjustReferenceIndependentOfProcessorRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.createAccount(t, "52998224725")

	ref := "tx-77"
	now := time.Now().UTC()
	purchase := ledgerdomain.Entry{
		ID:                 f.genID.Generate(),
		AccountID:          accountID,
		Kind:               ledgerdomain.KindPurchase,
		Amount:             0,
		Status:             ledgerdomain.StatusFailed,
		ExternalPaymentRef: &ref,
		Description:        "cancelled purchase",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, repository.Provide().InsertEntry(ctx, f.db, &purchase))

	res, err := f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: accountID, Amount: 20, Reason: "goodwill", Reference: ref, Actor: "ops"})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(20), res.Balance)
	require.NotNil(t, res.Entry.AdjustmentRef)
	assert.Equal(t, ref, *res.Entry.AdjustmentRef)
	assert.Nil(t, res.Entry.ExternalPaymentRef)
}

func TestAdjustClawbackIsBoundedByBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.createAccount(t, "52998224725")

	_, err := f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: accountID, Amount: 10, Reference: "grant"})
	require.NoError(t, err)

	_, err = f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: accountID, Amount: -15, Reference: "chargeback-1"})
	var insufficient *ledgerdomain.InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient), "expected InsufficientCreditsError, got %v", err)
	assert.Equal(t, int64(15), insufficient.Required)
	assert.Equal(t, int64(10), insufficient.Available)

	res, err := f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: accountID, Amount: -4, Reference: "chargeback-1"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.KindUsage, res.Entry.Kind)
	assert.Nil(t, res.Entry.RelatedJobID)
	assert.Equal(t, int64(6), res.Balance)

	snapshot, err := f.svc.Verify(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, snapshot.Consistent())
	assert.Equal(t, int64(6), snapshot.LedgerSum)
}

func TestAdjustValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.createAccount(t, "52998224725")

	_, err := f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: accountID, Amount: 0, Reference: "x"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: accountID, Amount: 1})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidReference)

	_, err = f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: f.genID.Generate(), Amount: 1, Reference: "x"})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestAuditReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.createAccount(t, "52998224725")
	bad := f.createAccount(t, "11144477735")

	_, err := f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: good, Amount: 5, Reference: "a"})
	require.NoError(t, err)
	_, err = f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: bad, Amount: 5, Reference: "b"})
	require.NoError(t, err)

	require.NoError(t, f.db.Exec(`UPDATE accounts SET balance = 9 WHERE id = ?`, bad).Error)

	res, err := f.svc.Audit(ctx, ledgerdomain.AuditRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, bad, res.Mismatches[0].AccountID)
	assert.Equal(t, int64(4), res.Mismatches[0].Drift())

	next, err := f.svc.Audit(ctx, ledgerdomain.AuditRequest{AfterID: res.LastID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, next.Scanned)

	summary, err := f.svc.AuditAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.Mismatched)
	assert.Equal(t, int64(4), summary.Drift)
	require.Len(t, summary.Mismatches, 1)
	assert.Equal(t, bad, summary.Mismatches[0].AccountID)
}

func TestHistoryFiltersAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.createAccount(t, "52998224725")

	_, err := f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: accountID, Amount: 20, Reference: "a"})
	require.NoError(t, err)
	_, err = f.svc.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: accountID, Amount: -3, Reference: "b"})
	require.NoError(t, err)

	all, err := f.svc.History(ctx, ledgerdomain.HistoryRequest{AccountID: accountID})
	require.NoError(t, err)
	assert.Len(t, all.Entries, 2)
	assert.Equal(t, int64(2), all.PageInfo.Total)
	assert.Equal(t, int64(20), all.Stats.TotalBonus)
	assert.Equal(t, int64(3), all.Stats.TotalUsed)

	usage, err := f.svc.History(ctx, ledgerdomain.HistoryRequest{AccountID: accountID, Kind: "usage"})
	require.NoError(t, err)
	require.Len(t, usage.Entries, 1)
	assert.Equal(t, int64(-3), usage.Entries[0].Amount)

	_, err = f.svc.History(ctx, ledgerdomain.HistoryRequest{AccountID: accountID, Kind: "gift"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidFilter)

	paged, err := f.svc.ListTransactions(ctx, ledgerdomain.ListRequest{
		AccountID: accountID,
		Page:      pagination.Page{Page: 2, Limit: 1},
	})
	require.NoError(t, err)
	assert.Len(t, paged.Entries, 1)
	assert.Equal(t, 2, paged.PageInfo.Pages)
}
