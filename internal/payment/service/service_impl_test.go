package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	accountrepo "github.com/smallbiznis/testematch/internal/account/repository"
	"github.com/smallbiznis/testematch/internal/config"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	"github.com/smallbiznis/testematch/internal/ledger/ledgertest"
	ledgerrepo "github.com/smallbiznis/testematch/internal/ledger/repository"
	paymentdomain "github.com/smallbiznis/testematch/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/testematch/internal/payment/repository"
	paymentservice "github.com/smallbiznis/testematch/internal/payment/service"
	plandomain "github.com/smallbiznis/testematch/internal/plan/domain"
	planrepo "github.com/smallbiznis/testematch/internal/plan/repository"
	planservice "github.com/smallbiznis/testematch/internal/plan/service"
	provisioningdomain "github.com/smallbiznis/testematch/internal/provisioning/domain"
	provisioningservice "github.com/smallbiznis/testematch/internal/provisioning/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "appmax-secret"

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	svc   paymentdomain.Service
	plans plandomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	conn := ledgertest.NewDB(t)
	node := ledgertest.NewNode(t)
	accounts := accountrepo.Provide()

	plans := planservice.NewService(planservice.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    planrepo.Provide(),
		Catalog: config.NewStaticCatalog(config.DefaultCatalog()),
	})
	provisioner := provisioningservice.NewService(provisioningservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Accounts: accounts,
	})
	svc := paymentservice.NewService(paymentservice.Params{
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Cfg:         config.Config{PaymentWebhookSecret: testSecret},
		Repo:        paymentrepo.Provide(),
		Ledger:      ledgerrepo.Provide(),
		Accounts:    accounts,
		Provisioner: provisioner,
		Plans:       plans,
	})
	return fixture{db: conn, node: node, svc: svc, plans: plans}
}

func (f fixture) purchase(t *testing.T, ref string) *ledgerdomain.Entry {
	t.Helper()

	entry, err := ledgerrepo.Provide().FindByPaymentRef(context.Background(), f.db, ref)
	require.NoError(t, err)
	return entry
}

func approved(ref, payer string, credits int64) paymentdomain.ApplyPaymentRequest {
	return paymentdomain.ApplyPaymentRequest{
		SharedSecret:    testSecret,
		TransactionRef:  ref,
		PayerExternalID: payer,
		AmountCredits:   credits,
		Outcome:         paymentdomain.OutcomeApproved,
		RawStatus:       "aprovado",
	}
}

func TestUnknownApprovedPayerIsProvisioned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.ApplyPayment(ctx, approved("tx1", "999", 1000))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.SetupRequired)
	assert.NotEmpty(t, res.SetupToken)
	assert.Equal(t, ledgerdomain.StatusCompleted, res.Status)
	assert.Equal(t, int64(1000), res.Credited)

	account, err := accountrepo.Provide().FindByID(ctx, f.db, res.AccountID)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "999", account.ExternalID)
	assert.Equal(t, accountdomain.CredentialPending, account.CredentialState)
	assert.Equal(t, "user_999@testematch.temp", account.Email)
	assert.True(t, account.ContactPlaceholder)

	assert.Equal(t, int64(1000), ledgertest.Balance(t, f.db, res.AccountID))
	assert.Equal(t, int64(1), ledgertest.CountEntries(t, f.db, res.AccountID, ledgerdomain.KindPurchase))
	entry := f.purchase(t, "tx1")
	require.NotNil(t, entry)
	assert.Equal(t, ledgerdomain.StatusCompleted, entry.Status)
	assert.Equal(t, int64(1000), entry.Amount)
	ledgertest.RequireConsistent(t, f.db, res.AccountID)
}

func TestDuplicateApprovalCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 0)

	first, err := f.svc.ApplyPayment(ctx, approved("tx-dup", acc.ExternalID, 500))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.False(t, first.SetupRequired)

	second, err := f.svc.ApplyPayment(ctx, approved("tx-dup", acc.ExternalID, 500))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Equal(t, int64(0), second.Credited)

	assert.Equal(t, int64(500), ledgertest.Balance(t, f.db, acc.ID))
	ledgertest.RequireConsistent(t, f.db, acc.ID)

	var events int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payment_events WHERE transaction_ref = ?`, "tx-dup").Scan(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestPendingThenApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 0)

	req := approved("tx-flow", acc.ExternalID, 300)
	req.Outcome = paymentdomain.NormalizeStatus("pendente")
	res, err := f.svc.ApplyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusPending, res.Status)
	assert.Equal(t, int64(0), ledgertest.Balance(t, f.db, acc.ID))

	res, err = f.svc.ApplyPayment(ctx, approved("tx-flow", acc.ExternalID, 0))
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusCompleted, res.Status)
	assert.Equal(t, int64(300), res.Credited)
	assert.Equal(t, int64(300), ledgertest.Balance(t, f.db, acc.ID))
	ledgertest.RequireConsistent(t, f.db, acc.ID)
}

func TestCancelledPurchaseFailsWithoutCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 0)

	req := approved("tx-cancel", acc.ExternalID, 300)
	req.Outcome = paymentdomain.OutcomePending
	_, err := f.svc.ApplyPayment(ctx, req)
	require.NoError(t, err)

	req.Outcome = paymentdomain.NormalizeStatus("cancelado")
	res, err := f.svc.ApplyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusFailed, res.Status)

	// A late approval of a failed purchase is ignored.
	late, err := f.svc.ApplyPayment(ctx, approved("tx-cancel", acc.ExternalID, 300))
	require.NoError(t, err)
	assert.True(t, late.Duplicate)
	assert.Equal(t, ledgerdomain.StatusFailed, late.Status)
	assert.Equal(t, int64(0), ledgertest.Balance(t, f.db, acc.ID))
}

func TestFirstCancellationWithoutCreditsIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 7)

	req := approved("tx-void", acc.ExternalID, 0)
	req.Outcome = paymentdomain.NormalizeStatus("cancelado")
	req.RawStatus = "cancelado"
	res, err := f.svc.ApplyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusFailed, res.Status)
	assert.Zero(t, res.Credited)

	entry := f.purchase(t, "tx-void")
	require.NotNil(t, entry)
	assert.Equal(t, acc.ID, entry.AccountID)
	assert.Equal(t, ledgerdomain.StatusFailed, entry.Status)
	assert.Equal(t, int64(1), ledgertest.CountEntries(t, f.db, acc.ID, ledgerdomain.KindPurchase))
	assert.Equal(t, int64(7), ledgertest.Balance(t, f.db, acc.ID))
	ledgertest.RequireConsistent(t, f.db, acc.ID)
}

func TestPendingWithoutCreditsAwaitsApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 0)

	req := approved("tx-later", acc.ExternalID, 0)
	req.Outcome = paymentdomain.OutcomePending
	req.RawStatus = "pendente"
	res, err := f.svc.ApplyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusPending, res.Status)

	// Approval still needs an amount from somewhere.
	_, err = f.svc.ApplyPayment(ctx, approved("tx-later", acc.ExternalID, 0))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
	assert.Equal(t, ledgerdomain.StatusPending, f.purchase(t, "tx-later").Status)

	done, err := f.svc.ApplyPayment(ctx, approved("tx-later", acc.ExternalID, 250))
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusCompleted, done.Status)
	assert.Equal(t, int64(250), done.Credited)
	assert.Equal(t, int64(250), ledgertest.Balance(t, f.db, acc.ID))
	ledgertest.RequireConsistent(t, f.db, acc.ID)
}

func TestApprovalWithoutCreditsIsRejected(t *testing.T) {
	f := newFixture(t)
	acc := ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 0)

	_, err := f.svc.ApplyPayment(context.Background(), approved("tx-empty", acc.ExternalID, 0))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
	assert.Nil(t, f.purchase(t, "tx-empty"))
}

func TestUnmappedStatusIsStoredLiterally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 0)

	req := approved("tx-literal", acc.ExternalID, 100)
	req.Outcome = paymentdomain.NormalizeStatus("Em_Analise")
	res, err := f.svc.ApplyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EntryStatus("em_analise"), res.Status)

	entry := f.purchase(t, "tx-literal")
	require.NotNil(t, entry)
	assert.Equal(t, ledgerdomain.EntryStatus("em_analise"), entry.Status)

	res, err = f.svc.ApplyPayment(ctx, approved("tx-literal", acc.ExternalID, 100))
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusCompleted, res.Status)
	assert.Equal(t, int64(100), ledgertest.Balance(t, f.db, acc.ID))
}

func TestUnknownPayerWithoutApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := approved("tx-unknown", "11144477735", 100)
	req.Outcome = paymentdomain.OutcomePending
	_, err := f.svc.ApplyPayment(ctx, req)

	var unknown *paymentdomain.UnknownPayerError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "11144477735", unknown.ExternalID)
	assert.Nil(t, f.purchase(t, "tx-unknown"))

	var accounts int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM accounts`).Scan(&accounts).Error)
	assert.Zero(t, accounts)
}

func TestWrongSecretWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := approved("tx-forged", "999", 1000)
	req.SharedSecret = "nope"
	_, err := f.svc.ApplyPayment(ctx, req)
	require.ErrorIs(t, err, paymentdomain.ErrForbidden)

	var events int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payment_events`).Scan(&events).Error)
	assert.Zero(t, events)
	assert.Nil(t, f.purchase(t, "tx-forged"))
}

func TestPendingAccountGetsFreshSetupToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.ApplyPayment(ctx, approved("tx-a", "999", 100))
	require.NoError(t, err)

	second, err := f.svc.ApplyPayment(ctx, approved("tx-b", "999", 200))
	require.NoError(t, err)
	assert.Equal(t, first.AccountID, second.AccountID)
	assert.True(t, second.SetupRequired)
	assert.NotEmpty(t, second.SetupToken)
	assert.NotEqual(t, first.SetupToken, second.SetupToken)
	assert.Equal(t, int64(300), ledgertest.Balance(t, f.db, first.AccountID))

	provisioner := provisioningservice.NewService(provisioningservice.Params{
		DB:       f.db,
		Log:      zap.NewNop(),
		GenID:    f.node,
		Accounts: accountrepo.Provide(),
	})
	_, err = provisioner.CompleteSetup(ctx, provisioningdomain.CompleteSetupRequest{
		AccountID:  first.AccountID,
		SetupToken: first.SetupToken,
		Password:   "segredo123",
	})
	require.ErrorIs(t, err, provisioningdomain.ErrForbidden)

	_, err = provisioner.CompleteSetup(ctx, provisioningdomain.CompleteSetupRequest{
		AccountID:  first.AccountID,
		SetupToken: second.SetupToken,
		Password:   "segredo123",
	})
	require.NoError(t, err)
}

func TestInitiatePurchaseThenApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.plans.Seed(ctx)
	require.NoError(t, err)
	acc := ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 0)

	started, err := f.svc.InitiatePurchase(ctx, paymentdomain.PurchaseRequest{AccountID: acc.ID, Plan: "plano-completo"})
	require.NoError(t, err)
	require.NotNil(t, started.Entry.ExternalPaymentRef)
	ref := *started.Entry.ExternalPaymentRef
	assert.True(t, strings.HasPrefix(ref, paymentdomain.PurchaseRefPrefix))
	assert.Equal(t, ledgerdomain.StatusPending, started.Entry.Status)
	assert.Equal(t, int64(3000), started.Entry.Amount)
	assert.Equal(t, int64(0), ledgertest.Balance(t, f.db, acc.ID))

	// The notification names another payer; the entry's own account wins.
	res, err := f.svc.ApplyPayment(ctx, approved(ref, "11144477735", 0))
	require.NoError(t, err)
	assert.Equal(t, acc.ID, res.AccountID)
	assert.Equal(t, int64(3000), ledgertest.Balance(t, f.db, acc.ID))
	ledgertest.RequireConsistent(t, f.db, acc.ID)

	_, err = f.svc.InitiatePurchase(ctx, paymentdomain.PurchaseRequest{AccountID: acc.ID, Plan: "inexistente"})
	require.ErrorIs(t, err, plandomain.ErrNotFound)
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"aprovado":    paymentdomain.OutcomeApproved,
		"Autorizado":  paymentdomain.OutcomeApproved,
		"pendente":    paymentdomain.OutcomePending,
		"cancelado":   paymentdomain.OutcomeCancelled,
		"reembolsado": paymentdomain.OutcomeRefunded,
		" Estornado ": "estornado",
	}
	for raw, want := range cases {
		assert.Equal(t, want, paymentdomain.NormalizeStatus(raw), raw)
	}
}

func TestVerifySecret(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.svc.VerifySecret(testSecret))
	assert.ErrorIs(t, f.svc.VerifySecret("wrong"), paymentdomain.ErrForbidden)
	assert.ErrorIs(t, f.svc.VerifySecret(""), paymentdomain.ErrForbidden)
}
