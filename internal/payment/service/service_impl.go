package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	"github.com/smallbiznis/testematch/internal/config"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/testematch/internal/observability/metrics"
	obstracing "github.com/smallbiznis/testematch/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/testematch/internal/payment/domain"
	plandomain "github.com/smallbiznis/testematch/internal/plan/domain"
	provisioningdomain "github.com/smallbiznis/testematch/internal/provisioning/domain"
	"github.com/smallbiznis/testematch/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Cfg         config.Config
	Repo        paymentdomain.Repository
	Ledger      ledgerdomain.Repository
	Accounts    accountdomain.Repository
	Provisioner provisioningdomain.Service
	Plans       plandomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	secret      string
	repo        paymentdomain.Repository
	ledger      ledgerdomain.Repository
	accounts    accountdomain.Repository
	provisioner provisioningdomain.Service
	plans       plandomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		secret:      p.Cfg.PaymentWebhookSecret,
		repo:        p.Repo,
		ledger:      p.Ledger,
		accounts:    p.Accounts,
		provisioner: p.Provisioner,
		plans:       p.Plans,
		obsMetrics:  p.ObsMetrics,
	}
}

// reconcileState carries what ApplyPayment learned inside the transaction.
type reconcileState struct {
	account     accountdomain.Account
	entry       ledgerdomain.Entry
	setupToken  string
	duplicate   bool
	credited    int64
	provisioned bool
}

func (s *Service) VerifySecret(presented string) error {
	if !s.secretMatches(presented) {
		s.log.Warn("payment notification rejected", zap.String("reason", "secret_mismatch"))
		return paymentdomain.ErrForbidden
	}
	return nil
}

func (s *Service) ApplyPayment(ctx context.Context, req paymentdomain.ApplyPaymentRequest) (paymentdomain.ApplyPaymentResult, error) {
	ctx, span := obstracing.StartSpan(ctx, "payment.apply",
		attribute.String("ledger.kind", string(ledgerdomain.KindPurchase)),
	)
	result, err := s.applyPayment(ctx, req)
	obstracing.EndSpan(span, err)
	return result, err
}

func (s *Service) applyPayment(ctx context.Context, req paymentdomain.ApplyPaymentRequest) (paymentdomain.ApplyPaymentResult, error) {
	if err := s.VerifySecret(req.SharedSecret); err != nil {
		return paymentdomain.ApplyPaymentResult{}, err
	}

	ref := strings.TrimSpace(req.TransactionRef)
	if ref == "" {
		return paymentdomain.ApplyPaymentResult{}, paymentdomain.ErrInvalidTransaction
	}
	outcome := req.Outcome
	if outcome == "" {
		outcome = paymentdomain.NormalizeStatus(req.RawStatus)
	}
	if outcome == "" {
		return paymentdomain.ApplyPaymentResult{}, paymentdomain.ErrInvalidStatus
	}
	if req.AmountCredits < 0 {
		return paymentdomain.ApplyPaymentResult{}, paymentdomain.ErrInvalidAmount
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = paymentdomain.ProviderAppmax
	}

	var state reconcileState
	err := db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		event, err := s.recordEvent(ctx, tx, provider, ref, outcome, req, now)
		if err != nil {
			return err
		}

		entry, err := s.ledger.FindByPaymentRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		if entry == nil {
			entry, err = s.openPurchase(ctx, tx, ref, outcome, req, now, &state)
			if err != nil {
				return err
			}
		}

		if state.account.ID == 0 {
			account, err := s.accounts.FindByID(ctx, tx, entry.AccountID)
			if err != nil {
				return err
			}
			if account == nil {
				return paymentdomain.ErrAccountNotFound
			}
			state.account = *account
		}

		if err := s.reconcile(ctx, tx, entry, outcome, req, now, &state); err != nil {
			return err
		}

		if state.account.CredentialState == accountdomain.CredentialPending && state.setupToken == "" && !state.duplicate {
			token, err := s.provisioner.RotateSetupToken(ctx, tx, state.account.ID)
			if err != nil && !errors.Is(err, provisioningdomain.ErrAlreadyActive) {
				return err
			}
			state.setupToken = token
		}

		if event != nil {
			return s.repo.MarkProcessed(ctx, tx, event.ID, now)
		}
		return nil
	})
	if err != nil {
		var unknown *paymentdomain.UnknownPayerError
		if errors.As(err, &unknown) {
			s.log.Warn("payment notification for unknown payer",
				zap.String("transaction_ref", ref),
				zap.String("status", outcome),
			)
		}
		return paymentdomain.ApplyPaymentResult{}, err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, provider, outcome, state.credited)
	if state.credited > 0 {
		s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.KindPurchase))
	}
	s.log.Info("payment notification applied",
		zap.String("transaction_ref", ref),
		zap.String("account_id", state.account.ID.String()),
		zap.String("status", string(state.entry.Status)),
		zap.Int64("credited", state.credited),
		zap.Bool("duplicate", state.duplicate),
		zap.Bool("provisioned", state.provisioned),
	)

	return paymentdomain.ApplyPaymentResult{
		AccountID:     state.account.ID,
		EntryID:       state.entry.ID,
		Status:        state.entry.Status,
		Credited:      state.credited,
		Duplicate:     state.duplicate,
		SetupRequired: state.account.CredentialState == accountdomain.CredentialPending,
		SetupToken:    state.setupToken,
	}, nil
}

// openPurchase resolves the payer and inserts the pending purchase for a
// reference seen for the first time.
func (s *Service) openPurchase(ctx context.Context, tx *gorm.DB, ref, outcome string, req paymentdomain.ApplyPaymentRequest, now time.Time, state *reconcileState) (*ledgerdomain.Entry, error) {
	externalID := accountdomain.NormalizeCPF(req.PayerExternalID)
	var account *accountdomain.Account
	if externalID != "" {
		found, err := s.accounts.FindByExternalID(ctx, tx, externalID)
		if err != nil {
			return nil, err
		}
		account = found
	}

	if account == nil && outcome != paymentdomain.OutcomeApproved {
		return nil, &paymentdomain.UnknownPayerError{ExternalID: externalID}
	}
	// Only an approval needs a credit amount; other outcomes are recorded
	// with whatever the processor sent.
	if outcome == paymentdomain.OutcomeApproved && req.AmountCredits <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	if account == nil {
		profile := req.Profile
		profile.ExternalID = externalID
		provisioned, err := s.provisioner.ProvisionFromPayment(ctx, tx, profile)
		if err != nil {
			return nil, err
		}
		account = &provisioned.Account
		state.setupToken = provisioned.SetupToken
		state.provisioned = provisioned.Created
	}
	state.account = *account

	metadata := datatypes.JSONMap{"originalStatus": req.RawStatus}
	if req.PaidAmount != "" {
		metadata["originalAmount"] = req.PaidAmount
	}
	entry := ledgerdomain.Entry{
		ID:                 s.genID.Generate(),
		AccountID:          account.ID,
		Kind:               ledgerdomain.KindPurchase,
		Amount:             req.AmountCredits,
		Status:             ledgerdomain.StatusPending,
		ExternalPaymentRef: &ref,
		Description:        fmt.Sprintf("Compra de %d créditos - %s", req.AmountCredits, ref),
		Plan:               strings.TrimSpace(req.Profile.PlanTier),
		Metadata:           metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if _, err := s.ledger.InsertEntryIgnore(ctx, tx, &entry); err != nil {
		return nil, err
	}

	stored, err := s.ledger.FindByPaymentRef(ctx, tx, ref)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, paymentdomain.ErrInvalidTransaction
	}
	if stored.AccountID != account.ID {
		// A concurrent delivery opened the entry first; follow its account.
		state.account = accountdomain.Account{}
	}
	return stored, nil
}

func (s *Service) reconcile(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.Entry, outcome string, req paymentdomain.ApplyPaymentRequest, now time.Time, state *reconcileState) error {
	state.entry = *entry
	if entry.Kind != ledgerdomain.KindPurchase {
		return paymentdomain.ErrInvalidTransaction
	}

	switch entry.Status {
	case ledgerdomain.StatusCompleted:
		state.duplicate = true
		return nil
	case ledgerdomain.StatusFailed:
		state.duplicate = true
		s.log.Info("payment notification for failed purchase ignored",
			zap.String("entry_id", entry.ID.String()),
			zap.String("status", outcome),
		)
		return nil
	}

	var (
		target ledgerdomain.EntryStatus
		amount int64
	)
	switch outcome {
	case paymentdomain.OutcomeApproved:
		target = ledgerdomain.StatusCompleted
		amount = req.AmountCredits
		if amount <= 0 {
			amount = entry.Amount
		}
		if amount <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
	case paymentdomain.OutcomeCancelled, paymentdomain.OutcomeRefunded:
		target = ledgerdomain.StatusFailed
	default:
		target = ledgerdomain.EntryStatus(outcome)
	}
	if target == entry.Status {
		state.duplicate = true
		return nil
	}

	moved, err := s.ledger.TransitionStatus(ctx, tx, ledgerdomain.Transition{
		EntryID: entry.ID,
		From:    []ledgerdomain.EntryStatus{entry.Status},
		To:      target,
		Amount:  amount,
		At:      now,
	})
	if err != nil {
		return err
	}
	if !moved {
		state.duplicate = true
		return nil
	}

	state.entry.Status = target
	state.entry.UpdatedAt = now
	if target != ledgerdomain.StatusCompleted {
		return nil
	}

	state.entry.Amount = amount
	if err := s.ledger.IncrementBalance(ctx, tx, entry.AccountID, amount, now); err != nil {
		return err
	}
	state.credited = amount

	if tier, ok := accountdomain.ParsePlanTier(strings.ToLower(strings.TrimSpace(req.Profile.PlanTier))); ok && tier != state.account.PlanTier {
		if err := s.accounts.UpdatePlanTier(ctx, tx, entry.AccountID, tier, now); err != nil {
			return err
		}
		state.account.PlanTier = tier
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, tx *gorm.DB, provider, ref, outcome string, req paymentdomain.ApplyPaymentRequest, now time.Time) (*paymentdomain.EventRecord, error) {
	event := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: ref + ":" + outcome,
		TransactionRef:  ref,
		Status:          outcome,
		ReceivedAt:      now,
	}
	if len(req.Payload) > 0 {
		event.Payload = datatypes.JSON(req.Payload)
	}
	inserted, err := s.repo.InsertEvent(ctx, tx, &event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}
	return &event, nil
}

func (s *Service) secretMatches(presented string) bool {
	if s.secret == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.secret), []byte(presented)) == 1
}

func (s *Service) InitiatePurchase(ctx context.Context, req paymentdomain.PurchaseRequest) (paymentdomain.PurchaseResult, error) {
	if req.AccountID == 0 {
		return paymentdomain.PurchaseResult{}, paymentdomain.ErrAccountNotFound
	}
	plan, err := s.plans.Resolve(ctx, req.Plan)
	if err != nil {
		return paymentdomain.PurchaseResult{}, err
	}

	now := time.Now().UTC()
	ref := paymentdomain.PurchaseRefPrefix + strings.ToLower(ulid.Make().String())
	entry := ledgerdomain.Entry{
		ID:                 s.genID.Generate(),
		AccountID:          req.AccountID,
		Kind:               ledgerdomain.KindPurchase,
		Amount:             plan.Credits,
		Status:             ledgerdomain.StatusPending,
		ExternalPaymentRef: &ref,
		Description:        "Compra de " + plan.Name,
		Plan:               string(plan.Type),
		Metadata: datatypes.JSONMap{
			"planId":     plan.ID.String(),
			"planName":   plan.Name,
			"priceCents": plan.PriceCents,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		_, found, err := s.ledger.GetBalance(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if !found {
			return paymentdomain.ErrAccountNotFound
		}
		return s.ledger.InsertEntry(ctx, tx, &entry)
	})
	if err != nil {
		return paymentdomain.PurchaseResult{}, err
	}

	s.log.Info("purchase initiated",
		zap.String("account_id", req.AccountID.String()),
		zap.String("transaction_ref", ref),
		zap.String("plan", plan.Code),
	)
	return paymentdomain.PurchaseResult{Entry: entry, Plan: plan}, nil
}
