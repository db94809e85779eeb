package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	"github.com/smallbiznis/testematch/internal/auth/password"
	obsmetrics "github.com/smallbiznis/testematch/internal/observability/metrics"
	"github.com/smallbiznis/testematch/internal/provisioning/domain"
	"github.com/smallbiznis/testematch/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Accounts   accountdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	accounts   accountdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("provisioning.service"),
		genID:      p.GenID,
		accounts:   p.Accounts,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ProvisionFromPayment(ctx context.Context, tx *gorm.DB, profile domain.PayerProfile) (domain.ProvisionResult, error) {
	externalID := accountdomain.NormalizeCPF(profile.ExternalID)
	if externalID == "" {
		return domain.ProvisionResult{}, domain.ErrInvalidPayer
	}

	existing, err := s.accounts.FindByExternalID(ctx, tx, externalID)
	if err != nil {
		return domain.ProvisionResult{}, err
	}
	if existing != nil {
		return domain.ProvisionResult{Account: *existing}, nil
	}

	email, placeholder, err := s.contactFor(ctx, tx, externalID, profile.Email)
	if err != nil {
		return domain.ProvisionResult{}, err
	}

	token, hash, err := newSetupToken()
	if err != nil {
		return domain.ProvisionResult{}, err
	}
	unusable, err := password.Unusable()
	if err != nil {
		return domain.ProvisionResult{}, err
	}

	tier := accountdomain.PlanFree
	if parsed, ok := accountdomain.ParsePlanTier(strings.ToLower(strings.TrimSpace(profile.PlanTier))); ok {
		tier = parsed
	}
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = "Cliente"
	}

	now := time.Now().UTC()
	account := accountdomain.Account{
		ID:                 s.genID.Generate(),
		ExternalID:         externalID,
		Email:              email,
		Name:               name,
		Phone:              accountdomain.NormalizePhone(profile.Phone),
		PasswordHash:       unusable,
		CredentialState:    accountdomain.CredentialPending,
		ContactPlaceholder: placeholder,
		SetupTokenHash:     &hash,
		PlanTier:           tier,
		Role:               accountdomain.RoleCustomer,
		IsActive:           true,
		Preferences:        accountdomain.DefaultPreferences(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	inserted, err := s.accounts.InsertIgnore(ctx, tx, &account)
	if err != nil {
		return domain.ProvisionResult{}, err
	}
	if !inserted {
		// Either another delivery provisioned this payer, or the email was
		// claimed in between. Prefer the former.
		winner, err := s.accounts.FindByExternalID(ctx, tx, externalID)
		if err != nil {
			return domain.ProvisionResult{}, err
		}
		if winner != nil {
			return domain.ProvisionResult{Account: *winner}, nil
		}
		if placeholder {
			return domain.ProvisionResult{}, domain.ErrConflict
		}
		account.Email = placeholderEmail(externalID)
		account.ContactPlaceholder = true
		inserted, err = s.accounts.InsertIgnore(ctx, tx, &account)
		if err != nil {
			return domain.ProvisionResult{}, err
		}
		if !inserted {
			return domain.ProvisionResult{}, domain.ErrConflict
		}
	}

	s.obsMetrics.RecordProvisioned(ctx)
	s.log.Info("placeholder account provisioned",
		zap.String("account_id", account.ID.String()),
		zap.Bool("contact_placeholder", account.ContactPlaceholder),
	)
	return domain.ProvisionResult{Account: account, SetupToken: token, Created: true}, nil
}

func (s *Service) contactFor(ctx context.Context, tx *gorm.DB, externalID, raw string) (string, bool, error) {
	email := accountdomain.NormalizeEmail(raw)
	if email == "" || !accountdomain.ValidEmail(email) {
		return placeholderEmail(externalID), true, nil
	}
	taken, err := s.accounts.FindByEmail(ctx, tx, email)
	if err != nil {
		return "", false, err
	}
	if taken != nil {
		return placeholderEmail(externalID), true, nil
	}
	return email, false, nil
}

func (s *Service) RotateSetupToken(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (string, error) {
	token, hash, err := newSetupToken()
	if err != nil {
		return "", err
	}
	ok, err := s.accounts.SetSetupToken(ctx, tx, accountID, hash, time.Now().UTC())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrAlreadyActive
	}
	return token, nil
}

func (s *Service) CompleteSetup(ctx context.Context, req domain.CompleteSetupRequest) (accountdomain.Account, error) {
	if len(req.Password) < password.MinLength {
		return accountdomain.Account{}, accountdomain.ErrInvalidPassword
	}
	email := accountdomain.NormalizeEmail(req.Email)
	if email != "" && !accountdomain.ValidEmail(email) {
		return accountdomain.Account{}, accountdomain.ErrInvalidEmail
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return accountdomain.Account{}, err
	}

	var activated accountdomain.Account
	err = db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		account, err := s.accounts.FindByID(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrNotFound
		}
		if account.CredentialState != accountdomain.CredentialPending {
			return domain.ErrAlreadyActive
		}
		if !tokenMatches(account.SetupTokenHash, req.SetupToken) {
			return domain.ErrForbidden
		}

		if email == account.Email {
			email = ""
		}
		if email != "" {
			other, err := s.accounts.FindByEmail(ctx, tx, email)
			if err != nil {
				return err
			}
			if other != nil && other.ID != account.ID {
				return domain.ErrConflict
			}
		}

		ok, err := s.accounts.ActivateCredentials(ctx, tx, accountdomain.ActivateCredentials{
			AccountID:    account.ID,
			PasswordHash: hashed,
			Email:        email,
			At:           time.Now().UTC(),
		})
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrConflict
			}
			return err
		}
		if !ok {
			return domain.ErrAlreadyActive
		}

		reloaded, err := s.accounts.FindByID(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		activated = *reloaded
		return nil
	})
	if err != nil {
		return accountdomain.Account{}, err
	}

	s.log.Info("account setup completed", zap.String("account_id", activated.ID.String()))
	return activated, nil
}

func placeholderEmail(externalID string) string {
	return "user_" + externalID + "@" + domain.PlaceholderDomain
}

func newSetupToken() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token := hex.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(stored *string, presented string) bool {
	presented = strings.TrimSpace(presented)
	if stored == nil || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(hashToken(presented))) == 1
}
