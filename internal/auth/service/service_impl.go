package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	"github.com/smallbiznis/testematch/internal/auth/domain"
	"github.com/smallbiznis/testematch/internal/auth/password"
	"github.com/smallbiznis/testematch/internal/auth/token"
	"github.com/smallbiznis/testematch/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Accounts accountdomain.Repository
	Issuer   *token.Issuer
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	accounts accountdomain.Repository
	issuer   *token.Issuer
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("auth.service"),
		genID:    p.GenID,
		accounts: p.Accounts,
		issuer:   p.Issuer,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.Session, error) {
	name := strings.TrimSpace(req.Name)
	if !accountdomain.ValidName(name) {
		return domain.Session{}, accountdomain.ErrInvalidName
	}
	email := accountdomain.NormalizeEmail(req.Email)
	if !accountdomain.ValidEmail(email) {
		return domain.Session{}, accountdomain.ErrInvalidEmail
	}
	if len(req.Password) < password.MinLength {
		return domain.Session{}, accountdomain.ErrInvalidPassword
	}
	if !accountdomain.ValidPhone(req.Phone) {
		return domain.Session{}, accountdomain.ErrInvalidPhone
	}
	if !accountdomain.ValidCPF(req.CPF) {
		return domain.Session{}, accountdomain.ErrInvalidCPF
	}
	cpf := accountdomain.NormalizeCPF(req.CPF)

	if err := s.ensureAvailable(ctx, email, cpf); err != nil {
		return domain.Session{}, err
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return domain.Session{}, err
	}

	now := time.Now().UTC()
	account := accountdomain.Account{
		ID:              s.genID.Generate(),
		ExternalID:      cpf,
		Email:           email,
		Name:            name,
		Phone:           accountdomain.NormalizePhone(req.Phone),
		PasswordHash:    hashed,
		CredentialState: accountdomain.CredentialActive,
		PlanTier:        accountdomain.PlanFree,
		Role:            accountdomain.RoleCustomer,
		IsActive:        true,
		Preferences:     accountdomain.DefaultPreferences(),
		LastLoginAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.accounts.Insert(ctx, s.db, &account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Lost a race with another registration; report which key.
			if err := s.ensureAvailable(ctx, email, cpf); err != nil {
				return domain.Session{}, err
			}
			return domain.Session{}, accountdomain.ErrEmailTaken
		}
		return domain.Session{}, err
	}

	s.log.Info("account registered", zap.String("account_id", account.ID.String()))
	return s.IssueFor(ctx, account)
}

func (s *Service) ensureAvailable(ctx context.Context, email, cpf string) error {
	existing, err := s.accounts.FindByEmail(ctx, s.db, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return accountdomain.ErrEmailTaken
	}
	existing, err = s.accounts.FindByExternalID(ctx, s.db, cpf)
	if err != nil {
		return err
	}
	if existing != nil {
		return accountdomain.ErrCPFTaken
	}
	return nil
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (domain.Session, error) {
	email := accountdomain.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return domain.Session{}, domain.ErrInvalidCredentials
	}

	account, err := s.accounts.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.Session{}, err
	}
	if account == nil {
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	if !account.IsActive {
		return domain.Session{}, domain.ErrAccountInactive
	}
	if account.CredentialState == accountdomain.CredentialPending {
		return domain.Session{}, domain.ErrSetupRequired
	}
	if !password.Verify(req.Password, account.PasswordHash) {
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	if account.CredentialState != accountdomain.CredentialActive {
		return domain.Session{}, domain.ErrAccountInactive
	}

	now := time.Now().UTC()
	if err := s.accounts.TouchLogin(ctx, s.db, account.ID, now); err != nil {
		return domain.Session{}, err
	}
	account.LastLoginAt = &now

	return s.IssueFor(ctx, *account)
}

func (s *Service) Refresh(ctx context.Context, accountID snowflake.ID) (domain.Session, error) {
	account, err := s.accounts.FindByID(ctx, s.db, accountID)
	if err != nil {
		return domain.Session{}, err
	}
	if account == nil || !account.CanAuthenticate() {
		return domain.Session{}, domain.ErrUnauthorized
	}
	return s.IssueFor(ctx, *account)
}

func (s *Service) IssueFor(_ context.Context, account accountdomain.Account) (domain.Session, error) {
	if !account.CanAuthenticate() {
		return domain.Session{}, domain.ErrUnauthorized
	}
	tok, err := s.issuer.Issue(account.ID)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		Account:   account,
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

func (s *Service) Authenticate(ctx context.Context, raw string) (accountdomain.Account, error) {
	id, err := s.issuer.Parse(raw)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return accountdomain.Account{}, err
		}
		return accountdomain.Account{}, domain.ErrUnauthorized
	}
	account, err := s.accounts.FindByID(ctx, s.db, id)
	if err != nil {
		return accountdomain.Account{}, err
	}
	if account == nil || !account.CanAuthenticate() {
		return accountdomain.Account{}, domain.ErrUnauthorized
	}
	return *account, nil
}
