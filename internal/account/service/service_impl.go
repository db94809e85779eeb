package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/internal/account/domain"
	"github.com/smallbiznis/testematch/internal/auth/password"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("account.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	if id == 0 {
		return domain.Account{}, domain.ErrInvalidID
	}
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) UpdateProfile(ctx context.Context, req domain.UpdateProfileRequest) (domain.Account, error) {
	account, err := s.GetByID(ctx, req.AccountID)
	if err != nil {
		return domain.Account{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if !domain.ValidName(name) {
			return domain.Account{}, domain.ErrInvalidName
		}
		account.Name = name
	}
	if req.Phone != nil {
		if !domain.ValidPhone(*req.Phone) {
			return domain.Account{}, domain.ErrInvalidPhone
		}
		account.Phone = domain.NormalizePhone(*req.Phone)
	}
	if req.Preferences != nil {
		account.Preferences = *req.Preferences
	}
	account.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateProfile(ctx, s.db, &account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

// Deactivate soft-deletes the account. History stays in the ledger.
func (s *Service) Deactivate(ctx context.Context, req domain.DeactivateRequest) error {
	account, err := s.GetByID(ctx, req.AccountID)
	if err != nil {
		return err
	}
	if req.Password == "" {
		return domain.ErrInvalidPassword
	}
	if !password.Verify(req.Password, account.PasswordHash) {
		return domain.ErrWrongPassword
	}
	if err := s.repo.Deactivate(ctx, s.db, account.ID, time.Now().UTC()); err != nil {
		return err
	}
	s.log.Info("account deactivated", zap.String("account_id", account.ID.String()))
	return nil
}

func (s *Service) SetRole(ctx context.Context, id snowflake.ID, role domain.Role) (domain.Account, error) {
	if !role.Valid() {
		return domain.Account{}, domain.ErrInvalidRole
	}
	account, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	now := time.Now().UTC()
	if err := s.repo.UpdateRole(ctx, s.db, id, role, now); err != nil {
		return domain.Account{}, err
	}
	s.log.Info("account role changed",
		zap.String("account_id", id.String()),
		zap.String("from", string(account.Role)),
		zap.String("to", string(role)),
	)
	account.Role = role
	account.UpdatedAt = now
	return account, nil
}
