package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/internal/account/domain"
	"github.com/smallbiznis/testematch/pkg/db"
	"gorm.io/gorm"
)

const accountColumns = `id, external_id, email, name, phone, password_hash, credential_state,
	contact_placeholder, setup_token_hash, balance, plan_tier, role, is_active, preferences,
	last_login_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, account *domain.Account) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insertArgs(account)...,
	).Error
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return db.Unavailable(err)
	}
	return err
}

func (r *repo) InsertIgnore(ctx context.Context, conn *gorm.DB, account *domain.Account) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		insertArgs(account)...,
	)
	if res.Error != nil {
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func insertArgs(a *domain.Account) []any {
	return []any{
		a.ID,
		a.ExternalID,
		a.Email,
		a.Name,
		a.Phone,
		a.PasswordHash,
		a.CredentialState,
		a.ContactPlaceholder,
		a.SetupTokenHash,
		a.Balance,
		a.PlanTier,
		a.Role,
		a.IsActive,
		a.Preferences,
		a.LastLoginAt,
		a.CreatedAt,
		a.UpdatedAt,
	}
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	return r.findOne(ctx, conn, `id = ?`, id)
}

func (r *repo) FindByEmail(ctx context.Context, conn *gorm.DB, email string) (*domain.Account, error) {
	return r.findOne(ctx, conn, `email = ?`, email)
}

func (r *repo) FindByExternalID(ctx context.Context, conn *gorm.DB, externalID string) (*domain.Account, error) {
	return r.findOne(ctx, conn, `external_id = ?`, externalID)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.Account, error) {
	var account domain.Account
	err := conn.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM accounts WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&account).Error
	if err != nil {
		return nil, db.Unavailable(err)
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) UpdateProfile(ctx context.Context, conn *gorm.DB, account *domain.Account) error {
	err := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET name = ?, phone = ?, preferences = ?, updated_at = ? WHERE id = ?`,
		account.Name,
		account.Phone,
		account.Preferences,
		account.UpdatedAt,
		account.ID,
	).Error
	return db.Unavailable(err)
}

func (r *repo) TouchLogin(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) error {
	err := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET last_login_at = ?, updated_at = ? WHERE id = ?`,
		at, at, id,
	).Error
	return db.Unavailable(err)
}

func (r *repo) Deactivate(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) error {
	err := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`,
		false, at, id,
	).Error
	return db.Unavailable(err)
}

func (r *repo) UpdateRole(ctx context.Context, conn *gorm.DB, id snowflake.ID, role domain.Role, at time.Time) error {
	err := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET role = ?, updated_at = ? WHERE id = ?`,
		role, at, id,
	).Error
	return db.Unavailable(err)
}

func (r *repo) UpdatePlanTier(ctx context.Context, conn *gorm.DB, id snowflake.ID, tier domain.PlanTier, at time.Time) error {
	err := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET plan_tier = ?, updated_at = ? WHERE id = ?`,
		tier, at, id,
	).Error
	return db.Unavailable(err)
}

func (r *repo) SetSetupToken(ctx context.Context, conn *gorm.DB, id snowflake.ID, hash string, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET setup_token_hash = ?, updated_at = ? WHERE id = ? AND credential_state = ?`,
		hash, at, id, domain.CredentialPending,
	)
	if res.Error != nil {
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ActivateCredentials(ctx context.Context, conn *gorm.DB, req domain.ActivateCredentials) (bool, error) {
	var res *gorm.DB
	if req.Email != "" {
		res = conn.WithContext(ctx).Exec(
			`UPDATE accounts
			 SET password_hash = ?, credential_state = ?, setup_token_hash = NULL,
			     email = ?, contact_placeholder = ?, updated_at = ?
			 WHERE id = ? AND credential_state = ?`,
			req.PasswordHash, domain.CredentialActive,
			req.Email, false, req.At,
			req.AccountID, domain.CredentialPending,
		)
	} else {
		res = conn.WithContext(ctx).Exec(
			`UPDATE accounts
			 SET password_hash = ?, credential_state = ?, setup_token_hash = NULL, updated_at = ?
			 WHERE id = ? AND credential_state = ?`,
			req.PasswordHash, domain.CredentialActive, req.At,
			req.AccountID, domain.CredentialPending,
		)
	}
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, res.Error
		}
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}
