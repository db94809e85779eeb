package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists account identity and profile. Balance columns are
// written only by the ledger repository.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	// InsertIgnore inserts unless a row with the same external id or email
	// exists. It reports whether the row was written.
	InsertIgnore(ctx context.Context, db *gorm.DB, account *Account) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Account, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Account, error)
	UpdateProfile(ctx context.Context, db *gorm.DB, account *Account) error
	TouchLogin(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	UpdateRole(ctx context.Context, db *gorm.DB, id snowflake.ID, role Role, at time.Time) error
	UpdatePlanTier(ctx context.Context, db *gorm.DB, id snowflake.ID, tier PlanTier, at time.Time) error
	// SetSetupToken replaces the setup token hash of a pending account.
	SetSetupToken(ctx context.Context, db *gorm.DB, id snowflake.ID, hash string, at time.Time) (bool, error)
	// ActivateCredentials moves a pending account to active. It reports false
	// when the account was no longer pending.
	ActivateCredentials(ctx context.Context, db *gorm.DB, req ActivateCredentials) (bool, error)
}

type ActivateCredentials struct {
	AccountID    snowflake.ID
	PasswordHash string
	// Email replaces the contact identifier when non-empty and clears the
	// placeholder flag.
	Email string
	At    time.Time
}
