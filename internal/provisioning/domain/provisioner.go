package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidPayer  = errors.New("invalid_payer")
	ErrNotFound      = errors.New("account_not_found")
	ErrAlreadyActive = errors.New("already_active")
	ErrForbidden     = errors.New("invalid_setup_token")
	ErrConflict      = errors.New("contact_taken")
)

// PlaceholderDomain is used for contact identifiers generated when a payer
// supplied none.
const PlaceholderDomain = "testematch.temp"

// PayerProfile is what the payment processor tells us about an unknown
// payer.
type PayerProfile struct {
	ExternalID string
	Name       string
	Email      string
	Phone      string
	PlanTier   string
}

type ProvisionResult struct {
	Account accountdomain.Account
	// SetupToken is only set when this call created the account.
	SetupToken string
	Created    bool
}

type CompleteSetupRequest struct {
	AccountID  snowflake.ID
	SetupToken string
	Email      string
	Password   string
}

type Service interface {
	// ProvisionFromPayment creates a pending-credential account with zero
	// balance inside the caller's transaction. Concurrent calls for the same
	// payer converge on one row.
	ProvisionFromPayment(ctx context.Context, tx *gorm.DB, profile PayerProfile) (ProvisionResult, error)
	// RotateSetupToken issues a fresh setup token for a pending account.
	RotateSetupToken(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (string, error)
	CompleteSetup(ctx context.Context, req CompleteSetupRequest) (accountdomain.Account, error)
}
