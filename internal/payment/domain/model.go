package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	plandomain "github.com/smallbiznis/testematch/internal/plan/domain"
	provisioningdomain "github.com/smallbiznis/testematch/internal/provisioning/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ProviderAppmax = "appmax"

	OutcomeApproved  = "approved"
	OutcomePending   = "pending"
	OutcomeCancelled = "cancelled"
	OutcomeRefunded  = "refunded"

	// PurchaseRefPrefix marks references generated by purchase initiation.
	PurchaseRefPrefix = "pur_"
)

var (
	ErrForbidden          = errors.New("invalid_webhook_secret")
	ErrInvalidTransaction = errors.New("invalid_transaction_id")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidAmount      = errors.New("invalid_credits")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrAccountNotFound    = errors.New("account_not_found")
)

// UnknownPayerError is returned when a non-approved notification names a
// payer with no account.
type UnknownPayerError struct {
	ExternalID string
}

func (e *UnknownPayerError) Error() string {
	return "unknown_payer"
}

// NormalizeStatus maps processor statuses to outcomes. Unmapped values pass
// through lower-cased.
func NormalizeStatus(raw string) string {
	status := strings.ToLower(strings.TrimSpace(raw))
	switch status {
	case "aprovado", "autorizado":
		return OutcomeApproved
	case "pendente":
		return OutcomePending
	case "cancelado":
		return OutcomeCancelled
	case "reembolsado":
		return OutcomeRefunded
	}
	return status
}

// EventRecord is one received processor notification, kept for audit.
type EventRecord struct {
	ID              snowflake.ID
	Provider        string
	ProviderEventID string
	TransactionRef  string
	Status          string
	Payload         datatypes.JSON
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

type Repository interface {
	// InsertEvent reports false when the same provider event was already
	// recorded.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type ApplyPaymentRequest struct {
	SharedSecret    string
	Provider        string
	TransactionRef  string
	PayerExternalID string
	AmountCredits   int64
	// Outcome is the normalized status. RawStatus is what the processor sent.
	Outcome    string
	RawStatus  string
	PaidAmount string
	Profile    provisioningdomain.PayerProfile
	Payload    json.RawMessage
}

type ApplyPaymentResult struct {
	AccountID     snowflake.ID
	EntryID       snowflake.ID
	Status        ledgerdomain.EntryStatus
	Credited      int64
	Duplicate     bool
	SetupRequired bool
	// SetupToken is only returned when a fresh token was issued.
	SetupToken string
}

type PurchaseRequest struct {
	AccountID snowflake.ID
	// Plan is a plan id or code.
	Plan string
}

type PurchaseResult struct {
	Entry ledgerdomain.Entry
	Plan  plandomain.Plan
}

type Service interface {
	// VerifySecret returns ErrForbidden unless presented matches the
	// configured webhook secret.
	VerifySecret(presented string) error
	ApplyPayment(ctx context.Context, req ApplyPaymentRequest) (ApplyPaymentResult, error)
	InitiatePurchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error)
}
