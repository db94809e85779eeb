package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

var (
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidReference = errors.New("invalid_reference")
	ErrInvalidFilter    = errors.New("invalid_filter")
	ErrAccountNotFound  = errors.New("account_not_found")
	// ErrReferenceConflict is returned when an adjustment reference was
	// already used for a different account or amount.
	ErrReferenceConflict = errors.New("reference_conflict")
)

// InsufficientCreditsError reports a debit the balance could not cover.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// InconsistencyWarning describes ledger state that needs out-of-band
// reconciliation. It is logged, never returned to callers.
type InconsistencyWarning struct {
	AccountID snowflake.ID
	JobID     snowflake.ID
	Balance   int64
	LedgerSum int64
	Reason    string
}

func (w InconsistencyWarning) Error() string {
	return "ledger inconsistency: " + w.Reason
}

func (w InconsistencyWarning) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("account_id", w.AccountID.String()),
		zap.Int64("balance", w.Balance),
		zap.Int64("ledger_sum", w.LedgerSum),
		zap.String("reason", w.Reason),
	}
	if w.JobID != 0 {
		fields = append(fields, zap.String("analysis_id", w.JobID.String()))
	}
	return fields
}
