package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EntryKind string

const (
	KindPurchase EntryKind = "purchase"
	KindUsage    EntryKind = "usage"
	KindRefund   EntryKind = "refund"
	KindBonus    EntryKind = "bonus"
)

func ParseKind(raw string) (EntryKind, bool) {
	switch EntryKind(raw) {
	case KindPurchase, KindUsage, KindRefund, KindBonus:
		return EntryKind(raw), true
	}
	return "", false
}

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

// Terminal reports whether the entry can no longer change status.
func (s EntryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Entry is one row of the append-only credit log. Amount carries the sign
// of its balance effect: usage rows are negative, every other kind positive.
// A purchase that never completed may carry zero. Only completed rows count
// towards the balance.
//
// Processor transactions are keyed on ExternalPaymentRef and operator
// adjustments on AdjustmentRef; the two never share a unique index.
type Entry struct {
	ID                 snowflake.ID      `json:"id"`
	AccountID          snowflake.ID      `json:"account_id"`
	Kind               EntryKind         `json:"type"`
	Amount             int64             `json:"amount"`
	Status             EntryStatus       `json:"status"`
	ExternalPaymentRef *string           `json:"payment_id,omitempty"`
	AdjustmentRef      *string           `json:"adjustment_ref,omitempty"`
	RelatedJobID       *snowflake.ID     `json:"analysis_id,omitempty"`
	Description        string            `json:"description"`
	Plan               string            `json:"plan,omitempty"`
	Metadata           datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`

	// RelatedJob is filled by list queries only.
	RelatedJob *JobSummary `json:"analysis,omitempty"`
}

// Effect is the balance delta the entry contributes once completed.
func (e Entry) Effect() int64 {
	if e.Status != StatusCompleted {
		return 0
	}
	return e.Amount
}

type JobSummary struct {
	ID     snowflake.ID `json:"id"`
	Tier   string       `json:"tier"`
	Status string       `json:"status"`
}

// Stats sums completed entries by kind. Used is reported as a positive
// number.
type Stats struct {
	TotalPurchased int64 `json:"totalPurchased"`
	TotalUsed      int64 `json:"totalUsed"`
	TotalRefunded  int64 `json:"totalRefunded"`
	TotalBonus     int64 `json:"totalBonus"`
}

// BalanceSnapshot pairs the stored balance with the sum of completed
// entries for one account.
type BalanceSnapshot struct {
	AccountID snowflake.ID `json:"account_id"`
	Balance   int64        `json:"balance"`
	LedgerSum int64        `json:"ledger_sum"`
}

func (b BalanceSnapshot) Consistent() bool {
	return b.Balance == b.LedgerSum
}

func (b BalanceSnapshot) Drift() int64 {
	return b.Balance - b.LedgerSum
}
