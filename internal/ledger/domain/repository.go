package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository owns the balance column and the ledger_entries table. Balance
// changes are relative updates; callers pair each one with an entry inside
// the same transaction.
type Repository interface {
	IncrementBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID, amount int64, at time.Time) error
	// DecrementIfSufficient reports false, without writing, when the balance
	// is below amount or the account does not exist.
	DecrementIfSufficient(ctx context.Context, db *gorm.DB, accountID snowflake.ID, amount int64, at time.Time) (bool, error)
	GetBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, bool, error)

	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) error
	// InsertEntryIgnore skips the insert when a unique key (payment
	// reference, adjustment reference, refund per job, usage per job) is
	// already taken.
	InsertEntryIgnore(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entry, error)
	FindByPaymentRef(ctx context.Context, db *gorm.DB, ref string) (*Entry, error)
	FindByAdjustmentRef(ctx context.Context, db *gorm.DB, ref string) (*Entry, error)
	FindRefundForJob(ctx context.Context, db *gorm.DB, jobID snowflake.ID) (*Entry, error)
	TransitionStatus(ctx context.Context, db *gorm.DB, req Transition) (bool, error)

	List(ctx context.Context, db *gorm.DB, filter Filter, page pagination.Page) ([]Entry, error)
	Count(ctx context.Context, db *gorm.DB, filter Filter) (int64, error)
	Stats(ctx context.Context, db *gorm.DB, filter Filter) (Stats, error)
	SumCompleted(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error)
	// ListSnapshots returns accounts with id greater than afterID in id order.
	ListSnapshots(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]BalanceSnapshot, error)
}

// Transition moves an entry to To only while its status is one of From.
// A positive Amount replaces the stored amount in the same update.
type Transition struct {
	EntryID snowflake.ID
	From    []EntryStatus
	To      EntryStatus
	Amount  int64
	At      time.Time
}

type Filter struct {
	AccountID snowflake.ID
	Kind      EntryKind
	Status    EntryStatus
	From      *time.Time
	To        *time.Time
}
