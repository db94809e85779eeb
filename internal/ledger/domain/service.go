package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
)

type ListRequest struct {
	AccountID snowflake.ID
	Page      pagination.Page
}

type ListResult struct {
	Entries  []Entry
	PageInfo pagination.PageInfo
}

type HistoryRequest struct {
	AccountID snowflake.ID
	Kind      string
	Status    string
	From      *time.Time
	To        *time.Time
	Page      pagination.Page
}

type HistoryResult struct {
	Entries  []Entry
	PageInfo pagination.PageInfo
	Stats    Stats
}

// AdjustRequest is an operator correction. A positive amount grants a bonus;
// a negative amount claws credits back as a usage entry with no job.
type AdjustRequest struct {
	AccountID snowflake.ID
	Amount    int64
	Reason    string
	Reference string
	Actor     string
}

type AdjustResult struct {
	Entry     Entry
	Duplicate bool
	Balance   int64
}

type AuditRequest struct {
	AfterID snowflake.ID
	Limit   int
}

type AuditResult struct {
	Scanned    int
	LastID     snowflake.ID
	Mismatches []BalanceSnapshot
}

// AuditSummary covers a full pass over every account. Drift sums the
// absolute difference of each mismatched account.
type AuditSummary struct {
	Scanned    int               `json:"scanned"`
	Mismatched int               `json:"mismatched"`
	Drift      int64             `json:"drift"`
	Mismatches []BalanceSnapshot `json:"mismatches"`
}

type Service interface {
	ListTransactions(ctx context.Context, req ListRequest) (ListResult, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResult, error)
	Adjust(ctx context.Context, req AdjustRequest) (AdjustResult, error)
	Verify(ctx context.Context, accountID snowflake.ID) (BalanceSnapshot, error)
	// Audit checks one batch of accounts and logs every mismatch. It never
	// writes.
	Audit(ctx context.Context, req AuditRequest) (AuditResult, error)
	AuditAll(ctx context.Context, batchSize int) (AuditSummary, error)
}
