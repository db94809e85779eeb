package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
)

var (
	ErrNotFound       = errors.New("analysis_not_found")
	ErrForbidden      = errors.New("analysis_forbidden")
	ErrInvalidTier    = errors.New("invalid_tier")
	ErrInvalidOutcome = errors.New("invalid_outcome")
	ErrInvalidStatus  = errors.New("invalid_status")
	ErrInvalidAccount = errors.New("invalid_account")
	// ErrNotCompleted is returned when an action needs a completed analysis.
	ErrNotCompleted = errors.New("analysis_not_completed")
)

type ReserveRequest struct {
	AccountID snowflake.ID
	Tier      string
	ImageURL  string
	ImageID   string
}

// SettleRequest is one pipeline callback. Result is stored verbatim.
type SettleRequest struct {
	JobID          snowflake.ID
	Outcome        string
	Result         json.RawMessage
	ErrorMessage   string
	ProcessingTime *float64
	ImageURL       string
	ImageID        string
}

type SettleResult struct {
	Job       Job
	Duplicate bool
	Refunded  int64
}

type ListRequest struct {
	AccountID snowflake.ID
	Status    string
	Tier      string
	Page      pagination.Page
}

type ListResult struct {
	Jobs     []Job
	PageInfo pagination.PageInfo
}

// View is an analysis as seen by a given caller. Non-owners only get the
// teaser.
type View struct {
	Job    Job
	Owner  bool
	Teaser *Teaser
}

type SharedView struct {
	Job       Job
	OwnerName string
}

type Dashboard struct {
	Total       int64
	Completed   int64
	Pending     int64
	SuccessRate int64
	Recent      []Job
}

type Service interface {
	Reserve(ctx context.Context, req ReserveRequest) (Job, error)
	Settle(ctx context.Context, req SettleRequest) (SettleResult, error)
	// Status returns a job only to its owner.
	Status(ctx context.Context, accountID, jobID snowflake.ID) (Job, error)
	Get(ctx context.Context, viewer *snowflake.ID, jobID snowflake.ID) (View, error)
	List(ctx context.Context, req ListRequest) (ListResult, error)
	SetVisibility(ctx context.Context, accountID, jobID snowflake.ID, public bool) (Job, error)
	GetShared(ctx context.Context, token string) (SharedView, error)
	Dashboard(ctx context.Context, accountID snowflake.ID) (Dashboard, error)
	// FailStale settles jobs that have not moved since cutoff as failed,
	// refunding them. It returns how many were settled.
	FailStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
