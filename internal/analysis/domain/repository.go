package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *Job) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Job, error)
	FindByShareToken(ctx context.Context, db *gorm.DB, token string) (*Job, error)
	// MarkProcessing moves a pending job to processing.
	MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	// Settle moves a non-terminal job to a terminal status. It reports false
	// when the job was already terminal.
	Settle(ctx context.Context, db *gorm.DB, update SettleUpdate) (bool, error)
	SetVisibility(ctx context.Context, db *gorm.DB, id snowflake.ID, public bool, shareToken *string, at time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter Filter, page pagination.Page) ([]Job, error)
	Count(ctx context.Context, db *gorm.DB, filter Filter) (int64, error)
	CountByStatus(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (StatusCounts, error)
	// ListStale returns non-terminal jobs last updated before cutoff, oldest
	// first.
	ListStale(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Job, error)
}

type SettleUpdate struct {
	JobID          snowflake.ID
	Status         Status
	Result         datatypes.JSON
	ErrorMessage   *string
	ProcessingTime *float64
	ImageURL       string
	ImageID        string
	At             time.Time
}

type Filter struct {
	AccountID snowflake.ID
	Status    Status
	Tier      string
}
