package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem  ActorType = "system"
	ActorTypeAccount ActorType = "account"
	ActorTypeCLI     ActorType = "cli"
)

const (
	ActionLedgerAdjust = "ledger.adjust"
	ActionLedgerAudit  = "ledger.audit"
	ActionAccountRole  = "account.role"
)

const (
	TargetAccount = "account"
	TargetLedger  = "ledger"
)

// AuditLog records one operator action. Rows are append-only.
type AuditLog struct {
	ID         snowflake.ID      `json:"id"`
	ActorType  string            `json:"actor_type"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   *string           `json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type Repository interface {
	Insert(ctx context.Context, conn *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, conn *gorm.DB, filter ListFilter, page pagination.Page) ([]AuditLog, error)
	Count(ctx context.Context, conn *gorm.DB, filter ListFilter) (int64, error)
}
