package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/testematch/pkg/db/pagination"
)

// Record describes an action to log. Empty actor fields fall back to the
// actor attached to the request context, then to "system".
type Record struct {
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
}

type ListRequest struct {
	pagination.Page
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListResult struct {
	Logs     []AuditLog          `json:"audit_logs"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Record(ctx context.Context, rec Record) error
	List(ctx context.Context, req ListRequest) (ListResult, error)
}

var (
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
