package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/testematch/internal/audit/domain"
	"github.com/smallbiznis/testematch/pkg/db"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, actor_type, actor_id, action, target_type, target_id,
			metadata, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Metadata,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	).Error
	if err != nil {
		return db.Unavailable(err)
	}
	return nil
}

func applyFilter(filter domain.ListFilter) (string, []any) {
	clauses := []string{"1 = 1"}
	args := []any{}
	if action := strings.TrimSpace(filter.Action); action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, action)
	}
	if targetType := strings.TrimSpace(filter.TargetType); targetType != "" {
		clauses = append(clauses, "target_type = ?")
		args = append(args, targetType)
	}
	if targetID := strings.TrimSpace(filter.TargetID); targetID != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, targetID)
	}
	if actorType := strings.TrimSpace(filter.ActorType); actorType != "" {
		clauses = append(clauses, "actor_type = ?")
		args = append(args, actorType)
	}
	if filter.StartAt != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.EndAt.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter, page pagination.Page) ([]domain.AuditLog, error) {
	where, args := applyFilter(filter)
	args = append(args, page.Limit, page.Offset())

	var logs []domain.AuditLog
	err := conn.WithContext(ctx).Raw(
		`SELECT id, actor_type, actor_id, action, target_type, target_id,
		        metadata, ip_address, user_agent, created_at
		 FROM audit_logs
		 WHERE `+where+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		args...,
	).Scan(&logs).Error
	if err != nil {
		return nil, db.Unavailable(err)
	}
	return logs, nil
}

func (r *repo) Count(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) (int64, error) {
	where, args := applyFilter(filter)
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM audit_logs WHERE `+where,
		args...,
	).Scan(&total).Error
	if err != nil {
		return 0, db.Unavailable(err)
	}
	return total, nil
}
