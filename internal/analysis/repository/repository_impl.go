package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/internal/analysis/domain"
	"github.com/smallbiznis/testematch/pkg/db"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"gorm.io/gorm"
)

const jobColumns = `id, account_id, tier, status, credits_reserved, image_url, image_id, result,
	error_message, processing_time, is_public, share_token, settled_at, created_at, updated_at`

var openStatuses = []string{string(domain.StatusPending), string(domain.StatusProcessing)}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, job *domain.Job) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO analysis_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.AccountID,
		job.Tier,
		job.Status,
		job.CreditsReserved,
		job.ImageURL,
		job.ImageID,
		job.Result,
		job.ErrorMessage,
		job.ProcessingTime,
		job.IsPublic,
		job.ShareToken,
		job.SettledAt,
		job.CreatedAt,
		job.UpdatedAt,
	).Error
	return db.Unavailable(err)
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Job, error) {
	return r.findOne(ctx, conn, `id = ?`, id)
}

func (r *repo) FindByShareToken(ctx context.Context, conn *gorm.DB, token string) (*domain.Job, error) {
	return r.findOne(ctx, conn, `share_token = ?`, token)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.Job, error) {
	var rows []domain.Job
	err := conn.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&rows).Error
	if err != nil {
		return nil, db.Unavailable(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) MarkProcessing(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE analysis_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusProcessing, at, id, domain.StatusPending,
	)
	if res.Error != nil {
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Settle(ctx context.Context, conn *gorm.DB, u domain.SettleUpdate) (bool, error) {
	sets := []string{"status = ?", "settled_at = ?", "updated_at = ?"}
	args := []any{u.Status, u.At, u.At}
	if len(u.Result) > 0 {
		sets = append(sets, "result = ?")
		args = append(args, u.Result)
	}
	if u.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *u.ErrorMessage)
	}
	if u.ProcessingTime != nil {
		sets = append(sets, "processing_time = ?")
		args = append(args, *u.ProcessingTime)
	}
	if u.ImageURL != "" {
		sets = append(sets, "image_url = ?")
		args = append(args, u.ImageURL)
	}
	if u.ImageID != "" {
		sets = append(sets, "image_id = ?")
		args = append(args, u.ImageID)
	}
	args = append(args, u.JobID, openStatuses)

	res := conn.WithContext(ctx).Exec(
		`UPDATE analysis_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status IN ?`,
		args...,
	)
	if res.Error != nil {
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetVisibility(ctx context.Context, conn *gorm.DB, id snowflake.ID, public bool, shareToken *string, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE analysis_jobs SET is_public = ?, share_token = COALESCE(share_token, ?), updated_at = ?
		 WHERE id = ? AND status = ?`,
		public, shareToken, at, id, domain.StatusCompleted,
	)
	if res.Error != nil {
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func applyFilter(filter domain.Filter) (string, []any) {
	clauses := []string{"account_id = ?"}
	args := []any{filter.AccountID}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Tier != "" {
		clauses = append(clauses, "tier = ?")
		args = append(args, filter.Tier)
	}
	return strings.Join(clauses, " AND "), args
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.Filter, page pagination.Page) ([]domain.Job, error) {
	where, args := applyFilter(filter)
	args = append(args, page.Limit, page.Offset())

	var jobs []domain.Job
	err := conn.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE `+where+`
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...,
	).Scan(&jobs).Error
	if err != nil {
		return nil, db.Unavailable(err)
	}
	return jobs, nil
}

func (r *repo) Count(ctx context.Context, conn *gorm.DB, filter domain.Filter) (int64, error) {
	where, args := applyFilter(filter)
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM analysis_jobs WHERE `+where,
		args...,
	).Scan(&total).Error
	if err != nil {
		return 0, db.Unavailable(err)
	}
	return total, nil
}

func (r *repo) CountByStatus(ctx context.Context, conn *gorm.DB, accountID snowflake.ID) (domain.StatusCounts, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS total FROM analysis_jobs WHERE account_id = ? GROUP BY status`,
		accountID,
	).Scan(&rows).Error
	if err != nil {
		return domain.StatusCounts{}, db.Unavailable(err)
	}

	var counts domain.StatusCounts
	for _, row := range rows {
		counts.Total += row.Total
		switch domain.Status(row.Status) {
		case domain.StatusPending:
			counts.Pending = row.Total
		case domain.StatusProcessing:
			counts.Processing = row.Total
		case domain.StatusCompleted:
			counts.Completed = row.Total
		case domain.StatusFailed:
			counts.Failed = row.Total
		}
	}
	return counts, nil
}

func (r *repo) ListStale(ctx context.Context, conn *gorm.DB, cutoff time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []domain.Job
	err := conn.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM analysis_jobs
		 WHERE status IN ? AND updated_at < ?
		 ORDER BY updated_at, id LIMIT ?`,
		openStatuses, cutoff.UTC(), limit,
	).Scan(&jobs).Error
	if err != nil {
		return nil, db.Unavailable(err)
	}
	return jobs, nil
}
