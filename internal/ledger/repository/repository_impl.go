package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/internal/ledger/domain"
	"github.com/smallbiznis/testematch/pkg/db"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const entryColumns = `le.id, le.account_id, le.kind, le.amount, le.status, le.external_payment_ref,
	le.adjustment_ref, le.related_job_id, le.description, le.plan, le.metadata, le.created_at, le.updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type entryRow struct {
	ID                 snowflake.ID
	AccountID          snowflake.ID
	Kind               string
	Amount             int64
	Status             string
	ExternalPaymentRef *string
	AdjustmentRef      *string
	RelatedJobID       *snowflake.ID
	Description        string
	Plan               string
	Metadata           datatypes.JSONMap
	CreatedAt          time.Time
	UpdatedAt          time.Time
	JobTier            *string
	JobStatus          *string
}

func (r entryRow) toDomain() domain.Entry {
	entry := domain.Entry{
		ID:                 r.ID,
		AccountID:          r.AccountID,
		Kind:               domain.EntryKind(r.Kind),
		Amount:             r.Amount,
		Status:             domain.EntryStatus(r.Status),
		ExternalPaymentRef: r.ExternalPaymentRef,
		AdjustmentRef:      r.AdjustmentRef,
		RelatedJobID:       r.RelatedJobID,
		Description:        r.Description,
		Plan:               r.Plan,
		Metadata:           r.Metadata,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.RelatedJobID != nil && r.JobTier != nil {
		summary := &domain.JobSummary{ID: *r.RelatedJobID, Tier: *r.JobTier}
		if r.JobStatus != nil {
			summary.Status = *r.JobStatus
		}
		entry.RelatedJob = summary
	}
	return entry
}

func (r *repo) IncrementBalance(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, amount int64, at time.Time) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	res := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`,
		amount, at, accountID,
	)
	if res.Error != nil {
		return db.Unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *repo) DecrementIfSufficient(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, amount int64, at time.Time) (bool, error) {
	if amount <= 0 {
		return false, domain.ErrInvalidAmount
	}
	res := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE id = ? AND balance >= ?`,
		amount, at, accountID, amount,
	)
	if res.Error != nil {
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) GetBalance(ctx context.Context, conn *gorm.DB, accountID snowflake.ID) (int64, bool, error) {
	var rows []struct {
		Balance int64
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT balance FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&rows).Error
	if err != nil {
		return 0, false, db.Unavailable(err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Balance, true, nil
}

const insertEntrySQL = `INSERT INTO ledger_entries (
		id, account_id, kind, amount, status, external_payment_ref, adjustment_ref,
		related_job_id, description, plan, metadata, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func entryArgs(e *domain.Entry) []any {
	return []any{
		e.ID,
		e.AccountID,
		e.Kind,
		e.Amount,
		e.Status,
		e.ExternalPaymentRef,
		e.AdjustmentRef,
		e.RelatedJobID,
		e.Description,
		e.Plan,
		e.Metadata,
		e.CreatedAt,
		e.UpdatedAt,
	}
}

// InsertEntry is for rows whose keys are freshly generated; any failure,
// a unique violation included, is a store fault.
func (r *repo) InsertEntry(ctx context.Context, conn *gorm.DB, entry *domain.Entry) error {
	return db.Unavailable(conn.WithContext(ctx).Exec(insertEntrySQL, entryArgs(entry)...).Error)
}

func (r *repo) InsertEntryIgnore(ctx context.Context, conn *gorm.DB, entry *domain.Entry) (bool, error) {
	res := conn.WithContext(ctx).Exec(insertEntrySQL+` ON CONFLICT DO NOTHING`, entryArgs(entry)...)
	if res.Error != nil {
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Entry, error) {
	return r.findOne(ctx, conn, `le.id = ?`, id)
}

func (r *repo) FindByPaymentRef(ctx context.Context, conn *gorm.DB, ref string) (*domain.Entry, error) {
	return r.findOne(ctx, conn, `le.external_payment_ref = ?`, ref)
}

func (r *repo) FindByAdjustmentRef(ctx context.Context, conn *gorm.DB, ref string) (*domain.Entry, error) {
	return r.findOne(ctx, conn, `le.adjustment_ref = ?`, ref)
}

func (r *repo) FindRefundForJob(ctx context.Context, conn *gorm.DB, jobID snowflake.ID) (*domain.Entry, error) {
	return r.findOne(ctx, conn, `le.related_job_id = ? AND le.kind = 'refund'`, jobID)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, where string, args ...any) (*domain.Entry, error) {
	var rows []entryRow
	err := conn.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM ledger_entries le WHERE `+where+` LIMIT 1`,
		args...,
	).Scan(&rows).Error
	if err != nil {
		return nil, db.Unavailable(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	entry := rows[0].toDomain()
	return &entry, nil
}

func (r *repo) TransitionStatus(ctx context.Context, conn *gorm.DB, req domain.Transition) (bool, error) {
	if len(req.From) == 0 {
		return false, nil
	}
	from := make([]string, 0, len(req.From))
	for _, status := range req.From {
		from = append(from, string(status))
	}

	var res *gorm.DB
	if req.Amount > 0 {
		res = conn.WithContext(ctx).Exec(
			`UPDATE ledger_entries SET status = ?, amount = ?, updated_at = ? WHERE id = ? AND status IN ?`,
			req.To, req.Amount, req.At, req.EntryID, from,
		)
	} else {
		res = conn.WithContext(ctx).Exec(
			`UPDATE ledger_entries SET status = ?, updated_at = ? WHERE id = ? AND status IN ?`,
			req.To, req.At, req.EntryID, from,
		)
	}
	if res.Error != nil {
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func applyFilter(filter domain.Filter) (string, []any) {
	clauses := []string{"le.account_id = ?"}
	args := []any{filter.AccountID}
	if filter.Kind != "" {
		clauses = append(clauses, "le.kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Status != "" {
		clauses = append(clauses, "le.status = ?")
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		clauses = append(clauses, "le.created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		clauses = append(clauses, "le.created_at <= ?")
		args = append(args, filter.To.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.Filter, page pagination.Page) ([]domain.Entry, error) {
	where, args := applyFilter(filter)
	args = append(args, page.Limit, page.Offset())

	var rows []entryRow
	err := conn.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`, aj.tier AS job_tier, aj.status AS job_status
		 FROM ledger_entries le
		 LEFT JOIN analysis_jobs aj ON aj.id = le.related_job_id
		 WHERE `+where+`
		 ORDER BY le.created_at DESC, le.id DESC
		 LIMIT ? OFFSET ?`,
		args...,
	).Scan(&rows).Error
	if err != nil {
		return nil, db.Unavailable(err)
	}

	entries := make([]domain.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

func (r *repo) Count(ctx context.Context, conn *gorm.DB, filter domain.Filter) (int64, error) {
	where, args := applyFilter(filter)
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM ledger_entries le WHERE `+where,
		args...,
	).Scan(&total).Error
	if err != nil {
		return 0, db.Unavailable(err)
	}
	return total, nil
}

// Stats honours the account and date range of the filter but always counts
// completed rows of every kind.
func (r *repo) Stats(ctx context.Context, conn *gorm.DB, filter domain.Filter) (domain.Stats, error) {
	where, args := applyFilter(domain.Filter{
		AccountID: filter.AccountID,
		Status:    domain.StatusCompleted,
		From:      filter.From,
		To:        filter.To,
	})

	var rows []struct {
		Kind  string
		Total int64
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT le.kind AS kind, CAST(COALESCE(SUM(le.amount), 0) AS BIGINT) AS total
		 FROM ledger_entries le
		 WHERE `+where+`
		 GROUP BY le.kind`,
		args...,
	).Scan(&rows).Error
	if err != nil {
		return domain.Stats{}, db.Unavailable(err)
	}

	var stats domain.Stats
	for _, row := range rows {
		switch domain.EntryKind(row.Kind) {
		case domain.KindPurchase:
			stats.TotalPurchased = row.Total
		case domain.KindUsage:
			stats.TotalUsed = -row.Total
		case domain.KindRefund:
			stats.TotalRefunded = row.Total
		case domain.KindBonus:
			stats.TotalBonus = row.Total
		}
	}
	return stats, nil
}

func (r *repo) SumCompleted(ctx context.Context, conn *gorm.DB, accountID snowflake.ID) (int64, error) {
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT)
		 FROM ledger_entries
		 WHERE account_id = ? AND status = 'completed'`,
		accountID,
	).Scan(&total).Error
	if err != nil {
		return 0, db.Unavailable(err)
	}
	return total, nil
}

func (r *repo) ListSnapshots(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]domain.BalanceSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []struct {
		AccountID snowflake.ID
		Balance   int64
		LedgerSum int64
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT a.id AS account_id, a.balance AS balance,
		        CAST(COALESCE((
		            SELECT SUM(le.amount) FROM ledger_entries le
		            WHERE le.account_id = a.id AND le.status = 'completed'
		        ), 0) AS BIGINT) AS ledger_sum
		 FROM accounts a
		 WHERE a.id > ?
		 ORDER BY a.id
		 LIMIT ?`,
		afterID, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, db.Unavailable(err)
	}

	snapshots := make([]domain.BalanceSnapshot, 0, len(rows))
	for _, row := range rows {
		snapshots = append(snapshots, domain.BalanceSnapshot{
			AccountID: row.AccountID,
			Balance:   row.Balance,
			LedgerSum: row.LedgerSum,
		})
	}
	return snapshots, nil
}
