package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/testematch/internal/plan/domain"
	"github.com/smallbiznis/testematch/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const planColumns = `id, code, name, type, price_cents, original_price_cents, discount_percentage,
	credits, description, features, is_active, sort_order, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type planRow struct {
	ID                 snowflake.ID
	Code               string
	Name               string
	Type               string
	PriceCents         int64
	OriginalPriceCents int64
	DiscountPercentage int
	Credits            int64
	Description        string
	Features           datatypes.JSON
	IsActive           bool
	SortOrder          int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (r planRow) toDomain() domain.Plan {
	var features []string
	if len(r.Features) > 0 {
		_ = json.Unmarshal(r.Features, &features)
	}
	if features == nil {
		features = []string{}
	}
	return domain.Plan{
		ID:                 r.ID,
		Code:               r.Code,
		Name:               r.Name,
		Type:               domain.PlanType(r.Type),
		PriceCents:         r.PriceCents,
		OriginalPriceCents: r.OriginalPriceCents,
		DiscountPercentage: r.DiscountPercentage,
		Credits:            r.Credits,
		Description:        r.Description,
		Features:           features,
		IsActive:           r.IsActive,
		SortOrder:          r.SortOrder,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (r *repo) Upsert(ctx context.Context, conn *gorm.DB, plan *domain.Plan) (bool, error) {
	features, err := json.Marshal(plan.Features)
	if err != nil {
		return false, err
	}

	existing, err := r.FindByCode(ctx, conn, plan.Code)
	if err != nil {
		return false, err
	}
	if existing != nil {
		plan.ID = existing.ID
		plan.CreatedAt = existing.CreatedAt
		err := conn.WithContext(ctx).Exec(
			`UPDATE plans SET name = ?, type = ?, price_cents = ?, original_price_cents = ?,
			     discount_percentage = ?, credits = ?, description = ?, features = ?,
			     is_active = ?, sort_order = ?, updated_at = ?
			 WHERE id = ?`,
			plan.Name, plan.Type, plan.PriceCents, plan.OriginalPriceCents,
			plan.DiscountPercentage, plan.Credits, plan.Description, datatypes.JSON(features),
			plan.IsActive, plan.SortOrder, plan.UpdatedAt,
			plan.ID,
		).Error
		return false, db.Unavailable(err)
	}

	res := conn.WithContext(ctx).Exec(
		`INSERT INTO plans (`+planColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		plan.ID, plan.Code, plan.Name, plan.Type, plan.PriceCents, plan.OriginalPriceCents,
		plan.DiscountPercentage, plan.Credits, plan.Description, datatypes.JSON(features),
		plan.IsActive, plan.SortOrder, plan.CreatedAt, plan.UpdatedAt,
	)
	if res.Error != nil {
		return false, db.Unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	return r.findOne(ctx, conn, `id = ?`, id)
}

func (r *repo) FindByCode(ctx context.Context, conn *gorm.DB, code string) (*domain.Plan, error) {
	return r.findOne(ctx, conn, `code = ?`, code)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, where string, arg any) (*domain.Plan, error) {
	var rows []planRow
	err := conn.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&rows).Error
	if err != nil {
		return nil, db.Unavailable(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	plan := rows[0].toDomain()
	return &plan, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, activeOnly bool) ([]domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	args := []any{}
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY sort_order, id`

	var rows []planRow
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, db.Unavailable(err)
	}

	plans := make([]domain.Plan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, row.toDomain())
	}
	return plans, nil
}
