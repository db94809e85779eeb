package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PlanType string

const (
	TypeBasic       PlanType = "basic"
	TypeComplete    PlanType = "complete"
	TypeCreditsPack PlanType = "credits_pack"
)

func (t PlanType) Valid() bool {
	switch t {
	case TypeBasic, TypeComplete, TypeCreditsPack:
		return true
	}
	return false
}

// Plan is a credit pack offered for sale. Prices are in centavos.
type Plan struct {
	ID                 snowflake.ID `json:"id"`
	Code               string       `json:"code"`
	Name               string       `json:"name"`
	Type               PlanType     `json:"type"`
	PriceCents         int64        `json:"price_cents"`
	OriginalPriceCents int64        `json:"original_price_cents,omitempty"`
	DiscountPercentage int          `json:"discount_percentage,omitempty"`
	Credits            int64        `json:"credits"`
	Description        string       `json:"description"`
	Features           []string     `json:"features"`
	IsActive           bool         `json:"is_active"`
	SortOrder          int          `json:"sort_order"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}
