package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("plan_not_found")
	ErrInvalidPlan = errors.New("invalid_plan")
)

type SeedResult struct {
	Created int
	Updated int
}

type Service interface {
	ListActive(ctx context.Context) ([]Plan, error)
	ListAll(ctx context.Context) ([]Plan, error)
	// Resolve finds an active plan by id or code.
	Resolve(ctx context.Context, idOrCode string) (Plan, error)
	// Seed upserts every plan of the configured catalog by code.
	Seed(ctx context.Context) (SeedResult, error)
}
