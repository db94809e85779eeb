package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type UpdateProfileRequest struct {
	AccountID   snowflake.ID
	Name        *string
	Phone       *string
	Preferences *Preferences
}

type DeactivateRequest struct {
	AccountID snowflake.ID
	Password  string
}

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (Account, error)
	UpdateProfile(ctx context.Context, req UpdateProfileRequest) (Account, error)
	Deactivate(ctx context.Context, req DeactivateRequest) error
	SetRole(ctx context.Context, id snowflake.ID, role Role) (Account, error)
}

var (
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidPhone    = errors.New("invalid_phone")
	ErrInvalidCPF      = errors.New("invalid_cpf")
	ErrInvalidPassword = errors.New("invalid_password")
	ErrInvalidRole     = errors.New("invalid_role")
	ErrNotFound        = errors.New("not_found")
	ErrEmailTaken      = errors.New("email_taken")
	ErrCPFTaken        = errors.New("cpf_taken")
	ErrWrongPassword   = errors.New("wrong_password")
)
