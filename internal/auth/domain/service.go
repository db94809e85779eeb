package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
)

type RegisterRequest struct {
	Name     string
	Email    string
	Password string
	Phone    string
	CPF      string
}

type LoginRequest struct {
	Email    string
	Password string
}

// Session is an issued bearer token and the account it belongs to.
type Session struct {
	Account   accountdomain.Account
	Token     string
	ExpiresAt time.Time
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (Session, error)
	Login(ctx context.Context, req LoginRequest) (Session, error)
	Refresh(ctx context.Context, accountID snowflake.ID) (Session, error)
	// IssueFor mints a session for an account that was just activated.
	IssueFor(ctx context.Context, account accountdomain.Account) (Session, error)
	// Authenticate resolves a bearer token to an account allowed to act.
	Authenticate(ctx context.Context, token string) (accountdomain.Account, error)
}
