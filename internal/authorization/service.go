package authorization

import (
	"context"
	"errors"

	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service decides whether an account may perform an operator action.
type Service interface {
	Authorize(ctx context.Context, actor accountdomain.Account, object string, action string) error
}
