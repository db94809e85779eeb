package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountInactive    = errors.New("account_inactive")
	// ErrSetupRequired is returned for accounts provisioned from a payment
	// whose owner has not chosen a password yet.
	ErrSetupRequired = errors.New("setup_required")
	ErrUnauthorized  = errors.New("unauthorized")
)
