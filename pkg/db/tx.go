package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Transaction runs fn in a transaction. An error returned by fn comes back
// as is; a failure to begin or commit is reported as Unavailable.
func Transaction(ctx context.Context, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	var fnErr error
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err == nil || (fnErr != nil && errors.Is(err, fnErr)) {
		return err
	}
	return Unavailable(err)
}
