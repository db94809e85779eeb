package db

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"
)

func TestTransactionReturnsCallbackError(t *testing.T) {
	conn, err := NewTest()
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	sentinel := errors.New("insufficient")
	err = Transaction(context.Background(), conn, func(tx *gorm.DB) error {
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected callback error back unchanged, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("callback error must not be marked unavailable")
	}

	if err := Transaction(context.Background(), conn, func(tx *gorm.DB) error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestTransactionBeginFailureIsUnavailable(t *testing.T) {
	conn, err := NewTest()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	_ = sqlDB.Close()

	called := false
	err = Transaction(context.Background(), conn, func(tx *gorm.DB) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("callback ran without a transaction")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
