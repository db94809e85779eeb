// Package ledgertest holds database fixtures shared by tests that touch
// balances.
package ledgertest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	accountrepo "github.com/smallbiznis/testematch/internal/account/repository"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/testematch/internal/ledger/repository"
	"github.com/smallbiznis/testematch/internal/migration"
	"github.com/smallbiznis/testematch/pkg/db"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB opens an in-memory database with the production schema applied.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.ApplySchema(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

var nodeSeq atomic.Int64

// NewNode hands out a distinct node number per call, so ids from two
// nodes in one test never collide within a millisecond.
func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()

	node, err := snowflake.NewNode(nodeSeq.Add(1) % 1024)
	require.NoError(t, err)
	return node
}

// CreateAccount inserts an active customer. A positive balance is granted
// through a completed bonus entry so the ledger stays consistent.
func CreateAccount(t *testing.T, conn *gorm.DB, node *snowflake.Node, externalID string, balance int64) accountdomain.Account {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()
	acc := accountdomain.Account{
		ID:              node.Generate(),
		ExternalID:      externalID,
		Email:           "user_" + externalID + "@example.com",
		Name:            "Cliente " + externalID,
		PasswordHash:    "!unusable",
		CredentialState: accountdomain.CredentialActive,
		PlanTier:        accountdomain.PlanFree,
		Role:            accountdomain.RoleCustomer,
		IsActive:        true,
		Preferences:     accountdomain.DefaultPreferences(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, accountrepo.Provide().Insert(ctx, conn, &acc))

	if balance > 0 {
		repo := ledgerrepo.Provide()
		require.NoError(t, repo.InsertEntry(ctx, conn, &ledgerdomain.Entry{
			ID:          node.Generate(),
			AccountID:   acc.ID,
			Kind:        ledgerdomain.KindBonus,
			Amount:      balance,
			Status:      ledgerdomain.StatusCompleted,
			Description: "fixture",
			CreatedAt:   now,
			UpdatedAt:   now,
		}))
		require.NoError(t, repo.IncrementBalance(ctx, conn, acc.ID, balance, now))
		acc.Balance = balance
	}
	return acc
}

func Balance(t *testing.T, conn *gorm.DB, accountID snowflake.ID) int64 {
	t.Helper()

	balance, found, err := ledgerrepo.Provide().GetBalance(context.Background(), conn, accountID)
	require.NoError(t, err)
	require.True(t, found, "account %s not found", accountID)
	return balance
}

func CountEntries(t *testing.T, conn *gorm.DB, accountID snowflake.ID, kind ledgerdomain.EntryKind) int64 {
	t.Helper()

	var total int64
	require.NoError(t, conn.Raw(
		`SELECT COUNT(*) FROM ledger_entries WHERE account_id = ? AND kind = ?`,
		accountID, kind,
	).Scan(&total).Error)
	return total
}

// RequireConsistent asserts that the balance equals the sum of completed
// entries.
func RequireConsistent(t *testing.T, conn *gorm.DB, accountID snowflake.ID) {
	t.Helper()

	sum, err := ledgerrepo.Provide().SumCompleted(context.Background(), conn, accountID)
	require.NoError(t, err)
	require.Equal(t, sum, Balance(t, conn, accountID), "balance differs from ledger for %s", accountID)
}
