package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()

	enforcer, err := NewMemoryEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func actor(id int64, role accountdomain.Role) accountdomain.Account {
	return accountdomain.Account{
		ID:              snowflake.ID(id),
		Role:            role,
		IsActive:        true,
		CredentialState: accountdomain.CredentialActive,
	}
}

func TestAuthorizeByRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		role    accountdomain.Role
		object  string
		action  string
		allowed bool
	}{
		{"customer cannot verify", accountdomain.RoleCustomer, ObjectLedger, ActionLedgerVerify, false},
		{"support verifies", accountdomain.RoleSupport, ObjectLedger, ActionLedgerVerify, true},
		{"support views accounts", accountdomain.RoleSupport, ObjectAccount, ActionAccountView, true},
		{"support cannot adjust", accountdomain.RoleSupport, ObjectLedger, ActionLedgerAdjust, false},
		{"admin adjusts", accountdomain.RoleAdmin, ObjectLedger, ActionLedgerAdjust, true},
		{"admin audits", accountdomain.RoleAdmin, ObjectLedger, ActionLedgerAudit, true},
		{"admin inherits support", accountdomain.RoleAdmin, ObjectAccount, ActionAccountView, true},
		{"support reads audit logs", accountdomain.RoleSupport, ObjectAudit, ActionAuditView, true},
		{"customer cannot read audit logs", accountdomain.RoleCustomer, ObjectAudit, ActionAuditView, false},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, actor(int64(100+i), tc.role), tc.object, tc.action)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestRoleChangeReplacesGrouping(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, actor(7, accountdomain.RoleAdmin), ObjectLedger, ActionLedgerAdjust))
	err := svc.Authorize(ctx, actor(7, accountdomain.RoleCustomer), ObjectLedger, ActionLedgerAdjust)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeRejectsInactiveActor(t *testing.T) {
	svc := newTestService(t)

	pending := actor(9, accountdomain.RoleAdmin)
	pending.CredentialState = accountdomain.CredentialPending
	err := svc.Authorize(context.Background(), pending, ObjectLedger, ActionLedgerAudit)
	assert.ErrorIs(t, err, ErrInvalidActor)

	err = svc.Authorize(context.Background(), actor(9, accountdomain.RoleAdmin), "", ActionLedgerAudit)
	assert.ErrorIs(t, err, ErrInvalidObject)
}
