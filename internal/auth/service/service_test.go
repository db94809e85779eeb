package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	accountrepo "github.com/smallbiznis/testematch/internal/account/repository"
	authdomain "github.com/smallbiznis/testematch/internal/auth/domain"
	"github.com/smallbiznis/testematch/internal/auth/password"
	"github.com/smallbiznis/testematch/internal/auth/token"
	"github.com/smallbiznis/testematch/internal/migration"
	"github.com/smallbiznis/testematch/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   authdomain.Service
	db    *gorm.DB
	repo  accountdomain.Repository
	genID *snowflake.Node
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := migration.ApplySchema(dbConn); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	issuer, err := token.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	repo := accountrepo.Provide()

	svc := New(Params{
		DB:       dbConn,
		Log:      zap.NewNop(),
		GenID:    node,
		Accounts: repo,
		Issuer:   issuer,
	})
	return fixture{svc: svc, db: dbConn, repo: repo, genID: node}
}

func validRegistration() authdomain.RegisterRequest {
	return authdomain.RegisterRequest{
		Name:     "Maria Silva",
		Email:    "Maria@Example.com",
		Password: "secret123",
		Phone:    "(11) 98765-4321",
		CPF:      "529.982.247-25",
	}
}

func TestRegisterCreatesCustomerWithZeroBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Register(ctx, validRegistration())
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if session.Token == "" {
		t.Fatal("expected token")
	}
	acc := session.Account
	if acc.Email != "maria@example.com" {
		t.Fatalf("expected normalized email, got %q", acc.Email)
	}
	if acc.ExternalID != "52998224725" {
		t.Fatalf("expected normalized cpf, got %q", acc.ExternalID)
	}
	if acc.Balance != 0 || acc.PlanTier != accountdomain.PlanFree || acc.Role != accountdomain.RoleCustomer {
		t.Fatalf("unexpected defaults: %+v", acc)
	}

	authed, err := f.svc.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if authed.ID != acc.ID {
		t.Fatalf("expected account %s, got %s", acc.ID, authed.ID)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, validRegistration()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	sameEmail := validRegistration()
	sameEmail.CPF = "111.444.777-35"
	if _, err := f.svc.Register(ctx, sameEmail); !errors.Is(err, accountdomain.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	sameCPF := validRegistration()
	sameCPF.Email = "other@example.com"
	if _, err := f.svc.Register(ctx, sameCPF); !errors.Is(err, accountdomain.ErrCPFTaken) {
		t.Fatalf("expected ErrCPFTaken, got %v", err)
	}
}

func TestRegisterValidatesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*authdomain.RegisterRequest)
		want   error
	}{
		{"short name", func(r *authdomain.RegisterRequest) { r.Name = "M" }, accountdomain.ErrInvalidName},
		{"bad email", func(r *authdomain.RegisterRequest) { r.Email = "not-an-email" }, accountdomain.ErrInvalidEmail},
		{"short password", func(r *authdomain.RegisterRequest) { r.Password = "123" }, accountdomain.ErrInvalidPassword},
		{"bad phone", func(r *authdomain.RegisterRequest) { r.Phone = "123" }, accountdomain.ErrInvalidPhone},
		{"bad cpf", func(r *authdomain.RegisterRequest) { r.CPF = "111.111.111-11" }, accountdomain.ErrInvalidCPF},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRegistration()
			tc.mutate(&req)
			if _, err := f.svc.Register(ctx, req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, validRegistration()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err := f.svc.Login(ctx, authdomain.LoginRequest{Email: "maria@example.com", Password: "wrong-password"})
	if !errors.Is(err, authdomain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	session, err := f.svc.Login(ctx, authdomain.LoginRequest{Email: "MARIA@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.Account.LastLoginAt == nil {
		t.Fatal("expected last login to be set")
	}
}

func TestLoginPendingAccountRequiresSetup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unusable, err := password.Unusable()
	if err != nil {
		t.Fatalf("unusable hash: %v", err)
	}
	now := time.Now().UTC()
	pending := accountdomain.Account{
		ID:              f.genID.Generate(),
		ExternalID:      "11144477735",
		Email:           "pending@example.com",
		Name:            "Pending",
		PasswordHash:    unusable,
		CredentialState: accountdomain.CredentialPending,
		PlanTier:        accountdomain.PlanFree,
		Role:            accountdomain.RoleCustomer,
		IsActive:        true,
		Preferences:     accountdomain.DefaultPreferences(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := f.repo.Insert(ctx, f.db, &pending); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	_, err = f.svc.Login(ctx, authdomain.LoginRequest{Email: "pending@example.com", Password: "anything"})
	if !errors.Is(err, authdomain.ErrSetupRequired) {
		t.Fatalf("expected ErrSetupRequired, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pending.ID); !errors.Is(err, authdomain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticateRejectsDeactivatedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Register(ctx, validRegistration())
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := f.repo.Deactivate(ctx, f.db, session.Account.ID, time.Now().UTC()); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	if _, err := f.svc.Authenticate(ctx, session.Token); !errors.Is(err, authdomain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "garbage"); !errors.Is(err, authdomain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage token, got %v", err)
	}
}
