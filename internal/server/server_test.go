package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	accountrepo "github.com/smallbiznis/testematch/internal/account/repository"
	accountservice "github.com/smallbiznis/testematch/internal/account/service"
	analysisrepo "github.com/smallbiznis/testematch/internal/analysis/repository"
	analysisservice "github.com/smallbiznis/testematch/internal/analysis/service"
	"github.com/smallbiznis/testematch/internal/analysis/report"
	auditrepo "github.com/smallbiznis/testematch/internal/audit/repository"
	auditservice "github.com/smallbiznis/testematch/internal/audit/service"
	authservice "github.com/smallbiznis/testematch/internal/auth/service"
	"github.com/smallbiznis/testematch/internal/auth/token"
	"github.com/smallbiznis/testematch/internal/authorization"
	"github.com/smallbiznis/testematch/internal/config"
	"github.com/smallbiznis/testematch/internal/ledger/ledgertest"
	ledgerrepo "github.com/smallbiznis/testematch/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/testematch/internal/ledger/service"
	"github.com/smallbiznis/testematch/internal/observability"
	paymentrepo "github.com/smallbiznis/testematch/internal/payment/repository"
	paymentservice "github.com/smallbiznis/testematch/internal/payment/service"
	planrepo "github.com/smallbiznis/testematch/internal/plan/repository"
	planservice "github.com/smallbiznis/testematch/internal/plan/service"
	provisioningservice "github.com/smallbiznis/testematch/internal/provisioning/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testPaymentSecret = "appmax-secret"
	testFrontendURL   = "https://app.testematch.test"
)

type testServer struct {
	db     *gorm.DB
	engine *gin.Engine
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := ledgertest.NewDB(t)
	node := ledgertest.NewNode(t)
	log := zap.NewNop()
	cfg := config.Config{
		Environment:          "test",
		FrontendURL:          testFrontendURL,
		PaymentWebhookSecret: testPaymentSecret,
	}
	catalog := config.NewStaticCatalog(config.DefaultCatalog())
	accounts := accountrepo.Provide()
	ledgerRepo := ledgerrepo.Provide()

	issuer, err := token.NewIssuer("server-test-secret", time.Hour)
	require.NoError(t, err)

	plans := planservice.NewService(planservice.Params{
		DB: conn, Log: log, GenID: node, Repo: planrepo.Provide(), Catalog: catalog,
	})
	_, err = plans.Seed(context.Background())
	require.NoError(t, err)

	provisioner := provisioningservice.NewService(provisioningservice.Params{
		DB: conn, Log: log, GenID: node, Accounts: accounts,
	})
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	engine := NewEngine(observability.Config{Environment: "test"}, nil)
	NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Authsvc:    authservice.New(authservice.Params{DB: conn, Log: log, GenID: node, Accounts: accounts, Issuer: issuer}),
		AccountSvc: accountservice.New(accountservice.Params{DB: conn, Log: log, Repo: accounts}),
		AuthzSvc:   authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer}),
		AuditSvc:   auditservice.NewService(auditservice.Params{DB: conn, Log: log, GenID: node, Repo: auditrepo.Provide()}),
		LedgerSvc:  ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: log, GenID: node, Repo: ledgerRepo}),
		AnalysisSvc: analysisservice.NewService(analysisservice.Params{
			DB: conn, Log: log, GenID: node, Repo: analysisrepo.Provide(),
			Ledger: ledgerRepo, Accounts: accounts, Catalog: catalog,
		}),
		PlanSvc: plans,
		PaymentSvc: paymentservice.NewService(paymentservice.Params{
			DB: conn, Log: log, GenID: node, Cfg: cfg, Repo: paymentrepo.Provide(),
			Ledger: ledgerRepo, Accounts: accounts, Provisioner: provisioner, Plans: plans,
		}),
		Provisioner: provisioner,
		Reports:     report.New(),
	})

	return testServer{db: conn, engine: engine}
}

func (s testServer) do(t *testing.T, method, path string, body any, bearer string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func (s testServer) register(t *testing.T) (string, string) {
	t.Helper()

	rec, body := s.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"name":     "Maria Souza",
		"email":    "maria@example.com",
		"password": "segredo123",
		"phone":    "(11) 98765-4321",
		"cpf":      "529.982.247-25",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := body["data"].(map[string]any)
	account := data["account"].(map[string]any)
	return data["token"].(string), account["id"].(string)
}

func errorType(body map[string]any) string {
	payload, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	kind, _ := payload["type"].(string)
	return kind
}

func TestRegisterLoginAndProfile(t *testing.T) {
	s := newTestServer(t)

	token, _ := s.register(t)
	require.NotEmpty(t, token)

	rec, body := s.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "MARIA@example.com",
		"password": "segredo123",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loginToken := body["data"].(map[string]any)["token"].(string)

	rec, body = s.do(t, http.MethodGet, "/api/auth/profile", nil, loginToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := body["data"].(map[string]any)
	assert.Equal(t, "maria@example.com", profile["email"])
	assert.NotContains(t, profile, "password_hash")

	rec, body = s.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "maria@example.com",
		"password": "errada123",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorType(body))
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	s := newTestServer(t)
	s.register(t)

	rec, body := s.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"name":     "Maria Souza",
		"email":    "maria@example.com",
		"password": "segredo123",
		"phone":    "(11) 98765-4321",
		"cpf":      "111.444.777-35",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorType(body))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodGet, "/api/credits", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorType(body))

	rec, _ = s.do(t, http.MethodGet, "/api/credits", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadWithoutCreditsIsPaymentRequired(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t)

	rec, body := s.do(t, http.MethodPost, "/api/upload", map[string]any{
		"plan":     "basic",
		"imageUrl": "https://cdn.example.com/a.jpg",
	}, token)
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

	payload := body["error"].(map[string]any)
	assert.Equal(t, "insufficient_credits", payload["type"])
	assert.EqualValues(t, 1, payload["required"])
	assert.EqualValues(t, 0, payload["available"])
}

func TestUploadReservesCredits(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t)

	rec, _ := s.do(t, http.MethodPost, "/api/webhook/appmax", map[string]any{
		"transactionId":  "tx-credit",
		"status":         "aprovado",
		"credits":        "5",
		"cpf":            "529.982.247-25",
		"WEBHOOK_SECRET": testPaymentSecret,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body := s.do(t, http.MethodPost, "/api/upload", map[string]any{
		"plan":     "complete",
		"imageUrl": "https://cdn.example.com/a.jpg",
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["data"].(map[string]any)["id"])

	rec, body = s.do(t, http.MethodGet, "/api/credits", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, body["data"].(map[string]any)["credits"])
}

func TestPaymentWebhookProvisionsUnknownPayer(t *testing.T) {
	s := newTestServer(t)

	notification := map[string]any{
		"transactionId":  "tx-new",
		"status":         "aprovado",
		"credits":        1000,
		"amount":         "29.90",
		"name":           "João Lima",
		"email":          "joao@example.com",
		"cpf":            "111.444.777-35",
		"plan":           "basic",
		"WEBHOOK_SECRET": testPaymentSecret,
	}
	rec, body := s.do(t, http.MethodPost, "/api/webhook/appmax", notification, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["setupRequired"])
	assert.Equal(t, false, data["duplicate"])
	assert.EqualValues(t, 1000, data["credited"])
	link, ok := data["setupPasswordUrl"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(link, testFrontendURL+"/setup-password/"))

	// Redelivery credits nothing and issues no new link.
	rec, body = s.do(t, http.MethodPost, "/api/webhook/appmax", notification, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := body["data"].(map[string]any)
	assert.Equal(t, true, again["duplicate"])
	assert.Nil(t, again["setupPasswordUrl"])

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	setupPath := "/api/auth" + parsed.Path
	setupToken := parsed.Query().Get("token")
	require.NotEmpty(t, setupToken)

	rec, body = s.do(t, http.MethodPost, setupPath, map[string]any{
		"token":    setupToken,
		"password": "novasenha1",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := body["data"].(map[string]any)
	assert.NotEmpty(t, session["token"])

	rec, body = s.do(t, http.MethodGet, "/api/credits", nil, session["token"].(string))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1000, body["data"].(map[string]any)["credits"])

	rec, body = s.do(t, http.MethodPost, setupPath, map[string]any{
		"token":    setupToken,
		"password": "outrasenha1",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_active", errorType(body))
}

func TestPaymentWebhookRejectsWrongSecret(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/api/webhook/appmax", map[string]any{
		"transactionId":  "tx-bad",
		"status":         "aprovado",
		"credits":        "10",
		"cpf":            "111.444.777-35",
		"WEBHOOK_SECRET": "wrong",
	}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorType(body))

	var count int64
	require.NoError(t, s.db.Raw(`SELECT COUNT(*) FROM accounts`).Scan(&count).Error)
	assert.Zero(t, count)
}

func TestPaymentWebhookChecksSecretBeforePayload(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/api/webhook/appmax", map[string]any{
		"transactionId":  "tx-bad",
		"status":         "aprovado",
		"credits":        "10.5",
		"cpf":            "111.444.777-35",
		"WEBHOOK_SECRET": "wrong",
	}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorType(body))
}

func TestPaymentWebhookRejectsBadCredits(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/api/webhook/appmax", map[string]any{
		"transactionId":  "tx-frac",
		"status":         "aprovado",
		"credits":        "10.5",
		"cpf":            "111.444.777-35",
		"WEBHOOK_SECRET": testPaymentSecret,
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(body))
}

func TestAdminRoutesRequireRole(t *testing.T) {
	s := newTestServer(t)
	token, accountID := s.register(t)

	rec, body := s.do(t, http.MethodGet, "/admin/accounts/"+accountID+"/ledger/verify", nil, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorType(body))

	account, err := accountrepo.Provide().FindByEmail(context.Background(), s.db, "maria@example.com")
	require.NoError(t, err)
	require.NotNil(t, account)
	require.NoError(t, accountrepo.Provide().UpdateRole(context.Background(), s.db, account.ID, accountdomain.RoleAdmin, time.Now().UTC()))

	rec, body = s.do(t, http.MethodGet, "/admin/accounts/"+accountID+"/ledger/verify", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["consistent"])
	assert.EqualValues(t, 0, data["drift"])

	rec, body = s.do(t, http.MethodPost, "/admin/accounts/"+accountID+"/adjustments", map[string]any{
		"amount":    25,
		"reason":    "goodwill",
		"reference": "adj-1",
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = s.do(t, http.MethodPost, "/admin/accounts/"+accountID+"/adjustments", map[string]any{
		"amount":    25,
		"reason":    "goodwill",
		"reference": "adj-1",
	}, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(25), ledgertest.Balance(t, s.db, account.ID))

	rec, body = s.do(t, http.MethodGet, "/admin/audit-logs?action=ledger.adjust", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	logs := body["data"].([]any)
	require.Len(t, logs, 1)
	entry := logs[0].(map[string]any)
	assert.Equal(t, "account", entry["actor_type"])
	assert.Equal(t, accountID, entry["actor_id"])
	assert.Equal(t, accountID, entry["target_id"])
}

func TestUnknownRouteIsJSONNotFound(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodGet, "/api/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(body))
}
