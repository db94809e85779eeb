package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	analysisdomain "github.com/smallbiznis/testematch/internal/analysis/domain"
	"github.com/smallbiznis/testematch/internal/analysis/report"
	auditdomain "github.com/smallbiznis/testematch/internal/audit/domain"
	authdomain "github.com/smallbiznis/testematch/internal/auth/domain"
	"github.com/smallbiznis/testematch/internal/authorization"
	"github.com/smallbiznis/testematch/internal/config"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	"github.com/smallbiznis/testematch/internal/observability"
	obsmiddleware "github.com/smallbiznis/testematch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/testematch/internal/observability/metrics"
	obstracing "github.com/smallbiznis/testematch/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/testematch/internal/payment/domain"
	plandomain "github.com/smallbiznis/testematch/internal/plan/domain"
	provisioningdomain "github.com/smallbiznis/testematch/internal/provisioning/domain"
	"github.com/smallbiznis/testematch/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(report.New),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	authsvc     authdomain.Service
	accountSvc  accountdomain.Service
	authzSvc    authorization.Service
	auditSvc    auditdomain.Service
	ledgerSvc   ledgerdomain.Service
	analysisSvc analysisdomain.Service
	planSvc     plandomain.Service
	paymentSvc  paymentdomain.Service
	provisioner provisioningdomain.Service
	reports     report.Renderer
	limiter     *ratelimit.Limiter
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Authsvc     authdomain.Service
	AccountSvc  accountdomain.Service
	AuthzSvc    authorization.Service `optional:"true"`
	AuditSvc    auditdomain.Service   `optional:"true"`
	LedgerSvc   ledgerdomain.Service
	AnalysisSvc analysisdomain.Service
	PlanSvc     plandomain.Service
	PaymentSvc  paymentdomain.Service
	Provisioner provisioningdomain.Service
	Reports     report.Renderer
	Limiter     *ratelimit.Limiter  `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		authsvc:     p.Authsvc,
		accountSvc:  p.AccountSvc,
		authzSvc:    p.AuthzSvc,
		auditSvc:    p.AuditSvc,
		ledgerSvc:   p.LedgerSvc,
		analysisSvc: p.AnalysisSvc,
		planSvc:     p.PlanSvc,
		paymentSvc:  p.PaymentSvc,
		provisioner: p.Provisioner,
		reports:     p.Reports,
		limiter:     p.Limiter,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerWebhookRoutes keeps processor callbacks out of the per-client API
// limit; they are metered per provider instead.
func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/api/webhook")

	hooks.POST("/n8n", s.WebhookRateLimit("n8n"), s.PipelineWebhook)
	hooks.POST("/appmax", s.WebhookRateLimit(paymentdomain.ProviderAppmax), s.PaymentWebhook)
	hooks.GET("/test", s.WebhookTest)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.OptionalAuth(), s.APIRateLimit())

	// -------- Auth --------
	auth := api.Group("/auth")
	{
		auth.POST("/register", s.Register)
		auth.POST("/login", s.Login)
		auth.GET("/profile", s.AuthRequired(), s.Profile)
		auth.PUT("/profile", s.AuthRequired(), s.UpdateProfile)
		auth.POST("/refresh", s.AuthRequired(), s.Refresh)
		auth.POST("/setup-password/:id", s.SetupPassword)
	}

	// -------- Credits --------
	credits := api.Group("/credits")
	{
		credits.GET("", s.AuthRequired(), s.GetCredits)
		credits.GET("/plans", s.ListPlans)
		credits.POST("/purchase", s.AuthRequired(), s.Purchase)
		credits.GET("/history", s.AuthRequired(), s.CreditHistory)
	}

	// -------- Analyses --------
	api.POST("/upload", s.AuthRequired(), s.Upload)
	api.GET("/upload/status/:id", s.AuthRequired(), s.UploadStatus)

	analysis := api.Group("/analysis")
	{
		analysis.GET("", s.AuthRequired(), s.ListAnalyses)
		analysis.GET("/share/:token", s.GetSharedAnalysis)
		analysis.GET("/:id", s.GetAnalysis)
		analysis.PUT("/:id/public", s.AuthRequired(), s.SetVisibility)
		analysis.GET("/:id/report.pdf", s.AuthRequired(), s.AnalysisReport)
	}

	// -------- User --------
	user := api.Group("/user", s.AuthRequired())
	{
		user.GET("/dashboard", s.Dashboard)
		user.GET("/settings", s.Settings)
		user.PUT("/settings", s.UpdateProfile)
		user.DELETE("/account", s.DeactivateAccount)
		user.GET("/analyses", s.ListAnalyses)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired())

	admin.GET("/accounts/:id", s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountView), s.AdminGetAccount)
	admin.GET("/accounts/:id/ledger/verify", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerVerify), s.AdminVerifyLedger)
	admin.POST("/accounts/:id/adjustments", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerAdjust), s.AdminAdjust)
	admin.POST("/ledger/audit", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerAudit), s.AdminAuditLedger)
	admin.GET("/audit-logs", s.authorizeAction(authorization.ObjectAudit, authorization.ActionAuditView), s.AdminListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
