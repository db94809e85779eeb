package auth

import (
	"github.com/smallbiznis/testematch/internal/auth/service"
	"github.com/smallbiznis/testematch/internal/auth/token"
	"github.com/smallbiznis/testematch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("auth.service",
	fx.Provide(provideIssuer),
	fx.Provide(service.New),
)

func provideIssuer(cfg config.Config, log *zap.Logger) (*token.Issuer, error) {
	secret := cfg.AuthJWTSecret
	if secret == "" && !cfg.IsProduction() {
		generated, err := token.RandomSecret()
		if err != nil {
			return nil, err
		}
		log.Warn("AUTH_JWT_SECRET not set; using an ephemeral signing key")
		secret = generated
	}
	return token.NewIssuer(secret, cfg.AuthTokenTTL)
}
