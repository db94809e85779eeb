package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	obscontext "github.com/smallbiznis/testematch/internal/observability/context"
)

const contextAccountKey = "account"

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// AuthRequired resolves the bearer token to an active account.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := currentAccount(c); ok {
			c.Next()
			return
		}
		raw := bearerToken(c)
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		account, err := s.authsvc.Authenticate(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		s.setAccount(c, account)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid token is present and
// otherwise carries on anonymously.
func (s *Server) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearerToken(c); raw != "" {
			if account, err := s.authsvc.Authenticate(c.Request.Context(), raw); err == nil {
				s.setAccount(c, account)
			}
		}
		c.Next()
	}
}

func (s *Server) setAccount(c *gin.Context, account accountdomain.Account) {
	c.Set(contextAccountKey, account)
	ctx := obscontext.WithAccountID(c.Request.Context(), account.ID.String())
	ctx = obscontext.WithActor(ctx, "account", account.ID.String())
	c.Request = c.Request.WithContext(ctx)
}

func currentAccount(c *gin.Context) (accountdomain.Account, bool) {
	value, ok := c.Get(contextAccountKey)
	if !ok {
		return accountdomain.Account{}, false
	}
	account, ok := value.(accountdomain.Account)
	return account, ok
}

// mustAccount is for handlers behind AuthRequired.
func mustAccount(c *gin.Context) (accountdomain.Account, bool) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return accountdomain.Account{}, false
	}
	return account, true
}

func viewerID(c *gin.Context) *snowflake.ID {
	account, ok := currentAccount(c)
	if !ok {
		return nil
	}
	id := account.ID
	return &id
}
