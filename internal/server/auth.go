package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	authdomain "github.com/smallbiznis/testematch/internal/auth/domain"
	provisioningdomain "github.com/smallbiznis/testematch/internal/provisioning/domain"
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	CPF      string `json:"cpf"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type preferencesPatch struct {
	Notifications  *bool `json:"notifications"`
	EmailMarketing *bool `json:"emailMarketing"`
}

type UpdateProfileRequest struct {
	Name        *string           `json:"name"`
	Phone       *string           `json:"phone"`
	Preferences *preferencesPatch `json:"preferences"`
}

type SetupPasswordRequest struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string                `json:"token"`
	ExpiresAt time.Time             `json:"expires_at"`
	Account   accountdomain.Account `json:"account"`
}

func newSessionResponse(session authdomain.Session) sessionResponse {
	return sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		Account:   session.Account,
	}
}

func (s *Server) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.authsvc.Register(c.Request.Context(), authdomain.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
		CPF:      req.CPF,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": newSessionResponse(session)})
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.authsvc.Login(c.Request.Context(), authdomain.LoginRequest{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSessionResponse(session)})
}

func (s *Server) Profile(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) UpdateProfile(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	updated, err := s.accountSvc.UpdateProfile(c.Request.Context(), accountdomain.UpdateProfileRequest{
		AccountID:   account.ID,
		Name:        req.Name,
		Phone:       req.Phone,
		Preferences: mergePreferences(account.Preferences, req.Preferences),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": updated})
}

func mergePreferences(current accountdomain.Preferences, patch *preferencesPatch) *accountdomain.Preferences {
	if patch == nil {
		return nil
	}
	merged := current
	if patch.Notifications != nil {
		merged.Notifications = *patch.Notifications
	}
	if patch.EmailMarketing != nil {
		merged.EmailMarketing = *patch.EmailMarketing
	}
	return &merged
}

func (s *Server) Refresh(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}

	session, err := s.authsvc.Refresh(c.Request.Context(), account.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSessionResponse(session)})
}

// SetupPassword activates an account provisioned from a payment.
func (s *Server) SetupPassword(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req SetupPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		req.Token = strings.TrimSpace(c.Query("token"))
	}

	account, err := s.provisioner.CompleteSetup(c.Request.Context(), provisioningdomain.CompleteSetupRequest{
		AccountID:  id,
		SetupToken: req.Token,
		Email:      req.Email,
		Password:   req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.authsvc.IssueFor(c.Request.Context(), account)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSessionResponse(session)})
}
