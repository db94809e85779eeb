package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
)

type DeactivateAccountRequest struct {
	Password string `json:"password"`
}

func (s *Server) Dashboard(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}

	dashboard, err := s.analysisSvc.Dashboard(c.Request.Context(), account.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	recent := dashboard.Recent
	for i := range recent {
		recent[i] = recent[i].Summary()
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user": account,
		"stats": gin.H{
			"totalAnalyses":     dashboard.Total,
			"completedAnalyses": dashboard.Completed,
			"pendingAnalyses":   dashboard.Pending,
			"successRate":       dashboard.SuccessRate,
		},
		"recentAnalyses": recent,
	}})
}

func (s *Server) Settings(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":          account.ID,
		"name":        account.Name,
		"email":       account.Email,
		"phone":       account.Phone,
		"preferences": account.Preferences,
	}})
}

// DeactivateAccount is a soft delete confirmed by the current password.
func (s *Server) DeactivateAccount(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}

	var req DeactivateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		AbortWithError(c, newValidationError("password", "required", "password is required"))
		return
	}

	if err := s.accountSvc.Deactivate(c.Request.Context(), accountdomain.DeactivateRequest{
		AccountID: account.ID,
		Password:  req.Password,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deactivated": true}})
}
