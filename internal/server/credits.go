package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/testematch/internal/payment/domain"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
)

type PurchaseRequest struct {
	PlanID string `json:"planId"`
}

type paymentData struct {
	TransactionID string `json:"transactionId"`
	AccountID     string `json:"userId"`
	AmountCents   int64  `json:"amount"`
	Plan          string `json:"plan"`
	Credits       int64  `json:"credits"`
}

func (s *Server) GetCredits(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}

	var query pagination.Page
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListRequest{
		AccountID: account.ID,
		Page:      query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"credits":      account.Balance,
			"plan":         account.PlanTier,
			"transactions": resp.Entries,
		},
		"page_info": resp.PageInfo,
	})
}

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}

// Purchase opens a pending purchase and returns what the checkout forwards
// to the processor. Credits arrive with the approval notification.
func (s *Server) Purchase(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		AbortWithError(c, newValidationError("planId", "required", "planId is required"))
		return
	}

	resp, err := s.paymentSvc.InitiatePurchase(c.Request.Context(), paymentdomain.PurchaseRequest{
		AccountID: account.ID,
		Plan:      planID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ref := ""
	if resp.Entry.ExternalPaymentRef != nil {
		ref = *resp.Entry.ExternalPaymentRef
	}
	c.JSON(http.StatusCreated, gin.H{
		"data": gin.H{
			"transaction": resp.Entry,
			"plan":        resp.Plan,
			"paymentData": paymentData{
				TransactionID: ref,
				AccountID:     account.ID.String(),
				AmountCents:   resp.Plan.PriceCents,
				Plan:          string(resp.Plan.Type),
				Credits:       resp.Plan.Credits,
			},
		},
	})
}

func (s *Server) CreditHistory(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}

	var query struct {
		pagination.Page
		Type      string `form:"type"`
		Status    string `form:"status"`
		StartDate string `form:"startDate"`
		EndDate   string `form:"endDate"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalTime(query.StartDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("startDate", "invalid_start_date", "invalid startDate"))
		return
	}
	to, err := parseOptionalTime(query.EndDate, true)
	if err != nil {
		AbortWithError(c, newValidationError("endDate", "invalid_end_date", "invalid endDate"))
		return
	}

	resp, err := s.ledgerSvc.History(c.Request.Context(), ledgerdomain.HistoryRequest{
		AccountID: account.ID,
		Kind:      strings.TrimSpace(query.Type),
		Status:    strings.TrimSpace(query.Status),
		From:      from,
		To:        to,
		Page:      query.Page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"transactions": resp.Entries,
			"stats":        resp.Stats,
		},
		"page_info": resp.PageInfo,
	})
}
