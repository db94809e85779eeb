package server

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	analysisdomain "github.com/smallbiznis/testematch/internal/analysis/domain"
	"github.com/smallbiznis/testematch/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/testematch/internal/payment/domain"
	provisioningdomain "github.com/smallbiznis/testematch/internal/provisioning/domain"
	"go.uber.org/zap"
)

const headerWebhookSecret = "X-Webhook-Secret"

// flexString accepts a JSON string or number. The processor sends both.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type PipelineWebhookRequest struct {
	AnalysisID     flexString      `json:"analysisId"`
	Status         string          `json:"status"`
	Result         json.RawMessage `json:"result"`
	ErrorMessage   string          `json:"errorMessage"`
	ProcessingTime *float64        `json:"processingTime"`
	ImageURL       string          `json:"imageUrl"`
	ImageID        string          `json:"imageId"`
}

type PaymentWebhookRequest struct {
	TransactionID flexString `json:"transactionId"`
	Status        string     `json:"status"`
	Credits       flexString `json:"credits"`
	Amount        flexString `json:"amount"`
	CPF           flexString `json:"cpf"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Phone         flexString `json:"phone"`
	Plan          string     `json:"plan"`
	Secret        string     `json:"WEBHOOK_SECRET"`
}

// auditPayload is the stored copy of a notification. It never carries the
// shared secret.
func (r PaymentWebhookRequest) auditPayload() json.RawMessage {
	raw, err := json.Marshal(struct {
		TransactionID flexString `json:"transactionId"`
		Status        string     `json:"status"`
		Credits       flexString `json:"credits"`
		Amount        flexString `json:"amount"`
		CPF           flexString `json:"cpf"`
		Name          string     `json:"name"`
		Email         string     `json:"email"`
		Phone         flexString `json:"phone"`
		Plan          string     `json:"plan"`
	}{r.TransactionID, r.Status, r.Credits, r.Amount, r.CPF, r.Name, r.Email, r.Phone, r.Plan})
	if err != nil {
		return nil
	}
	return raw
}

// PipelineWebhook settles an analysis reported by the processing pipeline.
func (s *Server) PipelineWebhook(c *gin.Context) {
	if secret := s.cfg.PipelineWebhookSecret; secret != "" {
		presented := c.GetHeader(headerWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) != 1 {
			AbortWithError(c, ErrForbidden)
			return
		}
	}

	var req PipelineWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	jobID, err := parseSnowflakeID(string(req.AnalysisID))
	if err != nil {
		AbortWithError(c, newValidationError("analysisId", "invalid_analysis_id", "invalid analysisId"))
		return
	}

	result, err := s.analysisSvc.Settle(c.Request.Context(), analysisdomain.SettleRequest{
		JobID:          jobID,
		Outcome:        req.Status,
		Result:         req.Result,
		ErrorMessage:   req.ErrorMessage,
		ProcessingTime: req.ProcessingTime,
		ImageURL:       req.ImageURL,
		ImageID:        req.ImageID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"analysisId": result.Job.ID,
		"status":     result.Job.Status,
		"duplicate":  result.Duplicate,
		"refunded":   result.Refunded,
	}})
}

// PaymentWebhook applies one payment processor notification. Deliveries of
// the same transaction are serialized by a short lock when rate limiting is
// on.
func (s *Server) PaymentWebhook(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Nothing below runs for a caller without the shared secret.
	if err := s.paymentSvc.VerifySecret(req.Secret); err != nil {
		AbortWithError(c, err)
		return
	}

	credits, err := parseCredits(string(req.Credits))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidAmount)
		return
	}

	ctx := c.Request.Context()
	ref := strings.TrimSpace(string(req.TransactionID))
	if ref != "" {
		lockToken, acquired, err := s.limiter.TryLockDelivery(ctx, paymentdomain.ProviderAppmax, ref)
		if err != nil {
			logger.FromContext(ctx).Warn("payment delivery lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !acquired {
			AbortWithError(c, ErrConflict)
			return
		}
		defer func() {
			if err := s.limiter.ReleaseDelivery(ctx, paymentdomain.ProviderAppmax, ref, lockToken); err != nil {
				logger.FromContext(ctx).Warn("payment delivery unlock failed", zap.Error(err))
			}
		}()
	}

	result, err := s.paymentSvc.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		SharedSecret:    req.Secret,
		Provider:        paymentdomain.ProviderAppmax,
		TransactionRef:  ref,
		PayerExternalID: string(req.CPF),
		AmountCredits:   credits,
		RawStatus:       req.Status,
		Outcome:         paymentdomain.NormalizeStatus(req.Status),
		PaidAmount:      string(req.Amount),
		Profile: provisioningdomain.PayerProfile{
			ExternalID: string(req.CPF),
			Name:       strings.TrimSpace(req.Name),
			Email:      strings.TrimSpace(req.Email),
			Phone:      string(req.Phone),
			PlanTier:   strings.ToLower(strings.TrimSpace(req.Plan)),
		},
		Payload: req.auditPayload(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"transactionId":    ref,
		"userId":           result.AccountID,
		"status":           result.Status,
		"credited":         result.Credited,
		"duplicate":        result.Duplicate,
		"setupRequired":    result.SetupRequired,
		"setupPasswordUrl": s.setupURL(result),
	}})
}

func (s *Server) setupURL(result paymentdomain.ApplyPaymentResult) *string {
	if !result.SetupRequired || result.SetupToken == "" {
		return nil
	}
	base := strings.TrimRight(strings.TrimSpace(s.cfg.FrontendURL), "/")
	link := base + "/setup-password/" + result.AccountID.String() + "?token=" + url.QueryEscape(result.SetupToken)
	return &link
}

// parseCredits treats an absent value as zero.
func parseCredits(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if credits, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return credits, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value != float64(int64(value)) {
		return 0, paymentdomain.ErrInvalidAmount
	}
	return int64(value), nil
}

func (s *Server) WebhookTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}})
}
