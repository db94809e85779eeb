package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/testematch/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	"github.com/smallbiznis/testematch/internal/observability/logger"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"go.uber.org/zap"
)

const defaultAuditBatchSize = 100

type AdjustmentRequest struct {
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

// authorizeAction gates operator routes on the caller's role.
func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := mustAccount(c)
		if !ok {
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), account, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func accountIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return 0, false
	}
	return id, true
}

func (s *Server) AdminGetAccount(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	account, err := s.accountSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) AdminVerifyLedger(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	snapshot, err := s.ledgerSvc.Verify(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account_id": snapshot.AccountID,
		"balance":    snapshot.Balance,
		"ledger_sum": snapshot.LedgerSum,
		"drift":      snapshot.Drift(),
		"consistent": snapshot.Consistent(),
	}})
}

// AdminAdjust grants a bonus or claws credits back. A repeated reference
// returns the original entry.
func (s *Server) AdminAdjust(c *gin.Context) {
	operator, ok := mustAccount(c)
	if !ok {
		return
	}
	id, ok := accountIDParam(c)
	if !ok {
		return
	}

	var req AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ledgerSvc.Adjust(c.Request.Context(), ledgerdomain.AdjustRequest{
		AccountID: id,
		Amount:    req.Amount,
		Reason:    strings.TrimSpace(req.Reason),
		Reference: strings.TrimSpace(req.Reference),
		Actor:     "account:" + operator.ID.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	} else {
		s.recordAudit(c, auditdomain.Record{
			Action:     auditdomain.ActionLedgerAdjust,
			TargetType: auditdomain.TargetAccount,
			TargetID:   id.String(),
			Metadata: map[string]any{
				"entry_id":  result.Entry.ID.String(),
				"amount":    result.Entry.Amount,
				"reason":    result.Entry.Description,
				"reference": strings.TrimSpace(req.Reference),
			},
		})
	}
	c.JSON(status, gin.H{"data": gin.H{
		"entry":     result.Entry,
		"balance":   result.Balance,
		"duplicate": result.Duplicate,
	}})
}

func (s *Server) AdminAuditLedger(c *gin.Context) {
	batch := s.cfg.Scheduler.BatchSize
	if batch <= 0 {
		batch = defaultAuditBatchSize
	}
	summary, err := s.ledgerSvc.AuditAll(c.Request.Context(), batch)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.Record{
		Action:     auditdomain.ActionLedgerAudit,
		TargetType: auditdomain.TargetLedger,
		Metadata: map[string]any{
			"scanned":    summary.Scanned,
			"mismatched": summary.Mismatched,
			"drift":      summary.Drift,
		},
	})
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

type auditLogQuery struct {
	pagination.Page
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

func (s *Server) AdminListAuditLogs(c *gin.Context) {
	if s.auditSvc == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var query auditLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	res, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		Page:       query.Page,
		Action:     query.Action,
		TargetType: query.TargetType,
		TargetID:   query.TargetID,
		ActorType:  query.ActorType,
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      res.Logs,
		"page_info": res.PageInfo,
	})
}

// recordAudit never fails the request; a lost audit row is logged.
func (s *Server) recordAudit(c *gin.Context, rec auditdomain.Record) {
	if s.auditSvc == nil {
		return
	}
	rec.IPAddress = c.ClientIP()
	rec.UserAgent = c.Request.UserAgent()
	if err := s.auditSvc.Record(c.Request.Context(), rec); err != nil {
		logger.FromContext(c.Request.Context()).Warn("audit log dropped",
			zap.String("action", rec.Action),
			zap.Error(err),
		)
	}
}
