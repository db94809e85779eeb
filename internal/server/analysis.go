package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	analysisdomain "github.com/smallbiznis/testematch/internal/analysis/domain"
	"github.com/smallbiznis/testematch/internal/analysis/report"
	"github.com/smallbiznis/testematch/internal/observability/logger"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"go.uber.org/zap"
)

type UploadRequest struct {
	Plan     string `json:"plan"`
	ImageURL string `json:"imageUrl"`
	ImageID  string `json:"imageId"`
}

type VisibilityRequest struct {
	IsPublic *bool `json:"isPublic"`
}

// Upload reserves credits and opens an analysis for the pipeline.
func (s *Server) Upload(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}

	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.analysisSvc.Reserve(c.Request.Context(), analysisdomain.ReserveRequest{
		AccountID: account.ID,
		Tier:      req.Plan,
		ImageURL:  req.ImageURL,
		ImageID:   req.ImageID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": job.Summary()})
}

func (s *Server) UploadStatus(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, analysisdomain.ErrNotFound)
		return
	}

	job, err := s.analysisSvc.Status(c.Request.Context(), account.ID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job.Summary()})
}

// GetAnalysis returns the full analysis to its owner and a teaser of public
// analyses to everyone else.
func (s *Server) GetAnalysis(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, analysisdomain.ErrNotFound)
		return
	}

	view, err := s.analysisSvc.Get(c.Request.Context(), viewerID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if view.Owner {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"analysis": view.Job,
			"isOwner":  true,
		}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"analysis": gin.H{
			"id":        view.Job.ID,
			"plan":      view.Job.Tier,
			"status":    view.Job.Status,
			"createdAt": view.Job.CreatedAt,
		},
		"teaser":  view.Teaser,
		"isOwner": false,
	}})
}

func (s *Server) ListAnalyses(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}

	var query struct {
		pagination.Page
		Status string `form:"status"`
		Plan   string `form:"plan"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.analysisSvc.List(c.Request.Context(), analysisdomain.ListRequest{
		AccountID: account.ID,
		Status:    query.Status,
		Tier:      query.Plan,
		Page:      query.Page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	jobs := make([]analysisdomain.Job, 0, len(resp.Jobs))
	for _, job := range resp.Jobs {
		jobs = append(jobs, job.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs, "page_info": resp.PageInfo})
}

// SetVisibility publishes or hides a completed analysis. The share token is
// created the first time it goes public and kept afterwards.
func (s *Server) SetVisibility(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, analysisdomain.ErrNotFound)
		return
	}

	var req VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsPublic == nil {
		AbortWithError(c, newValidationError("isPublic", "required", "isPublic is required"))
		return
	}

	job, err := s.analysisSvc.SetVisibility(c.Request.Context(), account.ID, id, *req.IsPublic)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":         job.ID,
		"isPublic":   job.IsPublic,
		"shareToken": job.ShareToken,
	}})
}

func (s *Server) GetSharedAnalysis(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		AbortWithError(c, analysisdomain.ErrNotFound)
		return
	}

	view, err := s.analysisSvc.GetShared(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job := view.Job
	job.ShareToken = nil
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"analysis": job,
		"owner":    gin.H{"name": view.OwnerName},
	}})
}

// AnalysisReport renders a completed analysis as a PDF for its owner.
func (s *Server) AnalysisReport(c *gin.Context) {
	account, ok := mustAccount(c)
	if !ok {
		return
	}
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, analysisdomain.ErrNotFound)
		return
	}

	ctx := c.Request.Context()
	job, err := s.analysisSvc.Status(ctx, account.ID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if job.Status != analysisdomain.StatusCompleted {
		AbortWithError(c, analysisdomain.ErrNotCompleted)
		return
	}

	result, err := analysisdomain.ParseResult(job.Result)
	if err != nil {
		logger.FromContext(ctx).Warn("stored analysis result is not decodable",
			zap.String("analysis_id", job.ID.String()),
			zap.Error(err),
		)
	}

	doc, err := s.reports.Render(ctx, report.Data{
		AnalysisID:     job.ID.String(),
		Tier:           job.Tier,
		OwnerName:      account.Name,
		CreatedAt:      job.CreatedAt,
		ProcessingTime: job.ProcessingTime,
		Result:         result,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body, err := io.ReadAll(doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=analise-%s.pdf", job.ID.String()))
	c.Data(http.StatusOK, "application/pdf", body)
}
