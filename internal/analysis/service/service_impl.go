package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	"github.com/smallbiznis/testematch/internal/analysis/domain"
	"github.com/smallbiznis/testematch/internal/config"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/testematch/internal/observability/metrics"
	obstracing "github.com/smallbiznis/testematch/internal/observability/tracing"
	"github.com/smallbiznis/testematch/pkg/db"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	recentLimit      = 5
	staleFailureText = "analysis timed out"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Ledger     ledgerdomain.Repository
	Accounts   accountdomain.Repository
	Catalog    *config.CatalogHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	ledger     ledgerdomain.Repository
	accounts   accountdomain.Repository
	catalog    *config.CatalogHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("analysis.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledger:     p.Ledger,
		accounts:   p.Accounts,
		catalog:    p.Catalog,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Reserve(ctx context.Context, req domain.ReserveRequest) (domain.Job, error) {
	ctx, span := obstracing.StartSpan(ctx, "analysis.reserve",
		attribute.String("job.tier", strings.ToLower(strings.TrimSpace(req.Tier))),
	)
	job, err := s.reserve(ctx, req)
	obstracing.EndSpan(span, err)
	return job, err
}

func (s *Service) reserve(ctx context.Context, req domain.ReserveRequest) (domain.Job, error) {
	if req.AccountID == 0 {
		return domain.Job{}, domain.ErrInvalidAccount
	}
	tier := strings.ToLower(strings.TrimSpace(req.Tier))
	required, ok := s.catalog.Tariff(tier)
	if !ok || required < 1 {
		return domain.Job{}, domain.ErrInvalidTier
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:              s.genID.Generate(),
		AccountID:       req.AccountID,
		Tier:            tier,
		Status:          domain.StatusPending,
		CreditsReserved: required,
		ImageURL:        strings.TrimSpace(req.ImageURL),
		ImageID:         strings.TrimSpace(req.ImageID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		debited, err := s.ledger.DecrementIfSufficient(ctx, tx, req.AccountID, required, now)
		if err != nil {
			return err
		}
		if !debited {
			available, found, err := s.ledger.GetBalance(ctx, tx, req.AccountID)
			if err != nil {
				return err
			}
			if !found {
				return domain.ErrInvalidAccount
			}
			return &ledgerdomain.InsufficientCreditsError{Required: required, Available: available}
		}

		if err := s.repo.Insert(ctx, tx, &job); err != nil {
			return err
		}

		jobID := job.ID
		usage := ledgerdomain.Entry{
			ID:           s.genID.Generate(),
			AccountID:    req.AccountID,
			Kind:         ledgerdomain.KindUsage,
			Amount:       -required,
			Status:       ledgerdomain.StatusCompleted,
			RelatedJobID: &jobID,
			Description:  "Análise " + tier + " - " + jobID.String(),
			Plan:         tier,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return s.ledger.InsertEntry(ctx, tx, &usage)
	})
	if err != nil {
		outcome := "error"
		var insufficient *ledgerdomain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			outcome = "insufficient"
		}
		s.obsMetrics.RecordReservation(ctx, tier, outcome, 0)
		return domain.Job{}, err
	}

	s.obsMetrics.RecordReservation(ctx, tier, "reserved", required)
	s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.KindUsage))
	s.log.Info("credits reserved",
		zap.String("account_id", req.AccountID.String()),
		zap.String("analysis_id", job.ID.String()),
		zap.String("tier", tier),
		zap.Int64("credits", required),
	)
	return job, nil
}

func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.SettleResult, error) {
	ctx, span := obstracing.StartSpan(ctx, "analysis.settle",
		attribute.String("ledger.outcome", strings.ToLower(strings.TrimSpace(req.Outcome))),
	)
	result, err := s.settle(ctx, req)
	obstracing.EndSpan(span, err)
	return result, err
}

func (s *Service) settle(ctx context.Context, req domain.SettleRequest) (domain.SettleResult, error) {
	if req.JobID == 0 {
		return domain.SettleResult{}, domain.ErrNotFound
	}
	outcome, ok := domain.ParseStatus(strings.ToLower(strings.TrimSpace(req.Outcome)))
	if !ok || outcome == domain.StatusPending {
		return domain.SettleResult{}, domain.ErrInvalidOutcome
	}

	var result domain.SettleResult
	err := db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		job, err := s.repo.FindByID(ctx, tx, req.JobID)
		if err != nil {
			return err
		}
		if job == nil {
			return domain.ErrNotFound
		}

		if outcome == domain.StatusProcessing {
			moved, err := s.repo.MarkProcessing(ctx, tx, job.ID, now)
			if err != nil {
				return err
			}
			if moved {
				job.Status = domain.StatusProcessing
				job.UpdatedAt = now
			} else {
				result.Duplicate = true
			}
			result.Job = *job
			return nil
		}

		update := domain.SettleUpdate{
			JobID:          job.ID,
			Status:         outcome,
			ProcessingTime: req.ProcessingTime,
			ImageURL:       strings.TrimSpace(req.ImageURL),
			ImageID:        strings.TrimSpace(req.ImageID),
			At:             now,
		}
		if outcome == domain.StatusCompleted && len(req.Result) > 0 {
			update.Result = datatypes.JSON(req.Result)
		}
		if outcome == domain.StatusFailed || req.ErrorMessage != "" {
			message := req.ErrorMessage
			update.ErrorMessage = &message
		}

		transitioned, err := s.repo.Settle(ctx, tx, update)
		if err != nil {
			return err
		}
		if !transitioned {
			if job.Status != outcome {
				s.log.Warn("conflicting settlement ignored",
					zap.String("analysis_id", job.ID.String()),
					zap.String("status", string(job.Status)),
					zap.String("outcome", string(outcome)),
				)
			}
			result.Job = *job
			result.Duplicate = true
			return nil
		}

		if outcome == domain.StatusFailed {
			refunded, err := s.refund(ctx, tx, *job, now)
			if err != nil {
				return err
			}
			result.Refunded = refunded
		}

		settled, err := s.repo.FindByID(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		if settled != nil {
			result.Job = *settled
		}
		return nil
	})
	if err != nil {
		return domain.SettleResult{}, err
	}

	s.obsMetrics.RecordSettlement(ctx, string(outcome), result.Duplicate, result.Refunded)
	if result.Duplicate {
		s.log.Info("duplicate settlement ignored",
			zap.String("analysis_id", req.JobID.String()),
			zap.String("status", string(result.Job.Status)),
		)
		return result, nil
	}
	if result.Refunded > 0 {
		s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.KindRefund))
	}
	s.log.Info("analysis settled",
		zap.String("analysis_id", req.JobID.String()),
		zap.String("status", string(outcome)),
		zap.Int64("refunded", result.Refunded),
	)
	return result, nil
}

// refund writes the refund row first; the balance moves only if that row is
// new.
func (s *Service) refund(ctx context.Context, tx *gorm.DB, job domain.Job, now time.Time) (int64, error) {
	jobID := job.ID
	entry := ledgerdomain.Entry{
		ID:           s.genID.Generate(),
		AccountID:    job.AccountID,
		Kind:         ledgerdomain.KindRefund,
		Amount:       job.CreditsReserved,
		Status:       ledgerdomain.StatusCompleted,
		RelatedJobID: &jobID,
		Description:  "Reembolso - Análise falhou: " + jobID.String(),
		Plan:         job.Tier,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	inserted, err := s.ledger.InsertEntryIgnore(ctx, tx, &entry)
	if err != nil {
		return 0, err
	}
	if !inserted {
		warning := ledgerdomain.InconsistencyWarning{
			AccountID: job.AccountID,
			JobID:     job.ID,
			Reason:    "refund already recorded for an unsettled analysis",
		}
		s.log.Warn("ledger inconsistency", warning.Fields()...)
		return 0, nil
	}
	if err := s.ledger.IncrementBalance(ctx, tx, job.AccountID, job.CreditsReserved, now); err != nil {
		return 0, err
	}
	return job.CreditsReserved, nil
}

func (s *Service) Status(ctx context.Context, accountID, jobID snowflake.ID) (domain.Job, error) {
	job, err := s.repo.FindByID(ctx, s.db, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job == nil || job.AccountID != accountID {
		return domain.Job{}, domain.ErrNotFound
	}
	return *job, nil
}

func (s *Service) Get(ctx context.Context, viewer *snowflake.ID, jobID snowflake.ID) (domain.View, error) {
	job, err := s.repo.FindByID(ctx, s.db, jobID)
	if err != nil {
		return domain.View{}, err
	}
	if job == nil {
		return domain.View{}, domain.ErrNotFound
	}

	if viewer != nil && *viewer == job.AccountID {
		return domain.View{Job: *job, Owner: true}, nil
	}
	if !job.IsPublic {
		return domain.View{}, domain.ErrForbidden
	}

	parsed, err := domain.ParseResult(job.Result)
	if err != nil {
		s.log.Warn("stored analysis result is not decodable", zap.String("analysis_id", job.ID.String()), zap.Error(err))
	}
	teaser := parsed.Teaser()
	return domain.View{Job: job.Summary(), Teaser: &teaser}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResult, error) {
	if req.AccountID == 0 {
		return domain.ListResult{}, domain.ErrInvalidAccount
	}
	filter := domain.Filter{AccountID: req.AccountID}
	if raw := strings.ToLower(strings.TrimSpace(req.Status)); raw != "" {
		status, ok := domain.ParseStatus(raw)
		if !ok {
			return domain.ListResult{}, domain.ErrInvalidStatus
		}
		filter.Status = status
	}
	if raw := strings.ToLower(strings.TrimSpace(req.Tier)); raw != "" {
		if _, ok := s.catalog.Tariff(raw); !ok {
			return domain.ListResult{}, domain.ErrInvalidTier
		}
		filter.Tier = raw
	}

	page := req.Page.Normalize(pagination.MaxLimit)
	jobs, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListResult{}, err
	}
	total, err := s.repo.Count(ctx, s.db, filter)
	if err != nil {
		return domain.ListResult{}, err
	}

	summaries := make([]domain.Job, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, job.Summary())
	}
	return domain.ListResult{
		Jobs:     summaries,
		PageInfo: pagination.BuildPageInfo(page, total),
	}, nil
}

func (s *Service) SetVisibility(ctx context.Context, accountID, jobID snowflake.ID, public bool) (domain.Job, error) {
	var updated domain.Job
	err := db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		job, err := s.repo.FindByID(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job == nil || job.AccountID != accountID {
			return domain.ErrNotFound
		}
		if job.Status != domain.StatusCompleted {
			return domain.ErrNotCompleted
		}

		var token *string
		if public && job.ShareToken == nil {
			generated, err := newShareToken()
			if err != nil {
				return err
			}
			token = &generated
		}

		ok, err := s.repo.SetVisibility(ctx, tx, jobID, public, token, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotCompleted
		}

		reloaded, err := s.repo.FindByID(ctx, tx, jobID)
		if err != nil {
			return err
		}
		updated = *reloaded
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	return updated, nil
}

func (s *Service) GetShared(ctx context.Context, token string) (domain.SharedView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.SharedView{}, domain.ErrNotFound
	}
	job, err := s.repo.FindByShareToken(ctx, s.db, token)
	if err != nil {
		return domain.SharedView{}, err
	}
	if job == nil || !job.IsPublic || job.Status != domain.StatusCompleted {
		return domain.SharedView{}, domain.ErrNotFound
	}

	owner, err := s.accounts.FindByID(ctx, s.db, job.AccountID)
	if err != nil {
		return domain.SharedView{}, err
	}
	view := domain.SharedView{Job: *job}
	if owner != nil {
		view.OwnerName = owner.Name
	}
	return view, nil
}

func (s *Service) Dashboard(ctx context.Context, accountID snowflake.ID) (domain.Dashboard, error) {
	counts, err := s.repo.CountByStatus(ctx, s.db, accountID)
	if err != nil {
		return domain.Dashboard{}, err
	}
	recent, err := s.repo.List(ctx, s.db, domain.Filter{AccountID: accountID}, pagination.Page{Page: 1, Limit: recentLimit})
	if err != nil {
		return domain.Dashboard{}, err
	}

	dashboard := domain.Dashboard{
		Total:     counts.Total,
		Completed: counts.Completed,
		Pending:   counts.Pending + counts.Processing,
		Recent:    make([]domain.Job, 0, len(recent)),
	}
	if counts.Total > 0 {
		dashboard.SuccessRate = (counts.Completed*100 + counts.Total/2) / counts.Total
	}
	for _, job := range recent {
		dashboard.Recent = append(dashboard.Recent, job.Summary())
	}
	return dashboard, nil
}

func (s *Service) FailStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	jobs, err := s.repo.ListStale(ctx, s.db, cutoff, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		res, err := s.Settle(ctx, domain.SettleRequest{
			JobID:        job.ID,
			Outcome:      string(domain.StatusFailed),
			ErrorMessage: staleFailureText,
		})
		if err != nil {
			return settled, err
		}
		if !res.Duplicate {
			settled++
		}
	}
	return settled, nil
}

func newShareToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
