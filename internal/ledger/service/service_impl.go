package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/testematch/internal/observability/metrics"
	"github.com/smallbiznis/testematch/pkg/db"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxReferenceLength    = 128
	maxAuditBatch         = 1000
	maxReportedMismatches = 100
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListRequest) (ledgerdomain.ListResult, error) {
	if req.AccountID == 0 {
		return ledgerdomain.ListResult{}, ledgerdomain.ErrInvalidAccount
	}
	page := req.Page.Normalize(pagination.MaxLimit)
	filter := ledgerdomain.Filter{AccountID: req.AccountID}

	entries, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return ledgerdomain.ListResult{}, err
	}
	total, err := s.repo.Count(ctx, s.db, filter)
	if err != nil {
		return ledgerdomain.ListResult{}, err
	}
	return ledgerdomain.ListResult{
		Entries:  entries,
		PageInfo: pagination.BuildPageInfo(page, total),
	}, nil
}

func (s *Service) History(ctx context.Context, req ledgerdomain.HistoryRequest) (ledgerdomain.HistoryResult, error) {
	if req.AccountID == 0 {
		return ledgerdomain.HistoryResult{}, ledgerdomain.ErrInvalidAccount
	}
	filter := ledgerdomain.Filter{AccountID: req.AccountID, From: req.From, To: req.To}

	if kind := strings.ToLower(strings.TrimSpace(req.Kind)); kind != "" {
		parsed, ok := ledgerdomain.ParseKind(kind)
		if !ok {
			return ledgerdomain.HistoryResult{}, ledgerdomain.ErrInvalidFilter
		}
		filter.Kind = parsed
	}
	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		switch ledgerdomain.EntryStatus(status) {
		case ledgerdomain.StatusPending, ledgerdomain.StatusCompleted, ledgerdomain.StatusFailed:
			filter.Status = ledgerdomain.EntryStatus(status)
		default:
			return ledgerdomain.HistoryResult{}, ledgerdomain.ErrInvalidFilter
		}
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return ledgerdomain.HistoryResult{}, ledgerdomain.ErrInvalidFilter
	}

	page := req.Page.Normalize(pagination.MaxLimit)
	entries, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return ledgerdomain.HistoryResult{}, err
	}
	total, err := s.repo.Count(ctx, s.db, filter)
	if err != nil {
		return ledgerdomain.HistoryResult{}, err
	}
	stats, err := s.repo.Stats(ctx, s.db, filter)
	if err != nil {
		return ledgerdomain.HistoryResult{}, err
	}

	return ledgerdomain.HistoryResult{
		Entries:  entries,
		PageInfo: pagination.BuildPageInfo(page, total),
		Stats:    stats,
	}, nil
}

func (s *Service) Adjust(ctx context.Context, req ledgerdomain.AdjustRequest) (ledgerdomain.AdjustResult, error) {
	if req.AccountID == 0 {
		return ledgerdomain.AdjustResult{}, ledgerdomain.ErrInvalidAccount
	}
	if req.Amount == 0 {
		return ledgerdomain.AdjustResult{}, ledgerdomain.ErrInvalidAmount
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" || len(reference) > maxReferenceLength {
		return ledgerdomain.AdjustResult{}, ledgerdomain.ErrInvalidReference
	}
	reason := strings.TrimSpace(req.Reason)

	kind := ledgerdomain.KindBonus
	description := "Bônus de créditos"
	if req.Amount < 0 {
		kind = ledgerdomain.KindUsage
		description = "Estorno de créditos"
	}
	if reason != "" {
		description = reason
	}

	ref := reference
	now := time.Now().UTC()
	entry := ledgerdomain.Entry{
		ID:                 s.genID.Generate(),
		AccountID:          req.AccountID,
		Kind:               kind,
		Amount:             req.Amount,
		Status:             ledgerdomain.StatusCompleted,
		AdjustmentRef:      &ref,
		Description:        description,
		Metadata: datatypes.JSONMap{
			"reason": reason,
			"actor":  req.Actor,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var result ledgerdomain.AdjustResult
	err := db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if _, found, err := s.repo.GetBalance(ctx, tx, req.AccountID); err != nil {
			return err
		} else if !found {
			return ledgerdomain.ErrAccountNotFound
		}

		inserted, err := s.repo.InsertEntryIgnore(ctx, tx, &entry)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.FindByAdjustmentRef(ctx, tx, ref)
			if err != nil {
				return err
			}
			if existing == nil || existing.AccountID != req.AccountID || existing.Amount != req.Amount {
				return ledgerdomain.ErrReferenceConflict
			}
			result.Entry = *existing
			result.Duplicate = true
		} else {
			if err := s.applyDelta(ctx, tx, req.AccountID, req.Amount, now); err != nil {
				return err
			}
			result.Entry = entry
		}

		balance, _, err := s.repo.GetBalance(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		result.Balance = balance
		return nil
	})
	if err != nil {
		return ledgerdomain.AdjustResult{}, err
	}

	if result.Duplicate {
		s.log.Info("duplicate ledger adjustment ignored",
			zap.String("account_id", req.AccountID.String()),
			zap.String("reference", reference),
		)
		return result, nil
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(kind))
	s.log.Info("ledger adjusted",
		zap.String("account_id", req.AccountID.String()),
		zap.String("entry_id", result.Entry.ID.String()),
		zap.String("kind", string(kind)),
		zap.Int64("amount", req.Amount),
		zap.String("actor", req.Actor),
	)
	return result, nil
}

func (s *Service) applyDelta(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, delta int64, at time.Time) error {
	if delta > 0 {
		return s.repo.IncrementBalance(ctx, tx, accountID, delta, at)
	}
	ok, err := s.repo.DecrementIfSufficient(ctx, tx, accountID, -delta, at)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	available, _, err := s.repo.GetBalance(ctx, tx, accountID)
	if err != nil {
		return err
	}
	return &ledgerdomain.InsufficientCreditsError{Required: -delta, Available: available}
}

func (s *Service) Verify(ctx context.Context, accountID snowflake.ID) (ledgerdomain.BalanceSnapshot, error) {
	if accountID == 0 {
		return ledgerdomain.BalanceSnapshot{}, ledgerdomain.ErrInvalidAccount
	}

	snapshot := ledgerdomain.BalanceSnapshot{AccountID: accountID}
	err := db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		balance, found, err := s.repo.GetBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !found {
			return ledgerdomain.ErrAccountNotFound
		}
		sum, err := s.repo.SumCompleted(ctx, tx, accountID)
		if err != nil {
			return err
		}
		snapshot.Balance = balance
		snapshot.LedgerSum = sum
		return nil
	})
	if err != nil {
		return ledgerdomain.BalanceSnapshot{}, err
	}

	if !snapshot.Consistent() {
		s.warn(snapshot)
	}
	return snapshot, nil
}

func (s *Service) Audit(ctx context.Context, req ledgerdomain.AuditRequest) (ledgerdomain.AuditResult, error) {
	limit := req.Limit
	if limit <= 0 || limit > maxAuditBatch {
		limit = maxAuditBatch
	}

	snapshots, err := s.repo.ListSnapshots(ctx, s.db, req.AfterID, limit)
	if err != nil {
		return ledgerdomain.AuditResult{}, err
	}

	result := ledgerdomain.AuditResult{Scanned: len(snapshots), LastID: req.AfterID}
	for _, snapshot := range snapshots {
		result.LastID = snapshot.AccountID
		if snapshot.Consistent() {
			continue
		}
		result.Mismatches = append(result.Mismatches, snapshot)
		s.warn(snapshot)
	}
	return result, nil
}

func (s *Service) AuditAll(ctx context.Context, batchSize int) (ledgerdomain.AuditSummary, error) {
	summary := ledgerdomain.AuditSummary{Mismatches: []ledgerdomain.BalanceSnapshot{}}
	var after snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		batch, err := s.Audit(ctx, ledgerdomain.AuditRequest{AfterID: after, Limit: batchSize})
		if err != nil {
			return summary, err
		}
		summary.Scanned += batch.Scanned
		for _, mismatch := range batch.Mismatches {
			summary.Mismatched++
			drift := mismatch.Drift()
			if drift < 0 {
				drift = -drift
			}
			summary.Drift += drift
			if len(summary.Mismatches) < maxReportedMismatches {
				summary.Mismatches = append(summary.Mismatches, mismatch)
			}
		}
		if batch.Scanned == 0 || batch.LastID == after {
			break
		}
		after = batch.LastID
	}

	if summary.Mismatched > 0 {
		s.log.Warn("ledger audit found mismatches",
			zap.Int("scanned", summary.Scanned),
			zap.Int("mismatched", summary.Mismatched),
			zap.Int64("drift", summary.Drift),
		)
	}
	return summary, nil
}

func (s *Service) warn(snapshot ledgerdomain.BalanceSnapshot) {
	warning := ledgerdomain.InconsistencyWarning{
		AccountID: snapshot.AccountID,
		Balance:   snapshot.Balance,
		LedgerSum: snapshot.LedgerSum,
		Reason:    "balance differs from completed entries",
	}
	s.log.Warn("ledger inconsistency", warning.Fields()...)
}
