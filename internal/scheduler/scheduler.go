package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	analysisdomain "github.com/smallbiznis/testematch/internal/analysis/domain"
	"github.com/smallbiznis/testematch/internal/clock"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/testematch/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	LedgerSvc   ledgerdomain.Service
	AnalysisSvc analysisdomain.Service
	Config      Config                      `optional:"true"`
	Metrics     *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	ledgerSvc   ledgerdomain.Service
	analysisSvc analysisdomain.Service
	metrics     *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.LedgerSvc == nil || p.AnalysisSvc == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		ledgerSvc:   p.LedgerSvc,
		analysisSvc: p.AnalysisSvc,
		metrics:     metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout; the next run picks up where this one stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobLedgerAudit, s.isJobEnabled(JobLedgerAudit), func(ctx context.Context) error {
			return s.runJob(ctx, JobLedgerAudit, s.cfg.BatchSize, s.cfg.JobTimeout, s.LedgerAuditJob)
		}},
		{JobStaleJobs, s.cfg.StaleJobTimeout > 0 && s.isJobEnabled(JobStaleJobs), func(ctx context.Context) error {
			return s.runJob(ctx, JobStaleJobs, s.cfg.BatchSize, s.cfg.JobTimeout, s.StaleJobsJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// isJobEnabled treats an empty list as every job enabled.
func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// LedgerAuditJob compares every balance with its completed entries. It only
// reports; repairs are an operator decision.
func (s *Scheduler) LedgerAuditJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobLedgerAudit, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	summary, err := s.ledgerSvc.AuditAll(ctx, s.cfg.BatchSize)
	run.AddProcessed(summary.Scanned)
	s.metrics.AddBatchProcessed(JobLedgerAudit, "accounts", summary.Scanned)
	s.metrics.ObserveLedgerAudit(summary.Scanned, summary.Mismatched, summary.Drift)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.ledger_audit.failed", JobLedgerAudit, err)
		return err
	}
	if summary.Mismatched > 0 {
		s.logger(ctx).Warn("scheduler.ledger_audit.mismatch",
			zap.Int("scanned", summary.Scanned),
			zap.Int("mismatched", summary.Mismatched),
			zap.Int64("drift", summary.Drift),
		)
	}
	return nil
}

// StaleJobsJob fails analyses stuck before a terminal state for longer than
// the configured timeout. Settlement refunds them.
func (s *Scheduler) StaleJobsJob(ctx context.Context) error {
	if s.cfg.StaleJobTimeout <= 0 {
		return nil
	}
	ctx, run, owner := s.ensureJobRun(ctx, JobStaleJobs, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	cutoff := s.clock.Now().Add(-s.cfg.StaleJobTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		settled, err := s.analysisSvc.FailStale(ctx, cutoff, s.cfg.BatchSize)
		run.AddProcessed(settled)
		s.metrics.AddBatchProcessed(JobStaleJobs, "analysis_jobs", settled)
		for i := 0; i < settled; i++ {
			s.metrics.IncStaleJobFailed()
		}
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.stale_jobs.failed", JobStaleJobs, err)
			return err
		}
		if settled < s.cfg.BatchSize {
			return nil
		}
	}
}
