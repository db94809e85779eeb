package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	accountrepo "github.com/smallbiznis/testematch/internal/account/repository"
	analysisdomain "github.com/smallbiznis/testematch/internal/analysis/domain"
	analysisrepo "github.com/smallbiznis/testematch/internal/analysis/repository"
	analysisservice "github.com/smallbiznis/testematch/internal/analysis/service"
	"github.com/smallbiznis/testematch/internal/clock"
	"github.com/smallbiznis/testematch/internal/config"
	"github.com/smallbiznis/testematch/internal/ledger/ledgertest"
	ledgerrepo "github.com/smallbiznis/testematch/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/testematch/internal/ledger/service"
	obsmetrics "github.com/smallbiznis/testematch/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	registry *prometheus.Registry
	sched    *Scheduler
	analysis analysisdomain.Service
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()

	conn := ledgertest.NewDB(t)
	node := ledgertest.NewNode(t)
	fake := clock.NewFakeClock(time.Now())
	registry := prometheus.NewRegistry()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  ledgerrepo.Provide(),
	})
	analysisSvc := analysisservice.NewService(analysisservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     analysisrepo.Provide(),
		Ledger:   ledgerrepo.Provide(),
		Accounts: accountrepo.Provide(),
		Catalog:  config.NewStaticCatalog(config.DefaultCatalog()),
	})

	sched, err := New(Params{
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		LedgerSvc:   ledgerSvc,
		AnalysisSvc: analysisSvc,
		Config:      cfg,
		Metrics:     obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{ServiceName: "testematch", Environment: "test"}),
	})
	require.NoError(t, err)

	return fixture{db: conn, node: node, clock: fake, registry: registry, sched: sched, analysis: analysisSvc}
}

func (f fixture) metricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !labelsMatch(metric, labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	for key, value := range want {
		found := false
		for _, pair := range metric.GetLabel() {
			if pair.GetName() == key && pair.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLedgerAuditReportsMismatches(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 1})
	ctx := context.Background()

	ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 5)
	drifted := ledgertest.CreateAccount(t, f.db, f.node, "11144477735", 5)
	require.NoError(t, f.db.Exec(`UPDATE accounts SET balance = 8 WHERE id = ?`, drifted.ID).Error)

	require.NoError(t, f.sched.RunOnce(ctx))

	assert.Equal(t, float64(2), f.metricValue(t, "testematch_ledger_accounts_audited_total", nil))
	assert.Equal(t, float64(1), f.metricValue(t, "testematch_ledger_balance_mismatch_total", nil))
	assert.Equal(t, float64(3), f.metricValue(t, "testematch_ledger_balance_drift_credits", nil))
	assert.Equal(t, float64(1), f.metricValue(t, "testematch_scheduler_job_runs_total", map[string]string{"job": JobLedgerAudit}))
	// stale_jobs is off without a timeout.
	assert.Zero(t, f.metricValue(t, "testematch_scheduler_job_runs_total", map[string]string{"job": JobStaleJobs}))

	// The audit never repairs.
	assert.Equal(t, int64(8), ledgertest.Balance(t, f.db, drifted.ID))
}

func TestStaleJobsAreFailedAndRefunded(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 10, StaleJobTimeout: 30 * time.Minute, EnabledJobs: []string{JobStaleJobs}})
	ctx := context.Background()
	acc := ledgertest.CreateAccount(t, f.db, f.node, "52998224725", 4)

	job, err := f.analysis.Reserve(ctx, analysisdomain.ReserveRequest{AccountID: acc.ID, Tier: "complete"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ledgertest.Balance(t, f.db, acc.ID))

	require.NoError(t, f.sched.RunOnce(ctx))
	still, err := f.analysis.Status(ctx, acc.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, analysisdomain.StatusPending, still.Status)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))

	failed, err := f.analysis.Status(ctx, acc.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, analysisdomain.StatusFailed, failed.Status)
	assert.Equal(t, int64(4), ledgertest.Balance(t, f.db, acc.ID))
	ledgertest.RequireConsistent(t, f.db, acc.ID)
	assert.Equal(t, float64(1), f.metricValue(t, "testematch_stale_jobs_failed_total", nil))
	assert.Zero(t, f.metricValue(t, "testematch_scheduler_job_runs_total", map[string]string{"job": JobLedgerAudit}))

	// A second pass finds nothing left to fail.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, float64(1), f.metricValue(t, "testematch_stale_jobs_failed_total", nil))
}

func TestIsJobEnabled(t *testing.T) {
	s := &Scheduler{cfg: Config{}.withDefaults()}
	assert.True(t, s.isJobEnabled(JobLedgerAudit))

	s.cfg.EnabledJobs = []string{"LEDGER_AUDIT"}
	assert.True(t, s.isJobEnabled(JobLedgerAudit))
	assert.False(t, s.isJobEnabled(JobStaleJobs))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{StaleJobTimeout: -time.Second}.withDefaults()
	assert.Equal(t, 5*time.Minute, cfg.RunInterval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
	assert.Zero(t, cfg.StaleJobTimeout)
}
