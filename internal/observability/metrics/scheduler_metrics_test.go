package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/testematch/pkg/db"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "store_unavailable",
			err:  db.Unavailable(errors.New("connection refused")),
			want: SchedulerJobReasonStoreUnavailable,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveLedgerAudit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{
		ServiceName: "testematch",
		Environment: "test",
	})

	m.ObserveLedgerAudit(10, 2, -7)

	if got := testutil.ToFloat64(m.accountsAudited); got != 10 {
		t.Fatalf("expected 10 audited accounts, got %v", got)
	}
	if got := testutil.ToFloat64(m.ledgerMismatch); got != 2 {
		t.Fatalf("expected 2 mismatches, got %v", got)
	}
	if got := testutil.ToFloat64(m.ledgerDrift); got != 7 {
		t.Fatalf("expected drift 7, got %v", got)
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "testematch", Environment: "test"})

	m.AddBatchProcessed("ledger_audit", "accounts", 3)

	got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("ledger_audit", "accounts"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}
