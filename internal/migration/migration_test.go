package migration

import (
	"testing"

	"github.com/smallbiznis/testematch/pkg/db"
)

func TestApplySchemaIsIdempotent(t *testing.T) {
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := ApplySchema(conn); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := ApplySchema(conn); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	for _, table := range []string{"accounts", "analysis_jobs", "ledger_entries", "plans", "payment_events", "audit_logs"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}

func TestSchemaRejectsNegativeBalance(t *testing.T) {
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := ApplySchema(conn); err != nil {
		t.Fatalf("apply: %v", err)
	}

	err = conn.Exec(`INSERT INTO accounts (id, external_id, email, password_hash, balance, created_at, updated_at)
		VALUES (1, '1', 'a@b.c', 'x', -1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`).Error
	if err == nil {
		t.Fatalf("expected check constraint violation")
	}
}
