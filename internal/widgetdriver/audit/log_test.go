package audit_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/audit"
)

func TestLog_RecordPersistsEvent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	log, err := audit.Open(dbPath)
	if err != nil {
		t.Fatalf("unexpected error opening audit log: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	log.Record(ctx, audit.Event{WidgetID: "widget-1", Kind: audit.KindCapabilityApproved, Detail: "granted"})
	log.Record(ctx, audit.Event{WidgetID: "widget-1", Kind: audit.KindEventForwarded, Detail: "m.room.message"})

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to reopen database for assertions: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE widget_id = ?", "widget-1").Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 audit rows, got %d", count)
	}

	var kind, detail string
	if err := db.QueryRow("SELECT kind, detail FROM audit_log WHERE widget_id = ? ORDER BY id ASC LIMIT 1", "widget-1").Scan(&kind, &detail); err != nil {
		t.Fatalf("failed to read first row: %v", err)
	}
	if kind != string(audit.KindCapabilityApproved) || detail != "granted" {
		t.Fatalf("unexpected first row: kind=%s detail=%s", kind, detail)
	}
}

func TestLog_OpenRunsMigrationsIdempotently(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	log1, err := audit.Open(dbPath)
	if err != nil {
		t.Fatalf("unexpected error on first open: %v", err)
	}
	log1.Close()

	log2, err := audit.Open(dbPath)
	if err != nil {
		t.Fatalf("unexpected error on second open: %v", err)
	}
	defer log2.Close()
}
