// Package audit persists a durable record of orchestrator-level decisions
// (capability grants/denials, errors surfaced to a widget, OpenID issuance)
// to SQLite. This is a supplement beyond spec.md's core (the reducer itself
// is explicitly non-persistent — spec.md §1's non-goal "persisting state
// across process restarts" covers the machine State, not an external audit
// trail of what the machine decided), grounded on the teacher's own audit
// log store.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/matrix-org/widget-driver/common/trace"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Kind is a machine-readable audit event category.
type Kind string

const (
	KindCapabilityRequested Kind = "capability.requested"
	KindCapabilityApproved  Kind = "capability.approved"
	KindCapabilityDenied    Kind = "capability.denied"
	KindEventForwarded      Kind = "event.forwarded"
	KindEventDenied         Kind = "event.denied"
	KindOpenIDIssued        Kind = "openid.issued"
	KindOpenIDBlocked       Kind = "openid.blocked"
	KindErrorSurfaced       Kind = "error.surfaced"
)

// Event is one audit record.
type Event struct {
	WidgetID string
	Kind     Kind
	Detail   string
	TraceID  string
}

// Log persists Events to a SQLite-backed audit trail.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the audit database at path and runs
// pending migrations.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: set pragma: %w", err)
		}
	}

	l := &Log{db: db}
	if err := l.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: run migrations: %w", err)
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends evt to the audit trail. TraceID is read from ctx if not set
// on evt. Failures are logged rather than propagated: a write to the audit
// trail must never block or fail the operation it is describing.
func (l *Log) Record(ctx context.Context, evt Event) {
	traceID := evt.TraceID
	if traceID == "" {
		traceID = trace.FromContext(ctx)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (trace_id, widget_id, kind, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, traceID, evt.WidgetID, string(evt.Kind), evt.Detail, time.Now())
	if err != nil {
		slog.Error("audit: failed to record event", "kind", evt.Kind, "widget_id", evt.WidgetID, "err", err)
	}
}

func (l *Log) runMigrations() error {
	if _, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		slog.Info("audit: applied migration", "version", version)
	}

	return nil
}
