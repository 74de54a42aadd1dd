package logging

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// one connection, so every query sees the same in-memory database
	db.SetMaxOpenConns(1)
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-report-tests
func TestLogReport_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := ReportEntry{
		ReportID:         "rep-1",
		SchemaVersion:    "1.0",
		Chi2PerNDF:       1.25,
		Passed:           true,
		EquilibriumScore: 0.81,
		GlobalActionRate: 0.6,
		TrapCount:        2,
		OutputPath:       "/tmp/report.json",
		CreatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogReport(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM report_log").Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	var chi2 float64
	var passed, traps int
	db.QueryRow("SELECT chi2_per_ndf, passed, trap_count FROM report_log").Scan(&chi2, &passed, &traps)
	if chi2 != 1.25 || passed != 1 || traps != 2 {
		t.Errorf("unexpected row: chi2=%v passed=%d traps=%d", chi2, passed, traps)
	}
}

func TestLogReport_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	before := time.Now().UTC()
	if err := LogReport(db, ReportEntry{ReportID: "rep-2", SchemaVersion: "1.0"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	db.QueryRow("SELECT created_at FROM report_log").Scan(&createdAtStr)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogReport_EmptyOptionalFields(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	if err := LogReport(db, ReportEntry{ReportID: "rep-3", SchemaVersion: "1.0"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var domain, path sql.NullString
	db.QueryRow("SELECT domain, output_path FROM report_log").Scan(&domain, &path)
	if domain.Valid {
		t.Error("expected NULL domain for empty string")
	}
	if path.Valid {
		t.Error("expected NULL output_path for empty string")
	}
}

func TestLogReport_Errors(t *testing.T) {
	db := setupDB(t)
	if err := LogReport(db, ReportEntry{SchemaVersion: "1.0"}); err == nil {
		t.Fatal("expected error for empty report id")
	}
	db.Close() // close to force error

	if err := LogReport(db, ReportEntry{ReportID: "rep-4"}); err == nil {
		t.Fatal("expected error on closed db")
	}
}

func TestRecentReports_NewestFirst(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		e := ReportEntry{
			ReportID:      id,
			SchemaVersion: "1.0",
			Domain:        "backend",
			Passed:        i%2 == 0,
			TrapCount:     i,
			CreatedAt:     base.Add(time.Duration(i) * time.Hour),
		}
		if err := LogReport(db, e); err != nil {
			t.Fatalf("log %s: %v", id, err)
		}
	}

	got, err := RecentReports(db, 2)
	if err != nil {
		t.Fatalf("RecentReports: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].ReportID != "new" || got[1].ReportID != "mid" {
		t.Errorf("unexpected order: %s, %s", got[0].ReportID, got[1].ReportID)
	}
	if !got[0].Passed || got[1].Passed || got[0].TrapCount != 2 || got[0].Domain != "backend" {
		t.Errorf("unexpected decode: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("created_at = %v", got[0].CreatedAt)
	}
}

// #endregion log-report-tests

// #region new-logger-tests
func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "edges", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line above warn level, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "kept" || rec["edges"] != float64(3) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewLogger_Rejects(t *testing.T) {
	if _, err := NewLogger(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := NewLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

// #endregion new-logger-tests

// #region null-if-empty-tests
func TestNullIfEmpty_Empty(t *testing.T) {
	result := nullIfEmpty("")
	if result != nil {
		t.Errorf("expected nil for empty string, got %v", result)
	}
}

func TestNullIfEmpty_NonEmpty(t *testing.T) {
	result := nullIfEmpty("hello")
	if result != "hello" {
		t.Errorf("expected 'hello', got %v", result)
	}
}

// #endregion null-if-empty-tests
