package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const reportLogSchema = `
CREATE TABLE IF NOT EXISTS report_log (
	report_id          TEXT PRIMARY KEY,
	schema_version     TEXT NOT NULL,
	domain             TEXT,
	chi2_per_ndf       REAL NOT NULL,
	passed             INTEGER NOT NULL,
	equilibrium_score  REAL NOT NULL,
	global_action_rate REAL NOT NULL,
	trap_count         INTEGER NOT NULL,
	output_path        TEXT,
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_report_log_created ON report_log(created_at);
`

// EnsureSchema creates the report_log table if it does not exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(reportLogSchema); err != nil {
		return fmt.Errorf("migrate report_log: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-report
// LogReport writes a report entry to the report_log table.
func LogReport(db *sql.DB, entry ReportEntry) error {
	if entry.ReportID == "" {
		return fmt.Errorf("log report: empty report id")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO report_log (report_id, schema_version, domain, chi2_per_ndf, passed, equilibrium_score,
		                         global_action_rate, trap_count, output_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ReportID,
		entry.SchemaVersion,
		nullIfEmpty(entry.Domain),
		entry.Chi2PerNDF,
		boolToInt(entry.Passed),
		entry.EquilibriumScore,
		entry.GlobalActionRate,
		entry.TrapCount,
		nullIfEmpty(entry.OutputPath),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log report: %w", err)
	}
	return nil
}

// #endregion log-report

// #region recent-reports
// RecentReports returns up to limit entries, newest first.
func RecentReports(db *sql.DB, limit int) ([]ReportEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(
		`SELECT report_id, schema_version, domain, chi2_per_ndf, passed, equilibrium_score,
		        global_action_rate, trap_count, output_path, created_at
		 FROM report_log ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query report_log: %w", err)
	}
	defer rows.Close()

	var out []ReportEntry
	for rows.Next() {
		var e ReportEntry
		var domain, path sql.NullString
		var passed int
		var created string
		if err := rows.Scan(&e.ReportID, &e.SchemaVersion, &domain, &e.Chi2PerNDF, &passed,
			&e.EquilibriumScore, &e.GlobalActionRate, &e.TrapCount, &path, &created); err != nil {
			return nil, fmt.Errorf("scan report_log: %w", err)
		}
		e.Domain = domain.String
		e.OutputPath = path.String
		e.Passed = passed != 0
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion recent-reports

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
