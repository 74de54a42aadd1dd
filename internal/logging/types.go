package logging

import "time"

// #region report-entry
// ReportEntry is a single row in the report_log table: the headline numbers of
// one dynamics report, kept so drift can be tracked across builds.
type ReportEntry struct {
	ReportID         string    `json:"report_id"`
	SchemaVersion    string    `json:"schema_version"`
	Domain           string    `json:"domain,omitempty"` // "" for a global report
	Chi2PerNDF       float64   `json:"chi2_per_ndf"`
	Passed           bool      `json:"passed"`
	EquilibriumScore float64   `json:"equilibrium_score"`
	GlobalActionRate float64   `json:"global_action_rate"`
	TrapCount        int       `json:"trap_count"`
	OutputPath       string    `json:"output_path,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// #endregion report-entry
