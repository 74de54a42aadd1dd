package report

import (
	"time"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/action"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/balance"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/potential"
)

// SchemaVersion is bumped whenever a field of Report changes name or shape.
const SchemaVersion = "1.0"

// #region config
// Config gathers the analyzer settings a report is built with.
type Config struct {
	// Alpha smooths the potential fit. Balance.Alpha smooths the test.
	Alpha   float64
	Balance balance.Config
	Action  action.Config
	// Domain restricts the report to transitions leaving states of one
	// domain. Empty means every domain.
	Domain string
	// ExplorationStep is the size of one exploration-rate nudge.
	ExplorationStep float64
	// HealthyScore is the equilibrium score above which exploration is lowered.
	HealthyScore float64
}

// DefaultConfig returns the analyzer defaults with a 0.05 exploration step.
func DefaultConfig() Config {
	b := balance.DefaultConfig()
	return Config{
		Alpha:           b.Alpha,
		Balance:         b,
		Action:          action.DefaultConfig(),
		ExplorationStep: 0.05,
		HealthyScore:    0.8,
	}
}

// #endregion config

// #region report
// Report is the JSON hand-off to the exploration feedback loop.
type Report struct {
	SchemaVersion             string           `json:"schema_version"`
	GeneratedAt               time.Time        `json:"generated_at"`
	Statistics                Statistics       `json:"statistics"`
	Potentials                potential.Result `json:"potentials"`
	Action                    Action           `json:"action"`
	Balance                   Balance          `json:"balance"`
	TrapsDetected             []action.Trap    `json:"traps_detected"`
	ControllerRecommendations Recommendations  `json:"controller_recommendations"`
}

// Statistics sizes the data a report was built from.
type Statistics struct {
	TotalStates      int   `json:"total_states"`
	TotalTransitions int   `json:"total_transitions"`
	ReversibleEdges  int   `json:"reversible_edges"`
	SkippedRows      int64 `json:"skipped_rows"`
}

// Action is the progress section.
type Action struct {
	GlobalActionRate float64                        `json:"global_action_rate"`
	ByDomain         map[string]action.DomainAction `json:"by_domain"`
}

// Balance is the detailed-balance section.
type Balance struct {
	Chi2                 float64                  `json:"chi2"`
	NDF                  int                      `json:"ndf"`
	Chi2PerNDF           float64                  `json:"chi2_per_ndf"`
	PValue               float64                  `json:"p_value"`
	Passed               bool                     `json:"passed"`
	EquilibriumScore     float64                  `json:"equilibrium_score"`
	Summary              string                   `json:"summary"`
	TopViolations        []balance.Violation      `json:"top_violations"`
	NonEquilibriumDrives []balance.Drive          `json:"non_equilibrium_drives"`
	ByDomain             map[string]DomainBalance `json:"by_domain"`
}

// DomainBalance is the balance test run on one domain's transitions alone.
type DomainBalance struct {
	Chi2PerNDF       float64 `json:"chi2_per_ndf"`
	Passed           bool    `json:"passed"`
	EdgesTested      int     `json:"edges_tested"`
	EquilibriumScore float64 `json:"equilibrium_score"`
}

// Recommendations tells the feedback loop which way to move exploration.
type Recommendations struct {
	ExplorationRateDelta float64  `json:"exploration_rate_delta"`
	Reasons              []string `json:"reasons"`
}

// #endregion report
