package router

import (
	"time"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// PartialWeight is the default credit for reaching a test or edit phase
// instead of a finished one.
const PartialWeight = 0.5

// #region config
// Config controls how history is turned into toolchain probabilities.
type Config struct {
	CacheTTL      time.Duration
	PartialWeight float64
	SuccessPhases []string
	PartialPhases []string
}

// DefaultConfig returns a 5 minute cache and the standard phase weights.
func DefaultConfig() Config {
	return Config{
		CacheTTL:      300 * time.Second,
		PartialWeight: PartialWeight,
		SuccessPhases: []string{state.PhaseVerified, state.PhaseMerge, state.PhaseDone, state.PhaseSuccess},
		PartialPhases: []string{state.PhaseTest, state.PhaseEdit},
	}
}

// #endregion config

// #region history
// History is the read side of the transition store. ReadAll must report
// failure rather than degrade, so outages are never cached.
type History interface {
	ReadAll() (map[string]state.State, []transition.Transition, error)
}

// #endregion history

// #region query
// Query identifies the dispatch decision being made.
type Query struct {
	Domain   string
	JobType  string
	Features map[string]string
}

// Ranked is one candidate toolchain with its routing score.
type Ranked struct {
	Toolchain   string  `json:"toolchain"`
	Score       float64 `json:"score"`
	Probability float64 `json:"probability"`
	Known       bool    `json:"known"`
}

// #endregion query
