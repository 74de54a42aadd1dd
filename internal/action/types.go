package action

// #region config
// Config holds trap-detection thresholds.
type Config struct {
	ActionLow   float64 // action rate below this counts as stuck
	DeltaVLow   float64 // max potential descent to any neighbour below this counts as flat
	MinOutgoing int     // states with fewer outgoing transitions are not judged
}

// DefaultConfig returns the thresholds used by the report.
func DefaultConfig() Config {
	return Config{
		ActionLow:   0.3,
		DeltaVLow:   0.1,
		MinOutgoing: 5,
	}
}

// #endregion config

// #region domain-action
// DomainAction is the progress breakdown for one domain.
type DomainAction struct {
	Transitions int     `json:"transitions"`
	Progress    int     `json:"progress"`
	ActionRate  float64 `json:"action_rate"`
}

// #endregion domain-action

// #region trap
// Trap is a state with options but no useful ones.
type Trap struct {
	StateID    string  `json:"state_id"`
	Domain     string  `json:"domain"`
	Outgoing   int     `json:"outgoing"`
	ActionRate float64 `json:"action_rate"`
	MaxDescent float64 `json:"max_descent"`
}

// #endregion trap

// #region summary
// Summary is the output of Analyze.
type Summary struct {
	GlobalActionRate float64                 `json:"global_action_rate"`
	ByDomain         map[string]DomainAction `json:"by_domain"`
	Traps            []Trap                  `json:"traps"`
}

// #endregion summary
