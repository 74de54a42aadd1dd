package balance

// #region config
// Config holds the parameters of a detailed-balance check.
type Config struct {
	Beta          float64 // inverse temperature applied to potential differences
	Alpha         float64 // Laplace smoothing added to each direction's count
	Chi2Threshold float64 // passed when chi2/ndf is below this
	TopK          int     // number of violations kept in the result
}

// DefaultConfig returns the thresholds used by the report.
func DefaultConfig() Config {
	return Config{
		Beta:          1.0,
		Alpha:         0.5,
		Chi2Threshold: 3.0,
		TopK:          10,
	}
}

// #endregion config

// #region violation
// Violation is the per-edge contribution to chi-squared, one per reversible pair.
type Violation struct {
	FromState        string  `json:"from_state"`
	ToState          string  `json:"to_state"`
	ExpectedLogRatio float64 `json:"expected_log_ratio"`
	ObservedLogRatio float64 `json:"observed_log_ratio"`
	Residual         float64 `json:"residual"`
	Chi2Contribution float64 `json:"chi2_contribution"`
	ForwardCount     int     `json:"forward_count"`
	BackwardCount    int     `json:"backward_count"`
}

// #endregion violation

// #region result
// Result summarizes a detailed-balance check.
type Result struct {
	Chi2        float64     `json:"chi2"`
	NDF         int         `json:"ndf"`
	Chi2PerNDF  float64     `json:"chi2_per_ndf"`
	PValue      float64     `json:"p_value"`
	Passed      bool        `json:"passed"`
	Threshold   float64     `json:"threshold"`
	EdgesTested int         `json:"edges_tested"`
	Violations  []Violation `json:"top_violations"`
	Summary     string      `json:"summary"`
}

// #endregion result

// #region drive
// Direction says which way an edge is over-represented relative to the potential.
type Direction string

const (
	ForwardExcess  Direction = "forward_excess"
	BackwardExcess Direction = "backward_excess"
)

// Severity grades how far a violation is above the drive threshold.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Drive is a violation classified as a persistent directional push.
type Drive struct {
	FromState        string    `json:"from_state"`
	ToState          string    `json:"to_state"`
	Direction        Direction `json:"direction"`
	Chi2Contribution float64   `json:"chi2_contribution"`
	Severity         Severity  `json:"severity"`
	Recommendation   string    `json:"recommendation"`
}

// #endregion drive
