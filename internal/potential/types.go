package potential

import "math"

// #region fit-info
// FitInfo reports global diagnostics of a potential fit.
type FitInfo struct {
	EdgesUsed       int      `json:"edges_used"`
	RMSELogRatio    float64  `json:"rmse_logratio"`
	Components      int      `json:"components"`
	ReferenceStates []string `json:"reference_states"`
	// Isolated lists states with no reversible edge. Their potential is 0 by convention.
	Isolated []string `json:"isolated_states"`
}

// #endregion fit-info

// #region result
// Result is a fitted potential. It is a pure function of a counts snapshot
// and alpha, and is recomputed for every report.
type Result struct {
	V       map[string]float64 `json:"by_state"`
	Stderr  map[string]float64 `json:"stderr"`
	FitInfo FitInfo            `json:"fit_info"`
}

// Diff returns V(a) - V(b); states without a potential count as 0.
func (r Result) Diff(a, b string) float64 {
	return r.V[a] - r.V[b]
}

// #endregion result

// #region smoothing
// LogRatio is the Laplace-smoothed empirical log-odds log((n_ab+α)/(n_ba+α)).
func LogRatio(nab, nba int, alpha float64) float64 {
	return math.Log((float64(nab) + alpha) / (float64(nba) + alpha))
}

// Variance is the approximate variance of LogRatio: 1/(n_ab+α) + 1/(n_ba+α).
func Variance(nab, nba int, alpha float64) float64 {
	return 1/(float64(nab)+alpha) + 1/(float64(nba)+alpha)
}

// #endregion smoothing
