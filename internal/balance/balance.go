package balance

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/dynerr"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/potential"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// #region verify
// Verify tests whether observed transition counts are explained by the
// potential v. For each reversible pair (a, b):
//
//	observed = log((n_ab+α)/(n_ba+α))
//	expected = β·(V(a)−V(b))
//	chi2    += (observed−expected)² / (1/(n_ab+α) + 1/(n_ba+α))
//
// ndf = max(pairs−1, 1). With no reversible pairs the result is a vacuous pass.
func Verify(counts transition.Counts, v map[string]float64, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}

	pairs := counts.ReversiblePairs()
	violations := make([]Violation, 0, len(pairs))
	var chi2 float64
	for _, e := range pairs {
		nab, nba := counts[e], counts[e.Reverse()]
		observed := potential.LogRatio(nab, nba, cfg.Alpha)
		expected := cfg.Beta * (v[e.From] - v[e.To])
		residual := observed - expected
		contrib := residual * residual / potential.Variance(nab, nba, cfg.Alpha)
		chi2 += contrib
		violations = append(violations, Violation{
			FromState:        e.From,
			ToState:          e.To,
			ExpectedLogRatio: expected,
			ObservedLogRatio: observed,
			Residual:         residual,
			Chi2Contribution: contrib,
			ForwardCount:     nab,
			BackwardCount:    nba,
		})
	}

	ndf := len(pairs) - 1
	if ndf < 1 {
		ndf = 1
	}
	perNDF := chi2 / float64(ndf)

	sortViolations(violations)
	if len(violations) > cfg.TopK {
		violations = violations[:cfg.TopK]
	}

	res := Result{
		Chi2:        chi2,
		NDF:         ndf,
		Chi2PerNDF:  perNDF,
		PValue:      pValue(chi2, ndf),
		Passed:      perNDF < cfg.Chi2Threshold,
		Threshold:   cfg.Chi2Threshold,
		EdgesTested: len(pairs),
		Violations:  violations,
	}
	res.Summary = summarize(res)
	return res, nil
}

func (c Config) validate() error {
	switch {
	case !(c.Alpha > 0):
		return dynerr.Config("verify detailed balance", "alpha must be > 0, got %v", c.Alpha)
	case !(c.Chi2Threshold > 0):
		return dynerr.Config("verify detailed balance", "chi2 threshold must be > 0, got %v", c.Chi2Threshold)
	case !(c.Beta > 0):
		return dynerr.Config("verify detailed balance", "beta must be > 0, got %v", c.Beta)
	case c.TopK < 0:
		return dynerr.Config("verify detailed balance", "top_k must be >= 0, got %d", c.TopK)
	}
	return nil
}

// #endregion verify

// #region equilibrium-score
// EquilibriumScore maps chi2/ndf to [0, 1] through a decreasing sigmoid
// centred at threshold with scale threshold/2: 1 is a perfect fit, 0.5 sits
// on the threshold.
func EquilibriumScore(chi2PerNDF, threshold float64) float64 {
	if !(threshold > 0) {
		return 0
	}
	score := 1 / (1 + math.Exp((chi2PerNDF-threshold)/(threshold/2)))
	return math.Max(0, math.Min(1, score))
}

// #endregion equilibrium-score

// #region drives
// NonEquilibriumDrives classifies violations whose contribution reaches
// minContribution. A positive residual means the forward direction is taken
// more often than the potential predicts.
func NonEquilibriumDrives(violations []Violation, minContribution float64) []Drive {
	drives := []Drive{}
	for _, v := range violations {
		if v.Chi2Contribution < minContribution {
			continue
		}
		dir := BackwardExcess
		if v.Residual > 0 {
			dir = ForwardExcess
		}
		sev := severity(v.Chi2Contribution, minContribution)
		drives = append(drives, Drive{
			FromState:        v.FromState,
			ToState:          v.ToState,
			Direction:        dir,
			Chi2Contribution: v.Chi2Contribution,
			Severity:         sev,
			Recommendation:   recommendation(sev, dir),
		})
	}
	return drives
}

func severity(contrib, min float64) Severity {
	switch {
	case contrib >= 4*min:
		return SeverityHigh
	case contrib >= 2*min:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func recommendation(sev Severity, dir Direction) string {
	over := "forward"
	if dir == BackwardExcess {
		over = "backward"
	}
	switch sev {
	case SeverityHigh:
		return fmt.Sprintf("strong %s bias: audit the toolchain or gate driving this edge and raise exploration", over)
	case SeverityMedium:
		return fmt.Sprintf("persistent %s bias: monitor and consider diversifying strategies from the source state", over)
	default:
		return fmt.Sprintf("mild %s bias: no action needed yet", over)
	}
}

// #endregion drives

// #region helpers
// sortViolations orders by descending contribution, ties by (from, to).
func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Chi2Contribution != vs[j].Chi2Contribution {
			return vs[i].Chi2Contribution > vs[j].Chi2Contribution
		}
		if vs[i].FromState != vs[j].FromState {
			return vs[i].FromState < vs[j].FromState
		}
		return vs[i].ToState < vs[j].ToState
	})
}

// pValue is the upper-tail probability of chi2 under ndf degrees of freedom.
func pValue(chi2 float64, ndf int) float64 {
	if chi2 <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: float64(ndf)}.Survival(chi2)
}

func summarize(r Result) string {
	if r.EdgesTested == 0 {
		return "no reversible edges observed; detailed balance holds vacuously"
	}
	verdict := "consistent with a potential-driven process"
	if !r.Passed {
		verdict = "not explained by a single potential"
	}
	return fmt.Sprintf("chi2/ndf=%.3f over %d reversible edges (threshold %.2f): %s",
		r.Chi2PerNDF, r.EdgesTested, r.Threshold, verdict)
}

// #endregion helpers
