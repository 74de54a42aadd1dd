package potential

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/dynerr"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// #region estimate
// Estimate fits a scalar potential V per state such that
// LogRatio(a, b) ≈ V(a) - V(b) over every reversible edge, by weighted least
// squares with weights 1/Variance. The fit is shift-invariant, so the
// lexicographically smallest state of each connected component of the
// reversible-edge graph is pinned to 0.
//
// stateIDs lists states that must appear in the result even if they have no
// reversible edge; states present only in counts are included too.
func Estimate(counts transition.Counts, stateIDs []string, alpha float64) (Result, error) {
	if !(alpha > 0) {
		return Result{}, dynerr.Config("estimate potential", "alpha must be > 0, got %v", alpha)
	}

	all := unionIDs(stateIDs, counts.States())
	pairs := counts.ReversiblePairs()

	res := Result{
		V:      make(map[string]float64, len(all)),
		Stderr: make(map[string]float64, len(all)),
		FitInfo: FitInfo{
			EdgesUsed:       len(pairs),
			ReferenceStates: []string{},
			Isolated:        []string{},
		},
	}

	comps := components(pairs)
	connected := make(map[string]bool)
	unknown := make(map[string]int) // state id -> column in the reduced system
	for _, comp := range comps {
		// comp is sorted; comp[0] is the reference.
		res.FitInfo.ReferenceStates = append(res.FitInfo.ReferenceStates, comp[0])
		for i, id := range comp {
			connected[id] = true
			if i > 0 {
				unknown[id] = len(unknown)
			}
		}
	}
	res.FitInfo.Components = len(comps)

	for _, id := range all {
		res.V[id] = 0
		res.Stderr[id] = 0
		if !connected[id] {
			res.FitInfo.Isolated = append(res.FitInfo.Isolated, id)
		}
	}
	if len(pairs) == 0 {
		return res, nil
	}

	n := len(unknown)
	if n > 0 {
		x, cov, err := solveNormal(counts, pairs, unknown, alpha)
		if err != nil {
			return Result{}, err
		}
		for id, col := range unknown {
			res.V[id] = x.AtVec(col)
			res.Stderr[id] = math.Sqrt(math.Max(cov.At(col, col), 0))
		}
	}

	res.FitInfo.RMSELogRatio = rmse(counts, pairs, res.V, alpha)
	return res, nil
}

// #endregion estimate

// #region normal-equations
// solveNormal builds and solves (AᵀWA) x = AᵀWy where each reversible edge
// contributes a row with +1 at a and -1 at b, reference columns dropped.
// Returns the solution and (AᵀWA)⁻¹, the covariance of x under known weights.
func solveNormal(counts transition.Counts, pairs []transition.Edge, unknown map[string]int, alpha float64) (*mat.VecDense, mat.Matrix, error) {
	n := len(unknown)
	normal := mat.NewSymDense(n, nil)
	rhs := mat.NewVecDense(n, nil)

	for _, e := range pairs {
		nab, nba := counts[e], counts[e.Reverse()]
		y := LogRatio(nab, nba, alpha)
		w := 1 / Variance(nab, nba, alpha)

		ia, okA := unknown[e.From]
		ib, okB := unknown[e.To]
		if okA {
			normal.SetSym(ia, ia, normal.At(ia, ia)+w)
			rhs.SetVec(ia, rhs.AtVec(ia)+w*y)
		}
		if okB {
			normal.SetSym(ib, ib, normal.At(ib, ib)+w)
			rhs.SetVec(ib, rhs.AtVec(ib)-w*y)
		}
		if okA && okB {
			normal.SetSym(ia, ib, normal.At(ia, ib)-w)
		}
	}

	x := mat.NewVecDense(n, nil)
	var chol mat.Cholesky
	if chol.Factorize(normal) {
		if err := chol.SolveVecTo(x, rhs); err != nil {
			return nil, nil, dynerr.Wrap(dynerr.DegenerateFit, "estimate potential", err)
		}
		var inv mat.SymDense
		if err := chol.InverseTo(&inv); err != nil {
			return nil, nil, dynerr.Wrap(dynerr.DegenerateFit, "estimate potential", err)
		}
		return x, &inv, nil
	}

	// Not positive definite in floating point; fall back to a general inverse.
	var inv mat.Dense
	if err := inv.Inverse(normal); err != nil {
		return nil, nil, dynerr.Wrap(dynerr.DegenerateFit, "estimate potential", err)
	}
	x.MulVec(&inv, rhs)
	return x, &inv, nil
}

// #endregion normal-equations

// #region helpers
// components groups the reversible-edge graph into connected components,
// each sorted, ordered by their first id.
func components(pairs []transition.Edge) [][]string {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, e := range pairs {
		for _, id := range []string{e.From, e.To} {
			if _, ok := parent[id]; !ok {
				parent[id] = id
			}
		}
		ra, rb := find(e.From), find(e.To)
		if ra != rb {
			if ra < rb {
				parent[rb] = ra
			} else {
				parent[ra] = rb
			}
		}
	}

	groups := make(map[string][]string)
	for id := range parent {
		root := find(id)
		groups[root] = append(groups[root], id)
	}
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func rmse(counts transition.Counts, pairs []transition.Edge, v map[string]float64, alpha float64) float64 {
	sq := make(stats.Float64Data, 0, len(pairs))
	for _, e := range pairs {
		r := LogRatio(counts[e], counts[e.Reverse()], alpha) - (v[e.From] - v[e.To])
		sq = append(sq, r*r)
	}
	mean, err := stats.Mean(sq)
	if err != nil {
		return 0
	}
	return math.Sqrt(mean)
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// #endregion helpers
