package action

import (
	"math"
	"sort"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/dynerr"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// UnknownDomain groups transitions whose source state was never recorded.
const UnknownDomain = "unknown"

// #region analyze
// Analyze computes action rates and flags traps.
//
// A transition is progress when it leaves its state; self-loops are repetition.
// A state is a trap when it has at least MinOutgoing outgoing transitions, its
// action rate is below ActionLow, and no neighbour lies DeltaVLow or more
// below it in potential.
func Analyze(counts transition.Counts, v map[string]float64, states map[string]state.State, cfg Config) (Summary, error) {
	if err := cfg.validate(); err != nil {
		return Summary{}, err
	}

	type stateStats struct {
		outgoing    int
		progress    int
		maxDescent  float64
		hasNeighbor bool
	}
	per := make(map[string]*stateStats)
	byDomain := make(map[string]DomainAction)
	var total, progress int

	for e, n := range counts {
		if n <= 0 {
			continue
		}
		st := per[e.From]
		if st == nil {
			st = &stateStats{maxDescent: math.Inf(-1)}
			per[e.From] = st
		}
		st.outgoing += n

		dom := domainOf(states, e.From)
		da := byDomain[dom]
		da.Transitions += n
		total += n

		if e.From != e.To {
			st.progress += n
			da.Progress += n
			progress += n
			st.hasNeighbor = true
			if d := v[e.From] - v[e.To]; d > st.maxDescent {
				st.maxDescent = d
			}
		}
		byDomain[dom] = da
	}

	for dom, da := range byDomain {
		da.ActionRate = rate(da.Progress, da.Transitions)
		byDomain[dom] = da
	}

	traps := []Trap{}
	for id, st := range per {
		if st.outgoing < cfg.MinOutgoing {
			continue
		}
		r := rate(st.progress, st.outgoing)
		if r >= cfg.ActionLow {
			continue
		}
		descent := 0.0
		if st.hasNeighbor {
			descent = st.maxDescent
		}
		if descent >= cfg.DeltaVLow {
			continue
		}
		traps = append(traps, Trap{
			StateID:    id,
			Domain:     domainOf(states, id),
			Outgoing:   st.outgoing,
			ActionRate: r,
			MaxDescent: descent,
		})
	}
	sort.Slice(traps, func(i, j int) bool { return traps[i].StateID < traps[j].StateID })

	return Summary{
		GlobalActionRate: rate(progress, total),
		ByDomain:         byDomain,
		Traps:            traps,
	}, nil
}

// #endregion analyze

// #region split
// SplitByDomain partitions counts by the domain of each edge's source state,
// so per-domain analyses can run independently.
func SplitByDomain(counts transition.Counts, states map[string]state.State) map[string]transition.Counts {
	out := make(map[string]transition.Counts)
	for e, n := range counts {
		dom := domainOf(states, e.From)
		if out[dom] == nil {
			out[dom] = make(transition.Counts)
		}
		out[dom][e] = n
	}
	return out
}

// #endregion split

// #region helpers
func (c Config) validate() error {
	switch {
	case !(c.ActionLow > 0):
		return dynerr.Config("analyze action", "action_low must be > 0, got %v", c.ActionLow)
	case !(c.DeltaVLow > 0):
		return dynerr.Config("analyze action", "delta_v_low must be > 0, got %v", c.DeltaVLow)
	case c.MinOutgoing <= 0:
		return dynerr.Config("analyze action", "min_outgoing must be > 0, got %d", c.MinOutgoing)
	}
	return nil
}

func domainOf(states map[string]state.State, id string) string {
	if s, ok := states[id]; ok && s.Domain != "" {
		return s.Domain
	}
	return UnknownDomain
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// #endregion helpers
