// Package synth generates synthetic transition data with known structure:
// counts drawn from a planted potential, circulating rings that no potential
// explains, and rollouts with fixed toolchain success rates.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// #region graphs
// Complete returns every unordered index pair of an n-node graph.
func Complete(n int) [][2]int {
	var edges [][2]int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			edges = append(edges, [2]int{i, j})
		}
	}
	return edges
}

// Chain returns the edges of a path 0-1-...-(n-1).
func Chain(n int) [][2]int {
	var edges [][2]int
	for i := 0; i+1 < n; i++ {
		edges = append(edges, [2]int{i, i + 1})
	}
	return edges
}

// IDs returns n readable state ids with the given prefix.
func IDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%02d", prefix, i)
	}
	return ids
}

// #endregion graphs

// #region planted
// PlantedCounts draws counts that satisfy detailed balance under potential v.
// Each edge {i, j} carries lambda expected transitions in total, split so that
// E[n_ij]/E[n_ji] = exp(v[i]-v[j]); each direction is a Poisson draw.
func PlantedCounts(ids []string, v []float64, edges [][2]int, lambda float64, seed uint64) transition.Counts {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	counts := make(transition.Counts, 2*len(edges))
	for _, e := range edges {
		i, j := e[0], e[1]
		pForward := 1 / (1 + math.Exp(-(v[i] - v[j])))
		fwd := distuv.Poisson{Lambda: lambda * pForward, Src: src}.Rand()
		bwd := distuv.Poisson{Lambda: lambda * (1 - pForward), Src: src}.Rand()
		if fwd > 0 {
			counts[transition.Edge{From: ids[i], To: ids[j]}] = int(fwd)
		}
		if bwd > 0 {
			counts[transition.Edge{From: ids[j], To: ids[i]}] = int(bwd)
		}
	}
	return counts
}

// RingCounts builds a directed cycle ids[0]→ids[1]→…→ids[0] where every hop
// is taken forward times and reversed backward times. With forward ≠ backward
// the flow circulates, which no potential can explain.
func RingCounts(ids []string, forward, backward int) transition.Counts {
	counts := make(transition.Counts, 2*len(ids))
	for i := range ids {
		a, b := ids[i], ids[(i+1)%len(ids)]
		counts[transition.Edge{From: a, To: b}] += forward
		counts[transition.Edge{From: b, To: a}] += backward
	}
	return counts
}

// #endregion planted

// #region router-scenario
// Outcome fixes how often a toolchain reaches a success phase from the query state.
type Outcome struct {
	Toolchain   string
	Attempts    int
	SuccessRate float64
}

// Scenario is a small synthetic history for one query state.
type Scenario struct {
	Query       state.State
	States      []state.State
	Transitions []transition.Transition
}

// RouterScenario builds five states in one domain: the query state (plan),
// an edit, a test, a verified and a failed state. Each outcome contributes
// Attempts transitions out of the query state, round(SuccessRate*Attempts) of
// them into the verified state and the rest into the failed state. filler
// extra edit↔test transitions pad the history without touching the query state.
func RouterScenario(domain, jobType string, outcomes []Outcome, filler int) Scenario {
	mk := func(phase string) state.State {
		feats := state.NewFeatures().
			Set(state.FeaturePhase, phase).
			Set(state.FeatureDiffSize, state.DiffSizeBucket(25)).
			MustBuild()
		return state.BuildState(domain, jobType, feats, state.PolicyKey{})
	}
	query := mk(state.PhasePlan)
	edit, test := mk(state.PhaseEdit), mk(state.PhaseTest)
	verified, failed := mk(state.PhaseVerified), mk(state.PhaseFailed)

	sc := Scenario{Query: query, States: []state.State{query, edit, test, verified, failed}}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, o := range outcomes {
		successes := int(math.Round(o.SuccessRate * float64(o.Attempts)))
		for i := 0; i < o.Attempts; i++ {
			to := failed
			if i < successes {
				to = verified
			}
			sc.Transitions = append(sc.Transitions, transition.Transition{
				RolloutID:   RolloutID(o.Toolchain, i),
				FromState:   query.ID,
				ToState:     to.ID,
				Kind:        transition.KindTool,
				ActionLabel: "dispatch",
				Context:     transition.Context{Toolchain: o.Toolchain},
				Timestamp:   start.Add(time.Duration(len(sc.Transitions)) * time.Second),
			})
		}
	}
	for i := 0; i < filler; i++ {
		from, to := edit, test
		if i%2 == 1 {
			from, to = test, edit
		}
		sc.Transitions = append(sc.Transitions, transition.Transition{
			RolloutID:   RolloutID("filler", i),
			FromState:   from.ID,
			ToState:     to.ID,
			Kind:        transition.KindStage,
			ActionLabel: "iterate",
			Timestamp:   start.Add(time.Duration(len(sc.Transitions)) * time.Second),
		})
	}
	return sc
}

// RolloutID derives a stable rollout id for synthetic data.
func RolloutID(label string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("synth/%s/%d", label, i))).String()
}

// #endregion router-scenario

// #region random-walk
// WalkConfig parameterizes RandomWalk.
type WalkConfig struct {
	Domains    []string
	JobType    string
	Toolchains []string
	// Success maps toolchain -> probability of advancing a phase on each step.
	Success  map[string]float64
	Rollouts int
	MaxSteps int
	Seed     uint64
}

// RandomWalk simulates rollouts through plan → edit → test → verified, where
// each step advances with the toolchain's success probability and otherwise
// falls back to edit (or fails outright on the last step). Used to seed demo
// databases.
func RandomWalk(cfg WalkConfig) ([]state.State, []transition.Transition) {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	ladder := []string{state.PhasePlan, state.PhaseEdit, state.PhaseTest, state.PhaseVerified}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seen := make(map[string]state.State)
	var transitions []transition.Transition
	record := func(s state.State) state.State {
		seen[s.ID] = s
		return s
	}

	for r := 0; r < cfg.Rollouts; r++ {
		domain := cfg.Domains[r%len(cfg.Domains)]
		tc := cfg.Toolchains[rng.IntN(len(cfg.Toolchains))]
		p := cfg.Success[tc]
		rollout := RolloutID("walk-"+domain, r)
		mk := func(phase string, failures int) state.State {
			feats := state.NewFeatures().
				Set(state.FeaturePhase, phase).
				Set(state.FeatureFailures, state.CountBucket(failures)).
				MustBuild()
			return record(state.BuildState(domain, cfg.JobType, feats, state.PolicyKey{}))
		}

		level, failures := 0, 0
		cur := mk(ladder[level], failures)
		for step := 0; step < cfg.MaxSteps && cur.Phase() != state.PhaseVerified; step++ {
			var next state.State
			switch {
			case rng.Float64() < p:
				level++
				next = mk(ladder[level], failures)
			case step == cfg.MaxSteps-1:
				next = mk(state.PhaseFailed, failures)
			default:
				failures++
				level = 1
				next = mk(state.PhaseEdit, failures)
			}
			transitions = append(transitions, transition.Transition{
				RolloutID:   rollout,
				FromState:   cur.ID,
				ToState:     next.ID,
				Kind:        transition.KindTool,
				ActionLabel: next.Phase(),
				Context:     transition.Context{Toolchain: tc},
				Timestamp:   start.Add(time.Duration(r)*time.Minute + time.Duration(step)*time.Second),
				Ordinal:     step,
			})
			cur = next
		}
	}

	states := make([]state.State, 0, len(seen))
	for _, s := range seen {
		states = append(states, s)
	}
	return states, transitions
}

// #endregion random-walk
