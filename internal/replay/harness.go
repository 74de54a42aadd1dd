package replay

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// #region types

// Recorder is the write side of the transition store.
type Recorder interface {
	RecordState(st state.State) error
	RecordTransitions(ts []transition.Transition) error
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Rollouts    int
	States      int
	Transitions int
	Domains     []string
}

// #endregion types

// #region replay

// Replay turns rollouts into distinct states and their transitions, in
// rollout order. Operates entirely in-memory.
func Replay(rollouts []FixtureRollout) ([]state.State, []transition.Transition, error) {
	var states []state.State
	seen := make(map[string]bool)
	var transitions []transition.Transition

	for _, r := range rollouts {
		if r.RolloutID == "" {
			return nil, nil, fmt.Errorf("replay: rollout without id")
		}
		var prev state.State
		for i := range r.Steps {
			step := &r.Steps[i]
			cur, err := step.ToState(r.Domain, r.JobType)
			if err != nil {
				return nil, nil, fmt.Errorf("replay: rollout %s step %d: %w", r.RolloutID, i, err)
			}
			if !seen[cur.ID] {
				seen[cur.ID] = true
				states = append(states, cur)
			}
			if i > 0 {
				transitions = append(transitions, step.ToTransition(r.RolloutID, prev, cur, i-1))
			}
			prev = cur
		}
	}
	return states, transitions, nil
}

// Ingest replays rollouts into rec. States are written before the
// transitions that reference them; re-ingesting a fixture is a no-op.
func Ingest(rec Recorder, rollouts []FixtureRollout) (ReplaySummary, error) {
	states, transitions, err := Replay(rollouts)
	if err != nil {
		return ReplaySummary{}, err
	}
	if err := Write(rec, states, transitions); err != nil {
		return ReplaySummary{}, err
	}
	return Summarize(rollouts, states, transitions), nil
}

// Write records states and then transitions.
func Write(rec Recorder, states []state.State, transitions []transition.Transition) error {
	for _, s := range states {
		if err := rec.RecordState(s); err != nil {
			return fmt.Errorf("ingest state %s: %w", s.ID, err)
		}
	}
	if err := rec.RecordTransitions(transitions); err != nil {
		return fmt.Errorf("ingest transitions: %w", err)
	}
	return nil
}

// Summarize computes aggregate stats from a replay.
func Summarize(rollouts []FixtureRollout, states []state.State, transitions []transition.Transition) ReplaySummary {
	s := ReplaySummary{
		Rollouts:    len(rollouts),
		States:      len(states),
		Transitions: len(transitions),
	}
	domains := make(map[string]bool)
	for _, st := range states {
		domains[st.Domain] = true
	}
	for d := range domains {
		s.Domains = append(s.Domains, d)
	}
	sort.Strings(s.Domains)
	return s
}

// #endregion replay
