package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a rollout fixture: recorded
// executions that can be replayed into a transition store.
type Fixture struct {
	Description string           `json:"description"`
	Rollouts    []FixtureRollout `json:"rollouts"`
	Expected    FixtureExpected  `json:"expected"`
}

// FixtureRollout is one execution, as the ordered states it passed through.
type FixtureRollout struct {
	RolloutID string        `json:"rollout_id"`
	Domain    string        `json:"domain"`
	JobType   string        `json:"job_type"`
	Steps     []FixtureStep `json:"steps"`
}

// FixtureStep is a state visit plus the action that led into it. The first
// step of a rollout has no incoming action.
type FixtureStep struct {
	Features     map[string]string  `json:"features"`
	Toolchain    string             `json:"toolchain"`
	Kind         string             `json:"kind"`
	ActionLabel  string             `json:"action_label"`
	Timestamp    time.Time          `json:"timestamp"`
	Observations map[string]float64 `json:"observations"`
}

// FixtureExpected captures counts a replay of the fixture must produce.
type FixtureExpected struct {
	States      int `json:"states"`
	Transitions int `json:"transitions"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToState converts a step to a state. The step's toolchain is the action
// that led here, not part of the state's identity.
func (fs *FixtureStep) ToState(domain, jobType string) (state.State, error) {
	b := state.NewFeatures()
	for k, v := range fs.Features {
		b.Set(k, v)
	}
	feats, err := b.Build()
	if err != nil {
		return state.State{}, err
	}
	return state.BuildState(domain, jobType, feats, state.PolicyKey{}), nil
}

// ToTransition converts the step into the transition that reached it.
func (fs *FixtureStep) ToTransition(rolloutID string, from, to state.State, ordinal int) transition.Transition {
	kind := transition.Kind(fs.Kind)
	if fs.Kind == "" {
		kind = transition.KindTool
	}
	return transition.Transition{
		RolloutID:    rolloutID,
		FromState:    from.ID,
		ToState:      to.ID,
		Kind:         kind,
		ActionLabel:  fs.ActionLabel,
		Context:      transition.Context{Toolchain: fs.Toolchain},
		Timestamp:    fs.Timestamp,
		Ordinal:      ordinal,
		Observations: fs.Observations,
	}
}

// #endregion fixture-loader
