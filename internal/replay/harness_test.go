package replay

import (
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// helper: load the shared rollout fixture.
func loadRollouts(t *testing.T) *Fixture {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", "rollouts.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	return f
}

// helper: store in a temp dir, closed at test end.
func tempStore(t *testing.T) *transition.Store {
	t.Helper()
	s, err := transition.NewStore(filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestFixture_Rollouts replays the fixture in memory and checks it against
// the counts recorded alongside it.
func TestFixture_Rollouts(t *testing.T) {
	f := loadRollouts(t)
	states, transitions, err := Replay(f.Rollouts)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(states) != f.Expected.States {
		t.Errorf("expected %d states, got %d", f.Expected.States, len(states))
	}
	if len(transitions) != f.Expected.Transitions {
		t.Errorf("expected %d transitions, got %d", f.Expected.Transitions, len(transitions))
	}

	// r2's retry stays in the edit state.
	selfLoops := 0
	for _, tr := range transitions {
		if tr.FromState == tr.ToState {
			selfLoops++
			if tr.ActionLabel != "retry" || tr.Context.Toolchain != "B" {
				t.Errorf("unexpected self-loop: %+v", tr)
			}
		}
	}
	if selfLoops != 1 {
		t.Errorf("expected 1 self-loop, got %d", selfLoops)
	}
}

func TestReplay_KindsAndOrdinals(t *testing.T) {
	f := loadRollouts(t)
	_, transitions, err := Replay(f.Rollouts[:1])
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(transitions))
	}
	for i, tr := range transitions {
		if tr.Ordinal != i {
			t.Errorf("transition %d: ordinal %d", i, tr.Ordinal)
		}
		if tr.RolloutID != "r1" {
			t.Errorf("transition %d: rollout %q", i, tr.RolloutID)
		}
	}
	if transitions[0].Kind != transition.KindTool {
		t.Errorf("default kind = %q, want tool", transitions[0].Kind)
	}
	if transitions[2].Kind != transition.KindGate {
		t.Errorf("explicit kind = %q, want gate", transitions[2].Kind)
	}
	if transitions[1].Observations["duration_s"] != 41.5 {
		t.Errorf("observations not carried: %v", transitions[1].Observations)
	}
}

func TestReplay_SameFeaturesSameState(t *testing.T) {
	f := loadRollouts(t)
	states, _, err := Replay(f.Rollouts[:2])
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	// plan, edit, test, verified, failed: both backend rollouts share plan and edit.
	if len(states) != 5 {
		t.Fatalf("expected 5 distinct states, got %d", len(states))
	}
	want := state.BuildState("backend", "bugfix", map[string]string{"phase": "plan"}, state.PolicyKey{})
	if states[0].ID != want.ID {
		t.Errorf("first state id = %s, want %s", states[0].ID, want.ID)
	}
}

func TestReplay_RejectsMissingRolloutID(t *testing.T) {
	_, _, err := Replay([]FixtureRollout{{Domain: "backend", Steps: []FixtureStep{{}}}})
	if err == nil {
		t.Fatal("expected error for rollout without id")
	}
}

func TestReplay_RejectsEmptyFeatureKey(t *testing.T) {
	_, _, err := Replay([]FixtureRollout{{
		RolloutID: "r1",
		Domain:    "backend",
		Steps:     []FixtureStep{{Features: map[string]string{"": "plan"}}},
	}})
	if err == nil {
		t.Fatal("expected error for empty feature key")
	}
}

func TestIngest_Idempotent(t *testing.T) {
	f := loadRollouts(t)
	store := tempStore(t)

	for i := 0; i < 2; i++ {
		sum, err := Ingest(store, f.Rollouts)
		if err != nil {
			t.Fatalf("Ingest #%d: %v", i+1, err)
		}
		if sum.Rollouts != 3 || sum.States != 8 || sum.Transitions != 8 {
			t.Errorf("Ingest #%d summary = %+v", i+1, sum)
		}
	}

	if n := len(store.LoadStates()); n != 8 {
		t.Errorf("expected 8 stored states, got %d", n)
	}
	if n := len(store.LoadTransitions("")); n != 8 {
		t.Errorf("expected 8 stored transitions after re-ingest, got %d", n)
	}
	if n := len(store.LoadTransitions("frontend")); n != 2 {
		t.Errorf("expected 2 frontend transitions, got %d", n)
	}
}

func TestSummarize_Domains(t *testing.T) {
	f := loadRollouts(t)
	states, transitions, _ := Replay(f.Rollouts)
	sum := Summarize(f.Rollouts, states, transitions)
	if len(sum.Domains) != 2 || sum.Domains[0] != "backend" || sum.Domains[1] != "frontend" {
		t.Errorf("domains = %v", sum.Domains)
	}
}

func TestLoadFixture_Missing(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "nope.json")); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}
