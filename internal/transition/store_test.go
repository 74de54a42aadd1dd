package transition

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/dynerr"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
	_ "modernc.org/sqlite"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mkState(domain, phase string) state.State {
	return state.BuildState(domain, "bugfix", map[string]string{state.FeaturePhase: phase}, state.PolicyKey{})
}

func mkTransition(rollout string, from, to state.State, tc string, ordinal int) Transition {
	return Transition{
		RolloutID:   rollout,
		FromState:   from.ID,
		ToState:     to.ID,
		Kind:        KindTool,
		ActionLabel: "run",
		Context:     Context{Toolchain: tc, Attributes: map[string]string{"adapter": "local"}},
		Timestamp:   t0.Add(time.Duration(ordinal) * time.Second),
		Ordinal:     ordinal,
		Observations: map[string]float64{
			"duration_s": 1.5,
		},
	}
}

func TestRecordAndLoadStates(t *testing.T) {
	s := tempDB(t)
	a := mkState("backend", state.PhaseEdit)
	b := state.BuildState("backend", "bugfix", map[string]string{state.FeaturePhase: state.PhaseTest},
		state.PolicyKey{Toolchain: state.Str("codex")})

	for _, st := range []state.State{a, b, a} {
		if err := s.RecordState(st); err != nil {
			t.Fatalf("RecordState: %v", err)
		}
	}

	states := s.LoadStates()
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	got := states[b.ID]
	if got.Policy.ToolchainName() != "codex" {
		t.Fatalf("policy did not round-trip: %+v", got.Policy)
	}
	if got.Policy.PromptGenomeID != nil {
		t.Fatal("nil policy field should stay nil")
	}
	if got.Phase() != state.PhaseTest {
		t.Fatalf("expected phase test, got %q", got.Phase())
	}
}

func TestRecordStateRejectsEmpty(t *testing.T) {
	s := tempDB(t)
	err := s.RecordState(state.State{})
	if !dynerr.IsKind(err, dynerr.MalformedRecord) {
		t.Fatalf("expected MalformedRecord, got %v", err)
	}
}

func TestRecordTransitionIdempotent(t *testing.T) {
	s := tempDB(t)
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)
	tr := mkTransition("r1", a, b, "codex", 0)

	for i := 0; i < 3; i++ {
		if err := s.RecordTransition(tr); err != nil {
			t.Fatalf("RecordTransition: %v", err)
		}
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM transitions`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 row, got %d", count)
	}

	// A different ordinal is a different event.
	if err := s.RecordTransition(mkTransition("r1", a, b, "codex", 1)); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	s.DB().QueryRow(`SELECT COUNT(*) FROM transitions`).Scan(&count)
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
}

func TestTransitionIDDeterministic(t *testing.T) {
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)
	x := mkTransition("r1", a, b, "codex", 3).WithID()
	y := mkTransition("r1", a, b, "other-toolchain", 3).WithID()
	if x.ID != y.ID {
		t.Fatal("id should depend only on the natural key")
	}
	local := NewID("r1", a.ID, b.ID, x.Timestamp.In(time.FixedZone("X", 3600)), "run", 3)
	if local != x.ID {
		t.Fatal("id should not depend on the timestamp's zone")
	}
	if NewID("r2", a.ID, b.ID, x.Timestamp, "run", 3) == x.ID {
		t.Fatal("rollout id should change the id")
	}
}

func TestConcurrentWritersConverge(t *testing.T) {
	// Two handles on one file stand in for two processes; each has its own
	// connection pool, so writes contend on the WAL lock.
	path := filepath.Join(t.TempDir(), "shared.db")
	handles := make([]*Store, 2)
	for i := range handles {
		h, err := NewStore(path)
		if err != nil {
			t.Fatalf("NewStore #%d: %v", i, err)
		}
		t.Cleanup(func() { h.Close() })
		handles[i] = h
	}
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)

	var wg sync.WaitGroup
	errs := make(chan error, 256)
	for w := 0; w < 8; w++ {
		s := handles[w%len(handles)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				if err := s.RecordState(a); err != nil {
					errs <- err
				}
				if err := s.RecordState(b); err != nil {
					errs <- err
				}
				if err := s.RecordTransition(mkTransition("r1", a, b, "codex", i)); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write: %v", err)
	}

	for i, s := range handles {
		if n := len(s.LoadTransitions("")); n != 8 {
			t.Fatalf("handle %d: expected 8 distinct transitions, got %d", i, n)
		}
		if n := len(s.LoadStates()); n != 2 {
			t.Fatalf("handle %d: expected 2 states, got %d", i, n)
		}
	}
}

func TestLoadTransitionsChronological(t *testing.T) {
	s := tempDB(t)
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)
	s.RecordState(a)
	s.RecordState(b)

	base := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	later := mkTransition("r1", b, a, "codex", 0)
	later.ActionLabel = "later"
	later.Timestamp = base.Add(500 * time.Millisecond)
	earlier := mkTransition("r1", a, b, "codex", 1)
	earlier.ActionLabel = "earlier"
	earlier.Timestamp = base

	if err := s.RecordTransitions([]Transition{later, earlier}); err != nil {
		t.Fatalf("RecordTransitions: %v", err)
	}
	got := s.LoadTransitions("")
	if len(got) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(got))
	}
	if got[0].ActionLabel != "earlier" || got[1].ActionLabel != "later" {
		t.Fatalf("expected timestamp order, got %s then %s", got[0].ActionLabel, got[1].ActionLabel)
	}
	if !got[1].Timestamp.Equal(later.Timestamp) {
		t.Fatalf("fractional seconds lost: %v", got[1].Timestamp)
	}
}

func TestLoadTransitionsRoundTrip(t *testing.T) {
	s := tempDB(t)
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)
	want := mkTransition("r1", a, b, "codex", 0).WithID()
	if err := s.RecordTransition(want); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}

	got := s.LoadTransitions("")
	if len(got) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(got))
	}
	tr := got[0]
	if tr.ID != want.ID || tr.Context.Toolchain != "codex" || tr.Context.Attributes["adapter"] != "local" {
		t.Fatalf("transition did not round-trip: %+v", tr)
	}
	if !tr.Timestamp.Equal(want.Timestamp) {
		t.Fatalf("timestamp mismatch: %v vs %v", tr.Timestamp, want.Timestamp)
	}
	if tr.Observations["duration_s"] != 1.5 {
		t.Fatalf("observations did not round-trip: %v", tr.Observations)
	}
}

func TestTransitionCountsDomainFilter(t *testing.T) {
	s := tempDB(t)
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)
	c, d := mkState("frontend", state.PhaseEdit), mkState("frontend", state.PhaseDone)
	for _, st := range []state.State{a, b, c, d} {
		s.RecordState(st)
	}
	batch := []Transition{
		mkTransition("r1", a, b, "codex", 0),
		mkTransition("r1", b, a, "codex", 1),
		mkTransition("r2", a, b, "claude", 0),
		mkTransition("r3", c, d, "codex", 0),
	}
	if err := s.RecordTransitions(batch); err != nil {
		t.Fatalf("RecordTransitions: %v", err)
	}

	all := s.TransitionCounts("")
	if len(all) != 4 {
		t.Fatalf("expected 4 groups, got %d: %+v", len(all), all)
	}
	backend := s.TransitionCounts("backend")
	if len(backend) != 3 {
		t.Fatalf("expected 3 backend groups, got %d", len(backend))
	}
	counts := Aggregate(backend)
	if counts[Edge{a.ID, b.ID}] != 2 || counts[Edge{b.ID, a.ID}] != 1 {
		t.Fatalf("unexpected aggregate: %v", counts)
	}
	if len(counts.ReversiblePairs()) != 1 {
		t.Fatalf("expected 1 reversible pair")
	}
}

func TestRecordTransitionValidation(t *testing.T) {
	s := tempDB(t)
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)

	bad := []Transition{
		func() Transition { tr := mkTransition("", a, b, "x", 0); return tr }(),
		func() Transition { tr := mkTransition("r", a, b, "x", 0); tr.Kind = "teleport"; return tr }(),
		func() Transition { tr := mkTransition("r", a, b, "x", 0); tr.ToState = ""; return tr }(),
		func() Transition { tr := mkTransition("r", a, b, "x", 0); tr.Timestamp = time.Time{}; return tr }(),
	}
	for i, tr := range bad {
		if err := s.RecordTransition(tr); !dynerr.IsKind(err, dynerr.MalformedRecord) {
			t.Errorf("case %d: expected MalformedRecord, got %v", i, err)
		}
	}
}

func TestMalformedRowsSkippedAndCounted(t *testing.T) {
	s := tempDB(t)
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)
	s.RecordState(a)
	s.RecordTransition(mkTransition("r1", a, b, "codex", 0))

	_, err := s.DB().Exec(
		`INSERT INTO states (state_id, domain, job_type, features_json, policy_json, created_at)
		 VALUES ('broken', 'backend', 'bugfix', 'not json', '{}', '2026-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("insert broken state: %v", err)
	}
	_, err = s.DB().Exec(
		`INSERT INTO transitions (transition_id, rollout_id, from_state, to_state, kind, ts, ordinal)
		 VALUES ('t-bad', 'r9', 'x', 'y', 'tool', 'yesterday', 0)`)
	if err != nil {
		t.Fatalf("insert broken transition: %v", err)
	}

	if n := len(s.LoadStates()); n != 1 {
		t.Fatalf("expected 1 decodable state, got %d", n)
	}
	if n := len(s.LoadTransitions("")); n != 1 {
		t.Fatalf("expected 1 decodable transition, got %d", n)
	}
	if d := s.Diagnostics(); d.SkippedRows != 2 {
		t.Fatalf("expected 2 skipped rows, got %+v", d)
	}
}

func TestReadsDegradeOnClosedDB(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)
	s.RecordState(a)
	s.RecordTransition(mkTransition("r1", a, b, "codex", 0))
	s.Close()

	if got := s.LoadStates(); len(got) != 0 {
		t.Fatalf("expected empty states, got %d", len(got))
	}
	if got := s.LoadTransitions(""); len(got) != 0 {
		t.Fatalf("expected empty transitions, got %d", len(got))
	}
	if got := s.TransitionCounts("backend"); len(got) != 0 {
		t.Fatalf("expected empty counts, got %d", len(got))
	}
	if d := s.Diagnostics(); d.ReadErrors == 0 {
		t.Fatal("expected read errors to be counted")
	}
	if err := s.RecordTransition(mkTransition("r1", a, b, "codex", 1)); err == nil {
		t.Fatal("expected write error on closed DB")
	}
}

func TestReadAllReportsFailure(t *testing.T) {
	s := tempDB(t)
	a, b := mkState("backend", state.PhaseEdit), mkState("backend", state.PhaseTest)
	s.RecordState(a)
	s.RecordState(b)
	s.RecordTransition(mkTransition("r1", a, b, "codex", 0))

	states, ts, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(states) != 2 || len(ts) != 1 {
		t.Fatalf("ReadAll = %d states, %d transitions", len(states), len(ts))
	}

	s.Close()
	if _, _, err := s.ReadAll(); !dynerr.IsKind(err, dynerr.DataUnavailable) {
		t.Fatalf("expected DataUnavailable from closed store, got %v", err)
	}
	if d := s.Diagnostics(); d.ReadErrors != 1 {
		t.Fatalf("expected 1 read error, got %+v", d)
	}
}

func TestNewStoreInvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "test.db"))
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestCountsHelpers(t *testing.T) {
	c := Counts{
		{"a", "b"}: 3, {"b", "a"}: 1,
		{"b", "c"}: 2,
		{"c", "c"}: 5,
	}
	if c.Total() != 11 {
		t.Fatalf("Total = %d", c.Total())
	}
	if got := fmt.Sprint(c.States()); got != "[a b c]" {
		t.Fatalf("States = %s", got)
	}
	pairs := c.ReversiblePairs()
	if len(pairs) != 1 || pairs[0] != (Edge{"a", "b"}) {
		t.Fatalf("ReversiblePairs = %v", pairs)
	}
}
