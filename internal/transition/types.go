package transition

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// #region kind
// Kind tags what produced a transition.
type Kind string

const (
	KindTool  Kind = "tool"
	KindGate  Kind = "gate"
	KindStage Kind = "stage"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTool, KindGate, KindStage:
		return true
	}
	return false
}

// #endregion kind

// #region transition
// Context is the typed part of the dispatch context attached to a transition.
type Context struct {
	Toolchain  string            `json:"toolchain,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Transition is one observed state-to-state move. Immutable once written.
type Transition struct {
	ID           string             `json:"transition_id"`
	RolloutID    string             `json:"rollout_id"`
	FromState    string             `json:"from_state"`
	ToState      string             `json:"to_state"`
	Kind         Kind               `json:"transition_kind"`
	ActionLabel  string             `json:"action_label"`
	Context      Context            `json:"context"`
	Timestamp    time.Time          `json:"timestamp"`
	Ordinal      int                `json:"ordinal_index"`
	Observations map[string]float64 `json:"observations,omitempty"`
}

// transitionNamespace scopes name-based transition ids.
var transitionNamespace = uuid.MustParse("6f1c3a52-1d0e-4b8e-9a4f-2f7f2c1e8d10")

// NewID derives the deterministic transition id from its natural key.
// Re-ingesting the same event yields the same id.
func NewID(rolloutID, from, to string, ts time.Time, actionLabel string, ordinal int) string {
	key := fmt.Sprintf("TRANSITION|v1|%q|%q|%q|%s|%q|%d",
		rolloutID, from, to, ts.UTC().Format(time.RFC3339Nano), actionLabel, ordinal)
	return uuid.NewSHA1(transitionNamespace, []byte(key)).String()
}

// WithID returns t with its ID derived from the natural key when unset.
func (t Transition) WithID() Transition {
	if t.ID == "" {
		t.ID = NewID(t.RolloutID, t.FromState, t.ToState, t.Timestamp, t.ActionLabel, t.Ordinal)
	}
	return t
}

// #endregion transition

// #region counts
// Edge is an ordered pair of state ids.
type Edge struct {
	From string
	To   string
}

// Reverse returns the edge in the opposite direction.
func (e Edge) Reverse() Edge {
	return Edge{From: e.To, To: e.From}
}

// TransitionCount is a grouped count, derived on demand and never persisted.
type TransitionCount struct {
	From      string `json:"from_state"`
	To        string `json:"to_state"`
	Toolchain string `json:"toolchain,omitempty"`
	Count     int    `json:"count"`
}

// Counts is a point-in-time snapshot of edge counts summed across toolchains.
type Counts map[Edge]int

// Aggregate folds per-toolchain counts into a Counts snapshot.
func Aggregate(rows []TransitionCount) Counts {
	c := make(Counts, len(rows))
	for _, r := range rows {
		if r.Count <= 0 {
			continue
		}
		c[Edge{From: r.From, To: r.To}] += r.Count
	}
	return c
}

// States returns every state id that appears in c, sorted.
func (c Counts) States() []string {
	seen := make(map[string]struct{})
	for e := range c {
		seen[e.From] = struct{}{}
		seen[e.To] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Total returns the number of transitions in c.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// ReversiblePairs returns each unordered pair {a, b}, a < b, observed in both
// directions, sorted.
func (c Counts) ReversiblePairs() []Edge {
	var pairs []Edge
	for e, n := range c {
		if e.From >= e.To || n <= 0 {
			continue
		}
		if c[e.Reverse()] > 0 {
			pairs = append(pairs, e)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].From != pairs[j].From {
			return pairs[i].From < pairs[j].From
		}
		return pairs[i].To < pairs[j].To
	})
	return pairs
}

// #endregion counts

// #region diagnostics
// Diagnostics exposes read-path degradation that would otherwise be silent.
type Diagnostics struct {
	SkippedRows int64 `json:"skipped_rows"`
	ReadErrors  int64 `json:"read_errors"`
}

// #endregion diagnostics
