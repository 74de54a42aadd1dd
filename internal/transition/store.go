package transition

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/dynerr"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS states (
	state_id      TEXT PRIMARY KEY,
	domain        TEXT NOT NULL,
	job_type      TEXT NOT NULL,
	features_json TEXT NOT NULL,
	policy_json   TEXT NOT NULL,
	phase         TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_states_domain ON states(domain);

CREATE TABLE IF NOT EXISTS transitions (
	transition_id     TEXT PRIMARY KEY,
	rollout_id        TEXT NOT NULL,
	from_state        TEXT NOT NULL,
	to_state          TEXT NOT NULL,
	kind              TEXT NOT NULL,
	action_label      TEXT,
	toolchain         TEXT,
	context_json      TEXT,
	observations_json TEXT,
	ts                TEXT NOT NULL,
	ordinal           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_from ON transitions(from_state);
`

// #endregion schema

// #region store-struct
// Store is the durable, idempotent log of states and transitions in SQLite.
// Writers need no coordination: every insert is keyed by a natural id and
// ignored on conflict. Reads never fail; they degrade to empty results.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	skipped    atomic.Int64
	readErrors atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for degraded reads.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database in WAL mode and runs migrations.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dsn adds a per-connection busy timeout so concurrent writers wait on the
// WAL lock instead of failing with SQLITE_BUSY.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)"
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Diagnostics returns counters for skipped rows and failed reads.
func (s *Store) Diagnostics() Diagnostics {
	return Diagnostics{
		SkippedRows: s.skipped.Load(),
		ReadErrors:  s.readErrors.Load(),
	}
}

// #endregion close

// #region record-state
// RecordState stores st if its id has not been seen. States are immutable, so
// a second write of the same id is a no-op.
func (s *Store) RecordState(st state.State) error {
	if st.ID == "" || st.Domain == "" {
		return dynerr.New(dynerr.MalformedRecord, "record state", "state id and domain are required")
	}
	featJSON, err := json.Marshal(st.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	policyJSON, err := json.Marshal(st.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO states (state_id, domain, job_type, features_json, policy_json, phase, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Domain, st.JobType, string(featJSON), string(policyJSON),
		nullIfEmpty(st.Phase()), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

// #endregion record-state

// #region record-transition
// RecordTransition stores t, deriving its id from the natural key when unset.
// Re-recording the same event leaves exactly one row.
func (s *Store) RecordTransition(t Transition) error {
	return s.RecordTransitions([]Transition{t})
}

// RecordTransitions stores a batch in a single transaction.
func (s *Store) RecordTransitions(ts []Transition) error {
	if len(ts) == 0 {
		return nil
	}
	rows := make([]transitionRow, 0, len(ts))
	for _, t := range ts {
		row, err := encodeTransition(t)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO transitions
		 (transition_id, rollout_id, from_state, to_state, kind, action_label, toolchain,
		  context_json, observations_json, ts, ordinal)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.args()...); err != nil {
			return fmt.Errorf("insert transition %s: %w", r.id, err)
		}
	}
	return tx.Commit()
}

// #endregion record-transition

// #region load-states
// LoadStates returns every stored state keyed by id. Undecodable rows are
// skipped and counted; an unreadable store yields an empty map.
func (s *Store) LoadStates() map[string]state.State {
	out, err := s.loadStates()
	if err != nil {
		s.readFailed("load states", err)
		return map[string]state.State{}
	}
	return out
}

func (s *Store) loadStates() (map[string]state.State, error) {
	rows, err := s.db.Query(
		`SELECT state_id, domain, job_type, features_json, policy_json FROM states`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]state.State)
	for rows.Next() {
		var st state.State
		var featJSON, policyJSON string
		if err := rows.Scan(&st.ID, &st.Domain, &st.JobType, &featJSON, &policyJSON); err != nil {
			s.skipRow("states", "", err)
			continue
		}
		if err := json.Unmarshal([]byte(featJSON), &st.Features); err != nil {
			s.skipRow("states", st.ID, err)
			continue
		}
		if err := json.Unmarshal([]byte(policyJSON), &st.Policy); err != nil {
			s.skipRow("states", st.ID, err)
			continue
		}
		if st.Features == nil {
			st.Features = map[string]string{}
		}
		out[st.ID] = st
	}
	return out, rows.Err()
}

// #endregion load-states

// #region load-transitions
// LoadTransitions returns stored transitions ordered by rollout, timestamp and
// ordinal. A non-empty domain keeps only transitions whose source state
// belongs to that domain.
func (s *Store) LoadTransitions(domain string) []Transition {
	var inDomain map[string]state.State
	if domain != "" {
		var err error
		if inDomain, err = s.loadStates(); err != nil {
			s.readFailed("load transitions", err)
			return nil
		}
	}
	out, err := s.loadTransitions()
	if err != nil {
		s.readFailed("load transitions", err)
		return nil
	}
	if domain == "" {
		return out
	}
	filtered := out[:0]
	for _, t := range out {
		if inDomain[t.FromState].Domain == domain {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func (s *Store) loadTransitions() ([]Transition, error) {
	rows, err := s.db.Query(
		`SELECT transition_id, rollout_id, from_state, to_state, kind, action_label, toolchain,
		        context_json, observations_json, ts, ordinal
		 FROM transitions ORDER BY rollout_id, ts, ordinal`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var r transitionRow
		if err := rows.Scan(&r.id, &r.rolloutID, &r.from, &r.to, &r.kind, &r.action, &r.toolchain,
			&r.contextJSON, &r.observationsJSON, &r.ts, &r.ordinal); err != nil {
			s.skipRow("transitions", "", err)
			continue
		}
		t, err := r.decode()
		if err != nil {
			s.skipRow("transitions", r.id, err)
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// #endregion load-transitions

// #region read-all
// ReadAll returns every state and transition, or a DataUnavailable error.
// Unlike the Load methods it reports failure, so callers that cache results
// can avoid caching an outage.
func (s *Store) ReadAll() (map[string]state.State, []Transition, error) {
	states, err := s.loadStates()
	if err != nil {
		s.readErrors.Add(1)
		return nil, nil, dynerr.Wrap(dynerr.DataUnavailable, "read all", err)
	}
	ts, err := s.loadTransitions()
	if err != nil {
		s.readErrors.Add(1)
		return nil, nil, dynerr.Wrap(dynerr.DataUnavailable, "read all", err)
	}
	return states, ts, nil
}

// #endregion read-all

// #region transition-counts
// TransitionCounts groups stored transitions by (from, to, toolchain).
// Results are sorted for deterministic downstream iteration.
func (s *Store) TransitionCounts(domain string) []TransitionCount {
	return GroupCounts(s.LoadTransitions(domain))
}

// GroupCounts groups transitions by (from, to, toolchain).
func GroupCounts(ts []Transition) []TransitionCount {
	type key struct{ from, to, tc string }
	grouped := make(map[key]int)
	for _, t := range ts {
		grouped[key{t.FromState, t.ToState, t.Context.Toolchain}]++
	}
	out := make([]TransitionCount, 0, len(grouped))
	for k, n := range grouped {
		out = append(out, TransitionCount{From: k.from, To: k.to, Toolchain: k.tc, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Toolchain < b.Toolchain
	})
	return out
}

// #endregion transition-counts

// #region row-codec
type transitionRow struct {
	id               string
	rolloutID        string
	from             string
	to               string
	kind             string
	action           sql.NullString
	toolchain        sql.NullString
	contextJSON      sql.NullString
	observationsJSON sql.NullString
	ts               string
	ordinal          int
}

func (r transitionRow) args() []interface{} {
	return []interface{}{
		r.id, r.rolloutID, r.from, r.to, r.kind, nullable(r.action), nullable(r.toolchain),
		nullable(r.contextJSON), nullable(r.observationsJSON), r.ts, r.ordinal,
	}
}

// tsLayout is fixed-width so the text column sorts chronologically.
// RFC3339Nano trims trailing zeros and does not.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTransition(t Transition) (transitionRow, error) {
	switch {
	case t.RolloutID == "":
		return transitionRow{}, dynerr.New(dynerr.MalformedRecord, "record transition", "empty rollout id")
	case t.FromState == "" || t.ToState == "":
		return transitionRow{}, dynerr.New(dynerr.MalformedRecord, "record transition", "from and to states are required")
	case !t.Kind.Valid():
		return transitionRow{}, dynerr.New(dynerr.MalformedRecord, "record transition", "unknown kind %q", t.Kind)
	case t.Timestamp.IsZero():
		return transitionRow{}, dynerr.New(dynerr.MalformedRecord, "record transition", "zero timestamp")
	}
	t = t.WithID()

	r := transitionRow{
		id:        t.ID,
		rolloutID: t.RolloutID,
		from:      t.FromState,
		to:        t.ToState,
		kind:      string(t.Kind),
		action:    sql.NullString{String: t.ActionLabel, Valid: t.ActionLabel != ""},
		toolchain: sql.NullString{String: t.Context.Toolchain, Valid: t.Context.Toolchain != ""},
		ts:        t.Timestamp.UTC().Format(tsLayout),
		ordinal:   t.Ordinal,
	}
	if len(t.Context.Attributes) > 0 {
		b, err := json.Marshal(t.Context.Attributes)
		if err != nil {
			return transitionRow{}, fmt.Errorf("marshal context: %w", err)
		}
		r.contextJSON = sql.NullString{String: string(b), Valid: true}
	}
	if len(t.Observations) > 0 {
		b, err := json.Marshal(t.Observations)
		if err != nil {
			return transitionRow{}, fmt.Errorf("marshal observations: %w", err)
		}
		r.observationsJSON = sql.NullString{String: string(b), Valid: true}
	}
	return r, nil
}

func (r transitionRow) decode() (Transition, error) {
	t := Transition{
		ID:          r.id,
		RolloutID:   r.rolloutID,
		FromState:   r.from,
		ToState:     r.to,
		Kind:        Kind(r.kind),
		ActionLabel: r.action.String,
		Context:     Context{Toolchain: r.toolchain.String},
		Ordinal:     r.ordinal,
	}
	if !t.Kind.Valid() {
		return Transition{}, fmt.Errorf("unknown kind %q", r.kind)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.ts)
	if err != nil {
		return Transition{}, fmt.Errorf("parse ts: %w", err)
	}
	t.Timestamp = ts
	if r.contextJSON.Valid {
		if err := json.Unmarshal([]byte(r.contextJSON.String), &t.Context.Attributes); err != nil {
			return Transition{}, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if r.observationsJSON.Valid {
		if err := json.Unmarshal([]byte(r.observationsJSON.String), &t.Observations); err != nil {
			return Transition{}, fmt.Errorf("unmarshal observations: %w", err)
		}
	}
	return t, nil
}

// #endregion row-codec

// #region helpers
func (s *Store) readFailed(op string, err error) {
	s.readErrors.Add(1)
	s.logger.Warn("transition store read degraded", "op", op, "kind", dynerr.DataUnavailable, "err", err)
}

func (s *Store) skipRow(table, id string, err error) {
	s.skipped.Add(1)
	s.logger.Warn("skipping malformed row", "table", table, "id", id, "kind", dynerr.MalformedRecord, "err", err)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullable(ns sql.NullString) interface{} {
	if !ns.Valid {
		return nil
	}
	return ns.String
}

// #endregion helpers
