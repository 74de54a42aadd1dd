package router

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/dynerr"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
)

// #region router-struct
// Router estimates per-toolchain success probabilities from recorded history
// and ranks candidates for dispatch. Reads go through a copy-on-write
// snapshot; a refresh builds a complete replacement and swaps it in.
type Router struct {
	history History
	cfg     Config
	weights map[string]float64

	logger *slog.Logger
	now    func() time.Time
	tracer trace.Tracer

	snap  atomic.Pointer[snapshot]
	gen   atomic.Uint64
	group singleflight.Group

	hits          prometheus.Counter
	misses        prometheus.Counter
	refreshErrors prometheus.Counter
}

type snapshot struct {
	gen         uint64
	refreshedAt time.Time
	byState     map[string]map[string]float64
	byDomain    map[string]map[string]float64
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used for refresh failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTracer sets the tracer used for refresh spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithRegisterer registers the router's cache counters on reg. Without it
// the counters exist but are not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Router) {
		if reg != nil {
			reg.MustRegister(r.hits, r.misses, r.refreshErrors)
		}
	}
}

// #endregion router-struct

// #region constructor
// New returns a Router over history. The config is validated up front.
func New(history History, cfg Config, opts ...Option) (*Router, error) {
	if history == nil {
		return nil, dynerr.Config("new router", "history is required")
	}
	if !(cfg.CacheTTL > 0) {
		return nil, dynerr.Config("new router", "cache_ttl must be > 0, got %v", cfg.CacheTTL)
	}
	if cfg.PartialWeight < 0 || cfg.PartialWeight > 1 {
		return nil, dynerr.Config("new router", "partial_weight must be in [0, 1], got %v", cfg.PartialWeight)
	}

	r := &Router{
		history: history,
		cfg:     cfg,
		weights: phaseWeights(cfg),
		logger:  slog.Default(),
		now:     time.Now,
		tracer:  otel.Tracer("go-dynamics/router"),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_cache_hits_total",
			Help: "Probability lookups served from a fresh snapshot.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_cache_misses_total",
			Help: "Probability lookups that triggered a snapshot refresh.",
		}),
		refreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_refresh_errors_total",
			Help: "Snapshot refreshes that failed to read history.",
		}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func phaseWeights(cfg Config) map[string]float64 {
	w := make(map[string]float64, len(cfg.SuccessPhases)+len(cfg.PartialPhases))
	for _, p := range cfg.PartialPhases {
		w[p] = cfg.PartialWeight
	}
	for _, p := range cfg.SuccessPhases {
		w[p] = 1.0
	}
	return w
}

// #endregion constructor

// #region probabilities
// ToolchainProbabilities returns the estimated success probability of every
// toolchain seen leaving the query state. When that exact state has no
// history it falls back to all history in the domain. An unreadable store
// yields an empty map.
func (r *Router) ToolchainProbabilities(ctx context.Context, domain, jobType string, features map[string]string) map[string]float64 {
	snap, ok := r.current(ctx)
	if !ok {
		return map[string]float64{}
	}
	id := state.BuildState(domain, jobType, features, state.PolicyKey{}).ID
	if probs := snap.byState[id]; len(probs) > 0 {
		return copyProbs(probs)
	}
	return copyProbs(snap.byDomain[domain])
}

// Invalidate drops the current snapshot so the next lookup rebuilds it.
// A refresh already in flight when Invalidate runs cannot install its result
// as current, and later lookups do not join it.
func (r *Router) Invalidate() {
	r.gen.Add(1)
	r.group.Forget("refresh")
	r.snap.Store(nil)
}

func (r *Router) current(ctx context.Context) (*snapshot, bool) {
	gen := r.gen.Load()
	if s := r.snap.Load(); s != nil && s.gen == gen && r.now().Sub(s.refreshedAt) < r.cfg.CacheTTL {
		r.hits.Inc()
		return s, true
	}
	r.misses.Inc()

	v, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		return r.refresh(ctx)
	})
	if err != nil {
		r.refreshErrors.Inc()
		r.logger.Warn("router refresh failed", "kind", dynerr.DataUnavailable, "err", err)
		return nil, false
	}
	return v.(*snapshot), true
}

// install stores s unless a snapshot from a later generation is already there.
func (r *Router) install(s *snapshot) {
	for {
		cur := r.snap.Load()
		if cur != nil && cur.gen > s.gen {
			return
		}
		if r.snap.CompareAndSwap(cur, s) {
			return
		}
	}
}

// #endregion probabilities

// #region refresh
func (r *Router) refresh(ctx context.Context) (*snapshot, error) {
	_, span := r.tracer.Start(ctx, "router.refresh")
	defer span.End()

	gen := r.gen.Load()
	states, transitions, err := r.history.ReadAll()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read history")
		return nil, err
	}

	type tally struct{ weight, attempts float64 }
	byState := make(map[string]map[string]*tally)
	byDomain := make(map[string]map[string]*tally)
	add := func(m map[string]map[string]*tally, key, tc string, w float64) {
		if m[key] == nil {
			m[key] = make(map[string]*tally)
		}
		t := m[key][tc]
		if t == nil {
			t = &tally{}
			m[key][tc] = t
		}
		t.weight += w
		t.attempts++
	}

	used := 0
	for _, t := range transitions {
		from, known := states[t.FromState]
		tc := t.Context.Toolchain
		if tc == "" && known {
			tc = from.Policy.ToolchainName()
		}
		if tc == "" {
			continue
		}
		w := r.weights[states[t.ToState].Phase()]

		base := t.FromState
		if known {
			base = from.BaseID()
			add(byDomain, from.Domain, tc, w)
		}
		add(byState, base, tc, w)
		used++
	}

	finish := func(m map[string]map[string]*tally) map[string]map[string]float64 {
		out := make(map[string]map[string]float64, len(m))
		for key, per := range m {
			probs := make(map[string]float64, len(per))
			for tc, t := range per {
				probs[tc] = t.weight / t.attempts
			}
			out[key] = probs
		}
		return out
	}
	s := &snapshot{
		gen:         gen,
		refreshedAt: r.now(),
		byState:     finish(byState),
		byDomain:    finish(byDomain),
	}
	r.install(s)

	span.SetAttributes(
		attribute.Int("router.transitions", len(transitions)),
		attribute.Int("router.transitions_used", used),
		attribute.Int("router.states", len(s.byState)),
	)
	r.logger.Debug("router snapshot refreshed", "transitions", used, "states", len(s.byState), "domains", len(s.byDomain))
	return s, nil
}

// #endregion refresh

// #region rank
// RankToolchains scores each candidate for the query. Known toolchains score
// their probability; unseen ones score defaultProbability plus
// explorationRate so they still get tried. Ties keep candidate order.
func (r *Router) RankToolchains(ctx context.Context, candidates []string, q Query, explorationRate, defaultProbability float64) ([]Ranked, error) {
	if explorationRate < 0 {
		return nil, dynerr.Config("rank toolchains", "exploration_rate must be >= 0, got %v", explorationRate)
	}
	if defaultProbability < 0 || defaultProbability > 1 {
		return nil, dynerr.Config("rank toolchains", "default_probability must be in [0, 1], got %v", defaultProbability)
	}
	probs := r.ToolchainProbabilities(ctx, q.Domain, q.JobType, q.Features)
	return Rank(candidates, probs, explorationRate, defaultProbability), nil
}

// Rank orders candidates against a probability table.
func Rank(candidates []string, probs map[string]float64, explorationRate, defaultProbability float64) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, tc := range candidates {
		if p, ok := probs[tc]; ok {
			out = append(out, Ranked{Toolchain: tc, Score: p, Probability: p, Known: true})
			continue
		}
		out = append(out, Ranked{
			Toolchain:   tc,
			Score:       defaultProbability + explorationRate,
			Probability: defaultProbability,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// #endregion rank

func copyProbs(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
