package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/action"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/balance"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/dynerr"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/logging"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/potential"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/state"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/transition"
)

// #region builder
// Source is the read side of the transition store.
type Source interface {
	LoadStates() map[string]state.State
	TransitionCounts(domain string) []transition.TransitionCount
	Diagnostics() transition.Diagnostics
}

// Builder composes the potential fit, the balance test and the action
// analysis into a Report.
type Builder struct {
	src    Source
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
	logDB  *sql.DB
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the builder's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock replaces time.Now for generated_at.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithTracer sets the tracer used for build spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Builder) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithReportLog records every published report in db's report_log table.
func WithReportLog(db *sql.DB) Option {
	return func(b *Builder) { b.logDB = db }
}

// NewBuilder returns a Builder reading from src.
func NewBuilder(src Source, cfg Config, opts ...Option) (*Builder, error) {
	switch {
	case src == nil:
		return nil, dynerr.Config("new report builder", "source is required")
	case !(cfg.Alpha > 0):
		return nil, dynerr.Config("new report builder", "alpha must be > 0, got %v", cfg.Alpha)
	case cfg.ExplorationStep < 0:
		return nil, dynerr.Config("new report builder", "exploration_step must be >= 0, got %v", cfg.ExplorationStep)
	case cfg.HealthyScore < 0 || cfg.HealthyScore > 1:
		return nil, dynerr.Config("new report builder", "healthy_score must be in [0, 1], got %v", cfg.HealthyScore)
	}
	b := &Builder{
		src:    src,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("go-dynamics/report"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// #endregion builder

// #region build
// Build reads a snapshot of the store and analyzes it. Read failures degrade
// to an empty report; only configuration errors are returned.
func (b *Builder) Build(ctx context.Context) (Report, error) {
	ctx, span := b.tracer.Start(ctx, "report.build")
	defer span.End()

	states := b.src.LoadStates()
	counts := transition.Aggregate(b.src.TransitionCounts(b.cfg.Domain))
	ids := stateIDs(states, b.cfg.Domain)

	fit, err := b.fit(ctx, counts, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fit potential")
		return Report{}, err
	}

	var (
		bal      balance.Result
		act      action.Summary
		byDomain map[string]DomainBalance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bal, err = balance.Verify(counts, fit.V, b.cfg.Balance)
		return err
	})
	g.Go(func() error {
		var err error
		act, err = action.Analyze(counts, fit.V, states, b.cfg.Action)
		return err
	})
	g.Go(func() error {
		var err error
		byDomain, err = b.domainBalances(gctx, counts, states)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analyze")
		return Report{}, err
	}

	score := balance.EquilibriumScore(bal.Chi2PerNDF, bal.Threshold)
	r := Report{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   b.now().UTC(),
		Statistics: Statistics{
			TotalStates:      len(fit.V),
			TotalTransitions: counts.Total(),
			ReversibleEdges:  len(counts.ReversiblePairs()),
			SkippedRows:      b.src.Diagnostics().SkippedRows,
		},
		Potentials: fit,
		Action: Action{
			GlobalActionRate: act.GlobalActionRate,
			ByDomain:         act.ByDomain,
		},
		Balance: Balance{
			Chi2:                 bal.Chi2,
			NDF:                  bal.NDF,
			Chi2PerNDF:           bal.Chi2PerNDF,
			PValue:               bal.PValue,
			Passed:               bal.Passed,
			EquilibriumScore:     score,
			Summary:              bal.Summary,
			TopViolations:        nonNil(bal.Violations),
			NonEquilibriumDrives: balance.NonEquilibriumDrives(bal.Violations, b.cfg.Balance.Chi2Threshold),
			ByDomain:             byDomain,
		},
		TrapsDetected: act.Traps,
	}
	r.ControllerRecommendations = b.recommend(r)

	span.SetAttributes(
		attribute.Int("report.states", r.Statistics.TotalStates),
		attribute.Int("report.transitions", r.Statistics.TotalTransitions),
		attribute.Float64("report.chi2_per_ndf", r.Balance.Chi2PerNDF),
		attribute.Int("report.traps", len(r.TrapsDetected)),
	)
	b.logger.Info("dynamics report built",
		"domain", b.cfg.Domain,
		"states", r.Statistics.TotalStates,
		"transitions", r.Statistics.TotalTransitions,
		"chi2_per_ndf", r.Balance.Chi2PerNDF,
		"passed", r.Balance.Passed,
		"traps", len(r.TrapsDetected),
	)
	return r, nil
}

// fit estimates the potential. A numerically degenerate system degrades to
// the all-zero potential rather than failing the report.
func (b *Builder) fit(ctx context.Context, counts transition.Counts, ids []string) (potential.Result, error) {
	_, span := b.tracer.Start(ctx, "report.fit")
	defer span.End()

	fit, err := potential.Estimate(counts, ids, b.cfg.Alpha)
	if dynerr.IsKind(err, dynerr.DegenerateFit) {
		b.logger.Warn("potential fit degenerate, using zero potential", "err", err)
		return potential.Estimate(nil, append(ids, counts.States()...), b.cfg.Alpha)
	}
	if err == nil {
		span.SetAttributes(
			attribute.Int("fit.edges_used", fit.FitInfo.EdgesUsed),
			attribute.Int("fit.components", fit.FitInfo.Components),
		)
	}
	return fit, err
}

// #endregion build

// #region domains
// domainBalances fits and tests each domain's transitions on their own.
func (b *Builder) domainBalances(ctx context.Context, counts transition.Counts, states map[string]state.State) (map[string]DomainBalance, error) {
	parts := action.SplitByDomain(counts, states)
	out := make(map[string]DomainBalance, len(parts))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for dom, part := range parts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fit, err := potential.Estimate(part, nil, b.cfg.Alpha)
			if dynerr.IsKind(err, dynerr.DegenerateFit) {
				b.logger.Warn("domain fit degenerate, skipping", "domain", dom, "err", err)
				return nil
			}
			if err != nil {
				return err
			}
			res, err := balance.Verify(part, fit.V, b.cfg.Balance)
			if err != nil {
				return err
			}
			mu.Lock()
			out[dom] = DomainBalance{
				Chi2PerNDF:       res.Chi2PerNDF,
				Passed:           res.Passed,
				EdgesTested:      res.EdgesTested,
				EquilibriumScore: balance.EquilibriumScore(res.Chi2PerNDF, res.Threshold),
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion domains

// #region recommend
func (b *Builder) recommend(r Report) Recommendations {
	rec := Recommendations{Reasons: []string{}}
	if r.Statistics.TotalTransitions == 0 {
		rec.Reasons = append(rec.Reasons, "no transitions recorded; keep exploration unchanged")
		return rec
	}

	raise := false
	if n := len(r.TrapsDetected); n > 0 {
		raise = true
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("%d trap state(s) detected; raise exploration to escape them", n))
	}
	if r.Action.GlobalActionRate < b.cfg.Action.ActionLow {
		raise = true
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("global action rate %.3f below %.3f; raise exploration",
			r.Action.GlobalActionRate, b.cfg.Action.ActionLow))
	}
	switch {
	case raise:
		rec.ExplorationRateDelta = b.cfg.ExplorationStep
	case r.Balance.Passed && r.Balance.EquilibriumScore > b.cfg.HealthyScore:
		rec.ExplorationRateDelta = -b.cfg.ExplorationStep
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("equilibrium score %.3f above %.2f; lower exploration",
			r.Balance.EquilibriumScore, b.cfg.HealthyScore))
	default:
		rec.Reasons = append(rec.Reasons, "dynamics within bounds; keep exploration unchanged")
	}
	return rec
}

// #endregion recommend

// #region publish
// Publish builds a report, writes it to path and records it in the report
// log when one is configured. A failed log write is not fatal.
func (b *Builder) Publish(ctx context.Context, path string) (Report, error) {
	r, err := b.Build(ctx)
	if err != nil {
		return Report{}, err
	}
	if err := WriteFile(path, r); err != nil {
		return Report{}, err
	}
	if b.logDB != nil {
		entry := logging.ReportEntry{
			ReportID:         uuid.NewString(),
			SchemaVersion:    r.SchemaVersion,
			Domain:           b.cfg.Domain,
			Chi2PerNDF:       r.Balance.Chi2PerNDF,
			Passed:           r.Balance.Passed,
			EquilibriumScore: r.Balance.EquilibriumScore,
			GlobalActionRate: r.Action.GlobalActionRate,
			TrapCount:        len(r.TrapsDetected),
			OutputPath:       path,
			CreatedAt:        r.GeneratedAt,
		}
		if err := logging.LogReport(b.logDB, entry); err != nil {
			b.logger.Warn("report log write failed", "err", err)
		}
	}
	return r, nil
}

// WriteFile writes r as indented JSON. The file is written to a temporary
// sibling and renamed into place, so readers never see a partial report.
func WriteFile(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

// #endregion publish

// #region helpers
func stateIDs(states map[string]state.State, domain string) []string {
	ids := make([]string, 0, len(states))
	for id, s := range states {
		if domain == "" || s.Domain == domain {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func nonNil(vs []balance.Violation) []balance.Violation {
	if vs == nil {
		return []balance.Violation{}
	}
	return vs
}

// #endregion helpers
