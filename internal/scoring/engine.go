// Package scoring runs the corridor-adaptive scoring pipeline: feature
// extraction, weight blending, infrastructure adjustment, baseline offset,
// decisioning and explainability.
package scoring

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/corridorsec/harrier/internal/domain"
	"github.com/corridorsec/harrier/internal/weights"
)

// EngineVersion is stamped into result metadata for audit.
const EngineVersion = "1.0.0"

// Degraded-source labels for non-feature inputs.
const (
	SourceInfrastructure = "infrastructure_status"
	SourceBaseline       = "baseline"
	SourceProfile        = "corridor_profile"
)

// FeatureExtractor computes the five risk signals for a transaction.
type FeatureExtractor interface {
	Extract(ctx context.Context, tx *domain.Transaction, profile *domain.CorridorProfile) domain.FeatureVector
}

// InfraMonitor supplies corridor infrastructure status and the discount it
// implies for a transaction.
type InfraMonitor interface {
	Check(ctx context.Context, corridorID string, at time.Time) (*domain.InfrastructureStatus, error)
	Adjustment(status *domain.InfrastructureStatus, tx *domain.Transaction) float64
}

// Overrider applies tier-scoped policy rules to a provisional result. It
// returns the (possibly escalated) decision and the names of the rules
// that fired. Overrides only ever tighten a decision.
type Overrider interface {
	Override(ctx context.Context, res *domain.ScoreResult, tier int) (string, []string)
}

// Engine scores transactions. It is safe for concurrent use; all mutable
// state lives behind its collaborators.
type Engine struct {
	profiles  domain.ProfileRepository
	extractor FeatureExtractor
	adjuster  *weights.Adjuster
	monitor   InfraMonitor
	baselines domain.CorridorBaselineStore
	decider   *Decider
	explainer *Explainer
	overrider Overrider
}

// New creates a scoring engine. The overrider may be nil when no policy
// rules are configured.
func New(
	profiles domain.ProfileRepository,
	extractor FeatureExtractor,
	adjuster *weights.Adjuster,
	monitor InfraMonitor,
	baselines domain.CorridorBaselineStore,
	cfg domain.ScoringConfig,
	overrider Overrider,
) *Engine {
	return &Engine{
		profiles:  profiles,
		extractor: extractor,
		adjuster:  adjuster,
		monitor:   monitor,
		baselines: baselines,
		decider:   NewDecider(cfg.Thresholds),
		explainer: NewExplainer(cfg.MaterialityFloor, cfg.MitigatingCeiling),
		overrider: overrider,
	}
}

// Score runs the full pipeline for one transaction. The same transaction
// against the same profile version and the same dependency responses
// always produces the same score and decision.
//
// Only two things fail the call outright: no profile is resolvable for the
// corridor, and caller cancellation. Every other dependency failure
// degrades the affected input and marks the result.
func (e *Engine) Score(ctx context.Context, tx *domain.Transaction) (*domain.ScoreResult, error) {
	start := time.Now()

	resolved, err := e.profiles.Get(tx.Corridor)
	if err != nil {
		return nil, err
	}
	profile := resolved.Profile

	fv := e.extractor.Extract(ctx, tx, profile)
	w := e.adjuster.Adjust(resolved.Multipliers)

	raw := 0.0
	fvals, wvals := fv.Values(), w.Values()
	for i := range fvals {
		raw += fvals[i] * wvals[i]
	}

	degradedSources := fv.DegradedSources()

	infraAdj := 0.0
	status, infraErr := e.monitor.Check(ctx, tx.Corridor, tx.Timestamp)
	switch {
	case infraErr != nil && ctx.Err() != nil:
		// The caller went away; nothing downstream should observe a
		// result for this request.
		return nil, infraErr
	case infraErr != nil:
		slog.Warn("infrastructure status unavailable, skipping adjustment",
			"corridor", tx.Corridor,
			"error", infraErr,
		)
		degradedSources = append(degradedSources, SourceInfrastructure)
	default:
		if status.Stale {
			degradedSources = append(degradedSources, SourceInfrastructure)
		}
		infraAdj = e.monitor.Adjustment(status, tx)
	}

	adjusted := raw + infraAdj
	if adjusted < 0 {
		adjusted = 0
	}

	baseline, baseErr := e.baselines.Baseline(ctx, tx.Corridor)
	if baseErr != nil {
		if errors.Is(baseErr, context.Canceled) || errors.Is(baseErr, context.DeadlineExceeded) {
			return nil, baseErr
		}
		slog.Warn("corridor baseline unavailable, using zero offset",
			"corridor", tx.Corridor,
			"error", baseErr,
		)
		baseline = 0
		degradedSources = append(degradedSources, SourceBaseline)
	}

	final := adjusted + baseline
	decision := e.decider.Decide(final)

	if resolved.Inherited {
		degradedSources = append(degradedSources, SourceProfile)
	}

	res := &domain.ScoreResult{
		ID:       uuid.New().String(),
		TxID:     tx.ID,
		Corridor: tx.Corridor,
		Features: fv,
		Weights:  w,
		RawScore: raw,
		Adjustments: domain.Adjustments{
			Infrastructure: infraAdj,
			Baseline:       baseline,
		},
		FinalScore:       final,
		Decision:         decision,
		Explanation:      e.explainer.Build(fv, w, resolved),
		Degraded:         len(degradedSources) > 0,
		DegradedSources:  degradedSources,
		InheritedProfile: resolved.Inherited,
		ProfileVersion:   profile.Version,
		Timestamp:        time.Now().UTC(),
	}

	if e.overrider != nil {
		if escalated, rules := e.overrider.Override(ctx, res, profile.Tier); Escalates(res.Decision, escalated) {
			slog.Info("policy override escalated decision",
				"txId", tx.ID,
				"from", res.Decision,
				"to", escalated,
				"rules", rules,
			)
			res.Decision = escalated
			for _, rule := range rules {
				res.Explanation.PrimaryFactors = append(res.Explanation.PrimaryFactors,
					"policy rule triggered: "+rule)
			}
		}
	}

	res.Metadata = domain.ResultMetadata{
		TraceID:       traceID(ctx),
		TotalMs:       time.Since(start).Milliseconds(),
		EngineVersion: EngineVersion,
	}
	return res, nil
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
