package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corridorsec/harrier/internal/domain"
	"github.com/corridorsec/harrier/internal/weights"
)

// ----------------------------------------------------------------------------
// Stub collaborators
// ----------------------------------------------------------------------------

type stubProfiles struct {
	resolved *domain.ResolvedProfile
	err      error
}

func (s *stubProfiles) Get(corridorID string) (*domain.ResolvedProfile, error) {
	return s.resolved, s.err
}

func (s *stubProfiles) Corridors() []string { return nil }

type stubExtractor struct {
	fv domain.FeatureVector
}

func (s *stubExtractor) Extract(ctx context.Context, tx *domain.Transaction, profile *domain.CorridorProfile) domain.FeatureVector {
	return s.fv
}

type stubMonitor struct {
	status *domain.InfrastructureStatus
	err    error
	adj    float64
}

func (s *stubMonitor) Check(ctx context.Context, corridorID string, at time.Time) (*domain.InfrastructureStatus, error) {
	return s.status, s.err
}

func (s *stubMonitor) Adjustment(status *domain.InfrastructureStatus, tx *domain.Transaction) float64 {
	return s.adj
}

type stubBaselines struct {
	offset float64
	err    error
}

func (s *stubBaselines) Baseline(ctx context.Context, corridorID string) (float64, error) {
	return s.offset, s.err
}

type stubOverrider struct {
	decision string
	rules    []string
}

func (s *stubOverrider) Override(ctx context.Context, res *domain.ScoreResult, tier int) (string, []string) {
	if s.decision == "" {
		return res.Decision, nil
	}
	return s.decision, s.rules
}

// ----------------------------------------------------------------------------
// Fixtures
// ----------------------------------------------------------------------------

func scoringConfig() domain.ScoringConfig {
	return domain.ScoringConfig{
		BaseWeights: domain.WeightVector{
			Velocity:           0.25,
			AmountDeviation:    0.20,
			BeneficiaryNovelty: 0.25,
			DeviceConsistency:  0.20,
			TemporalAnomaly:    0.10,
		},
		Thresholds:        domain.DecisionThresholds{Review: 0.3, Block: 0.6},
		MaterialityFloor:  0.1,
		MitigatingCeiling: 0.02,
	}
}

func healthyStatus() *domain.InfrastructureStatus {
	return &domain.InfrastructureStatus{
		Corridor: "GBP_NGN",
		Health:   1.0,
	}
}

func ownProfile() *domain.ResolvedProfile {
	return &domain.ResolvedProfile{
		Profile: &domain.CorridorProfile{
			Corridor: "GBP_NGN",
			Tier:     3,
			Version:  "2026-W34",
		},
		Multipliers: domain.DefaultMultipliers(),
	}
}

func engineTx() *domain.Transaction {
	return &domain.Transaction{
		ID:            "tx-1",
		SenderID:      "sender-1",
		BeneficiaryID: "ben-1",
		Corridor:      "GBP_NGN",
		Amount:        decimal.NewFromInt(500),
		Currency:      "GBP",
		Timestamp:     time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(profiles domain.ProfileRepository, fv domain.FeatureVector, monitor InfraMonitor, baselines domain.CorridorBaselineStore, overrider Overrider) *Engine {
	cfg := scoringConfig()
	return New(profiles, &stubExtractor{fv: fv}, weights.New(cfg.BaseWeights), monitor, baselines, cfg, overrider)
}

// ----------------------------------------------------------------------------
// Tests
// ----------------------------------------------------------------------------

func TestScore_Pipeline(t *testing.T) {
	fv := domain.FeatureVector{
		Velocity:           domain.FeatureScore{Value: 0.5},
		AmountDeviation:    domain.FeatureScore{Value: 0.4},
		BeneficiaryNovelty: domain.FeatureScore{Value: 0.2},
		DeviceConsistency:  domain.FeatureScore{Value: 0.1},
		TemporalAnomaly:    domain.FeatureScore{Value: 0.0},
	}
	engine := newTestEngine(
		&stubProfiles{resolved: ownProfile()},
		fv,
		&stubMonitor{status: healthyStatus()},
		&stubBaselines{offset: 0.05},
		nil,
	)

	res, err := engine.Score(context.Background(), engineTx())
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}

	// raw = 0.25*0.5 + 0.20*0.4 + 0.25*0.2 + 0.20*0.1 + 0.10*0 = 0.275
	if !near(res.RawScore, 0.275) {
		t.Errorf("RawScore = %v, want 0.275", res.RawScore)
	}
	if !near(res.FinalScore, 0.325) {
		t.Errorf("FinalScore = %v, want 0.325", res.FinalScore)
	}
	if res.Decision != domain.DecisionReview {
		t.Errorf("Decision = %s, want REVIEW", res.Decision)
	}
	if !near(res.Adjustments.Baseline, 0.05) || res.Adjustments.Infrastructure != 0 {
		t.Errorf("Adjustments = %+v", res.Adjustments)
	}
	if res.Degraded || len(res.DegradedSources) != 0 {
		t.Errorf("Unexpected degradation: %v", res.DegradedSources)
	}
	if res.ID == "" || res.TxID != "tx-1" || res.Corridor != "GBP_NGN" {
		t.Errorf("Result identity incomplete: %+v", res)
	}
	if res.ProfileVersion != "2026-W34" {
		t.Errorf("ProfileVersion = %s", res.ProfileVersion)
	}
	if res.Metadata.EngineVersion != EngineVersion {
		t.Errorf("EngineVersion = %s", res.Metadata.EngineVersion)
	}
}

func TestScore_Deterministic(t *testing.T) {
	fv := domain.FeatureVector{
		Velocity:        domain.FeatureScore{Value: 0.9},
		AmountDeviation: domain.FeatureScore{Value: 0.7},
	}
	engine := newTestEngine(
		&stubProfiles{resolved: ownProfile()},
		fv,
		&stubMonitor{status: healthyStatus()},
		&stubBaselines{offset: 0.1},
		nil,
	)

	first, err := engine.Score(context.Background(), engineTx())
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := engine.Score(context.Background(), engineTx())
		if err != nil {
			t.Fatalf("Score() error: %v", err)
		}
		if again.FinalScore != first.FinalScore || again.Decision != first.Decision {
			t.Fatalf("Same inputs produced different outcomes: %v/%s vs %v/%s",
				first.FinalScore, first.Decision, again.FinalScore, again.Decision)
		}
	}
}

func TestScore_MissingProfile(t *testing.T) {
	engine := newTestEngine(
		&stubProfiles{err: &domain.MissingProfileError{Corridor: "XXX_YYY"}},
		domain.FeatureVector{},
		&stubMonitor{status: healthyStatus()},
		&stubBaselines{},
		nil,
	)

	res, err := engine.Score(context.Background(), engineTx())
	if res != nil {
		t.Error("Expected nil result when no profile resolves")
	}
	var missing *domain.MissingProfileError
	if !errors.As(err, &missing) {
		t.Errorf("Expected MissingProfileError, got %v", err)
	}
}

func TestScore_InfraAdjustmentClampsAtZero(t *testing.T) {
	// raw = 0.25*0.4 = 0.1; adjustment -0.3 would go negative.
	fv := domain.FeatureVector{
		Velocity: domain.FeatureScore{Value: 0.4},
	}
	engine := newTestEngine(
		&stubProfiles{resolved: ownProfile()},
		fv,
		&stubMonitor{status: healthyStatus(), adj: -0.3},
		&stubBaselines{offset: 0.02},
		nil,
	)

	res, err := engine.Score(context.Background(), engineTx())
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}

	if !near(res.Adjustments.Infrastructure, -0.3) {
		t.Errorf("Infrastructure adjustment = %v, want -0.3", res.Adjustments.Infrastructure)
	}
	// Clamped to 0 before the baseline, so final = baseline alone.
	if !near(res.FinalScore, 0.02) {
		t.Errorf("FinalScore = %v, want 0.02 (clamp applies before baseline)", res.FinalScore)
	}
	if res.Decision != domain.DecisionApprove {
		t.Errorf("Decision = %s, want APPROVE", res.Decision)
	}
}

func TestScore_BaselineAppliedAfterClamp(t *testing.T) {
	// A large baseline can push a clamped score over a threshold; the
	// baseline is never absorbed by the clamp.
	engine := newTestEngine(
		&stubProfiles{resolved: ownProfile()},
		domain.FeatureVector{},
		&stubMonitor{status: healthyStatus(), adj: -0.3},
		&stubBaselines{offset: 0.35},
		nil,
	)

	res, err := engine.Score(context.Background(), engineTx())
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}
	if !near(res.FinalScore, 0.35) {
		t.Errorf("FinalScore = %v, want 0.35", res.FinalScore)
	}
	if res.Decision != domain.DecisionReview {
		t.Errorf("Decision = %s, want REVIEW", res.Decision)
	}
}

func TestScore_DegradedInputs(t *testing.T) {
	t.Run("InfrastructureUnavailable", func(t *testing.T) {
		engine := newTestEngine(
			&stubProfiles{resolved: ownProfile()},
			domain.FeatureVector{},
			&stubMonitor{err: errors.New("feed down")},
			&stubBaselines{},
			nil,
		)

		res, err := engine.Score(context.Background(), engineTx())
		if err != nil {
			t.Fatalf("Dependency failure must degrade, not fail: %v", err)
		}
		if !res.Degraded || !contains(res.DegradedSources, SourceInfrastructure) {
			t.Errorf("Expected degraded source %s, got %v", SourceInfrastructure, res.DegradedSources)
		}
		if res.Adjustments.Infrastructure != 0 {
			t.Errorf("No adjustment may apply without status, got %v", res.Adjustments.Infrastructure)
		}
	})

	t.Run("StaleInfrastructureStatus", func(t *testing.T) {
		stale := healthyStatus()
		stale.Stale = true
		engine := newTestEngine(
			&stubProfiles{resolved: ownProfile()},
			domain.FeatureVector{},
			&stubMonitor{status: stale, adj: -0.3},
			&stubBaselines{},
			nil,
		)

		res, err := engine.Score(context.Background(), engineTx())
		if err != nil {
			t.Fatalf("Score() error: %v", err)
		}
		if !contains(res.DegradedSources, SourceInfrastructure) {
			t.Errorf("Stale status must mark degradation, got %v", res.DegradedSources)
		}
		// A stale status still informs the adjustment.
		if !near(res.Adjustments.Infrastructure, -0.3) {
			t.Errorf("Stale status should still adjust, got %v", res.Adjustments.Infrastructure)
		}
	})

	t.Run("BaselineUnavailable", func(t *testing.T) {
		engine := newTestEngine(
			&stubProfiles{resolved: ownProfile()},
			domain.FeatureVector{},
			&stubMonitor{status: healthyStatus()},
			&stubBaselines{err: errors.New("db down")},
			nil,
		)

		res, err := engine.Score(context.Background(), engineTx())
		if err != nil {
			t.Fatalf("Dependency failure must degrade, not fail: %v", err)
		}
		if !contains(res.DegradedSources, SourceBaseline) {
			t.Errorf("Expected degraded source %s, got %v", SourceBaseline, res.DegradedSources)
		}
		if res.Adjustments.Baseline != 0 {
			t.Errorf("Baseline must fall back to 0, got %v", res.Adjustments.Baseline)
		}
	})

	t.Run("DegradedFeatures", func(t *testing.T) {
		fv := domain.FeatureVector{
			BeneficiaryNovelty: domain.FeatureScore{Value: 0.3, Degraded: true},
			DeviceConsistency:  domain.FeatureScore{Value: 0.4, Degraded: true},
		}
		engine := newTestEngine(
			&stubProfiles{resolved: ownProfile()},
			fv,
			&stubMonitor{status: healthyStatus()},
			&stubBaselines{},
			nil,
		)

		res, err := engine.Score(context.Background(), engineTx())
		if err != nil {
			t.Fatalf("Score() error: %v", err)
		}
		if !contains(res.DegradedSources, domain.FeatureBeneficiaryNovelty) ||
			!contains(res.DegradedSources, domain.FeatureDeviceConsistency) {
			t.Errorf("Expected both degraded features named, got %v", res.DegradedSources)
		}
	})

	t.Run("InheritedProfile", func(t *testing.T) {
		inherited := ownProfile()
		inherited.Inherited = true
		inherited.InheritedFrom = "GBP_GHS"
		engine := newTestEngine(
			&stubProfiles{resolved: inherited},
			domain.FeatureVector{},
			&stubMonitor{status: healthyStatus()},
			&stubBaselines{},
			nil,
		)

		res, err := engine.Score(context.Background(), engineTx())
		if err != nil {
			t.Fatalf("Score() error: %v", err)
		}
		if !res.InheritedProfile {
			t.Error("Expected InheritedProfile flag")
		}
		if !contains(res.DegradedSources, SourceProfile) {
			t.Errorf("Expected degraded source %s, got %v", SourceProfile, res.DegradedSources)
		}
	})
}

func TestScore_CancelledCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(
		&stubProfiles{resolved: ownProfile()},
		domain.FeatureVector{},
		&stubMonitor{err: context.Canceled},
		&stubBaselines{},
		nil,
	)

	res, err := engine.Score(ctx, engineTx())
	if res != nil || err == nil {
		t.Errorf("Cancelled caller must receive an error, got res=%v err=%v", res, err)
	}
}

func TestScore_BaselineCancellationPropagates(t *testing.T) {
	engine := newTestEngine(
		&stubProfiles{resolved: ownProfile()},
		domain.FeatureVector{},
		&stubMonitor{status: healthyStatus()},
		&stubBaselines{err: context.DeadlineExceeded},
		nil,
	)

	res, err := engine.Score(context.Background(), engineTx())
	if res != nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error to propagate, got res=%v err=%v", res, err)
	}
}

func TestScore_PolicyEscalation(t *testing.T) {
	engine := newTestEngine(
		&stubProfiles{resolved: ownProfile()},
		domain.FeatureVector{},
		&stubMonitor{status: healthyStatus()},
		&stubBaselines{},
		&stubOverrider{decision: domain.DecisionReview, rules: []string{"degraded-inherited-review"}},
	)

	res, err := engine.Score(context.Background(), engineTx())
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}

	if res.Decision != domain.DecisionReview {
		t.Errorf("Decision = %s, want escalated REVIEW", res.Decision)
	}

	found := false
	for _, f := range res.Explanation.PrimaryFactors {
		if strings.Contains(f, "degraded-inherited-review") {
			found = true
		}
	}
	if !found {
		t.Errorf("Escalation must name the fired rule, got %v", res.Explanation.PrimaryFactors)
	}
}

func TestScore_PolicyNeverRelaxes(t *testing.T) {
	// Final score 0.7 decides BLOCK; an overrider answering REVIEW must be
	// ignored.
	fv := domain.FeatureVector{
		Velocity:           domain.FeatureScore{Value: 1},
		AmountDeviation:    domain.FeatureScore{Value: 1},
		BeneficiaryNovelty: domain.FeatureScore{Value: 1},
	}
	engine := newTestEngine(
		&stubProfiles{resolved: ownProfile()},
		fv,
		&stubMonitor{status: healthyStatus()},
		&stubBaselines{},
		&stubOverrider{decision: domain.DecisionReview, rules: []string{"relaxer"}},
	)

	res, err := engine.Score(context.Background(), engineTx())
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}
	if res.Decision != domain.DecisionBlock {
		t.Errorf("Decision = %s, a policy rule must never relax BLOCK", res.Decision)
	}
	for _, f := range res.Explanation.PrimaryFactors {
		if strings.Contains(f, "relaxer") {
			t.Errorf("Non-escalating rule must not be recorded, got %v", res.Explanation.PrimaryFactors)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func near(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
