package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/corridorsec/harrier/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return engine
}

func rule(id, expression, escalate string) *domain.PolicyRule {
	return &domain.PolicyRule{
		ID:         id,
		Name:       id,
		Expression: expression,
		Escalate:   escalate,
		Enabled:    true,
	}
}

func testResult() *domain.ScoreResult {
	return &domain.ScoreResult{
		ID:         "res-1",
		TxID:       "tx-1",
		Corridor:   "GBP_NGN",
		RawScore:   0.42,
		FinalScore: 0.45,
		Decision:   domain.DecisionReview,
		Features: domain.FeatureVector{
			Velocity:           domain.FeatureScore{Value: 0.8},
			AmountDeviation:    domain.FeatureScore{Value: 0.1},
			BeneficiaryNovelty: domain.FeatureScore{Value: 0.3},
			TemporalAnomaly:    domain.FeatureScore{Value: 0.5},
		},
		Weights: domain.WeightVector{
			Velocity:           0.25,
			AmountDeviation:    0.20,
			BeneficiaryNovelty: 0.25,
			DeviceConsistency:  0.20,
			TemporalAnomaly:    0.10,
		},
	}
}

func TestValidateRule(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name  string
		rule  *domain.PolicyRule
		valid bool
	}{
		{"Valid", rule("r1", "score > 0.5", domain.DecisionBlock), true},
		{"Nil", nil, false},
		{"EmptyExpression", rule("r1", "", domain.DecisionBlock), false},
		{"BadEscalate", rule("r1", "score > 0.5", domain.DecisionApprove), false},
		{"EmptyEscalate", rule("r1", "score > 0.5", ""), false},
		{"TierOutOfRange", func() *domain.PolicyRule {
			r := rule("r1", "score > 0.5", domain.DecisionBlock)
			r.Tier = 5
			return r
		}(), false},
		{"NonBoolOutput", rule("r1", "score + 0.1", domain.DecisionBlock), false},
		{"CompileError", rule("r1", "score >>> 0.5", domain.DecisionBlock), false},
		{"UnknownVariable", rule("r1", "velocity > 0.5", domain.DecisionBlock), false},
		{"FeatureLookup", rule("r1", `features["velocity"] > 0.7`, domain.DecisionReview), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateRule(tt.rule)
			if tt.valid && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadRules(t *testing.T) {
	t.Run("SkipsDisabled", func(t *testing.T) {
		engine := newTestEngine(t)
		disabled := rule("r2", "score > 0.9", domain.DecisionBlock)
		disabled.Enabled = false

		err := engine.LoadRules([]*domain.PolicyRule{
			rule("r1", "score > 0.5", domain.DecisionBlock),
			disabled,
		})
		if err != nil {
			t.Fatalf("LoadRules() error: %v", err)
		}
		if engine.RuleCount() != 1 {
			t.Errorf("RuleCount() = %d, want 1", engine.RuleCount())
		}
	})

	t.Run("CompileErrorKeepsOldRules", func(t *testing.T) {
		engine := newTestEngine(t)
		if err := engine.LoadRules([]*domain.PolicyRule{
			rule("r1", "score > 0.5", domain.DecisionBlock),
		}); err != nil {
			t.Fatalf("LoadRules() error: %v", err)
		}

		err := engine.LoadRules([]*domain.PolicyRule{
			rule("bad", "not valid cel (", domain.DecisionBlock),
		})
		if err == nil {
			t.Fatal("Expected compile error")
		}
		if engine.RuleCount() != 1 {
			t.Errorf("RuleCount() = %d, want previous rules intact", engine.RuleCount())
		}
	})
}

func TestReload(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("ListerError", func(t *testing.T) {
		err := engine.Reload(context.Background(), failingLister{})
		if err == nil {
			t.Error("Expected lister error to propagate")
		}
	})

	t.Run("Loads", func(t *testing.T) {
		lister := staticLister{rule("r1", "degraded", domain.DecisionReview)}
		if err := engine.Reload(context.Background(), lister); err != nil {
			t.Fatalf("Reload() error: %v", err)
		}
		if engine.RuleCount() != 1 {
			t.Errorf("RuleCount() = %d", engine.RuleCount())
		}
	})
}

type failingLister struct{}

func (failingLister) ListPolicyRules(ctx context.Context) ([]*domain.PolicyRule, error) {
	return nil, errors.New("db down")
}

type staticLister []*domain.PolicyRule

func (l staticLister) ListPolicyRules(ctx context.Context) ([]*domain.PolicyRule, error) {
	return l, nil
}

func TestOverride(t *testing.T) {
	ctx := context.Background()

	t.Run("NoRulesLoaded", func(t *testing.T) {
		engine := newTestEngine(t)
		decision, fired := engine.Override(ctx, testResult(), 3)
		if decision != domain.DecisionReview || fired != nil {
			t.Errorf("Override() = %s, %v", decision, fired)
		}
	})

	t.Run("ScoreExpressionFires", func(t *testing.T) {
		engine := newTestEngine(t)
		engine.LoadRules([]*domain.PolicyRule{
			rule("high-score", "score > 0.4", domain.DecisionBlock),
		})
		decision, fired := engine.Override(ctx, testResult(), 3)
		if decision != domain.DecisionBlock {
			t.Errorf("Decision = %s, want BLOCK", decision)
		}
		if len(fired) != 1 || fired[0] != "high-score" {
			t.Errorf("Fired = %v", fired)
		}
	})

	t.Run("FeatureExpressionFires", func(t *testing.T) {
		engine := newTestEngine(t)
		engine.LoadRules([]*domain.PolicyRule{
			rule("velocity-spike", `features["velocity"] > 0.7`, domain.DecisionBlock),
		})
		decision, _ := engine.Override(ctx, testResult(), 3)
		if decision != domain.DecisionBlock {
			t.Errorf("Decision = %s, want BLOCK", decision)
		}
	})

	t.Run("DegradedAndCorridorContext", func(t *testing.T) {
		engine := newTestEngine(t)
		engine.LoadRules([]*domain.PolicyRule{
			rule("degraded-corridor", `degraded && corridor == "GBP_NGN"`, domain.DecisionReview),
		})
		res := testResult()
		res.Decision = domain.DecisionApprove
		res.Degraded = true
		decision, _ := engine.Override(ctx, res, 3)
		if decision != domain.DecisionReview {
			t.Errorf("Decision = %s, want REVIEW", decision)
		}
	})

	t.Run("InheritedProfile", func(t *testing.T) {
		engine := newTestEngine(t)
		engine.LoadRules([]*domain.PolicyRule{
			rule("inherited", "inherited && score > 0.2", domain.DecisionReview),
		})
		res := testResult()
		res.Decision = domain.DecisionApprove
		res.InheritedProfile = true
		decision, _ := engine.Override(ctx, res, 3)
		if decision != domain.DecisionReview {
			t.Errorf("Decision = %s, want REVIEW", decision)
		}
	})

	t.Run("TierScoping", func(t *testing.T) {
		engine := newTestEngine(t)
		scoped := rule("tier-1-only", "score > 0.0", domain.DecisionBlock)
		scoped.Tier = 1
		engine.LoadRules([]*domain.PolicyRule{scoped})

		decision, fired := engine.Override(ctx, testResult(), 3)
		if decision != domain.DecisionReview || fired != nil {
			t.Errorf("Tier-scoped rule must not fire for other tiers: %s, %v", decision, fired)
		}

		decision, _ = engine.Override(ctx, testResult(), 1)
		if decision != domain.DecisionBlock {
			t.Errorf("Decision = %s, want BLOCK for matching tier", decision)
		}
	})

	t.Run("TightestEscalationWins", func(t *testing.T) {
		engine := newTestEngine(t)
		engine.LoadRules([]*domain.PolicyRule{
			rule("review-rule", "score > 0.1", domain.DecisionReview),
			rule("block-rule", "score > 0.2", domain.DecisionBlock),
			rule("another-review", "score > 0.3", domain.DecisionReview),
		})
		decision, fired := engine.Override(ctx, testResult(), 3)
		if decision != domain.DecisionBlock {
			t.Errorf("Decision = %s, want the tightest escalation", decision)
		}
		if len(fired) != 3 {
			t.Errorf("Fired = %v, want all three rules", fired)
		}
	})

	t.Run("NeverRelaxes", func(t *testing.T) {
		engine := newTestEngine(t)
		engine.LoadRules([]*domain.PolicyRule{
			rule("soften", "score > 0.1", domain.DecisionReview),
		})
		res := testResult()
		res.Decision = domain.DecisionBlock
		decision, fired := engine.Override(ctx, res, 3)
		if decision != domain.DecisionBlock {
			t.Errorf("Decision = %s, a firing rule must never relax BLOCK", decision)
		}
		if len(fired) != 1 {
			t.Errorf("Fired = %v, the rule still records as fired", fired)
		}
	})

	t.Run("CancelledContextStopsEvaluation", func(t *testing.T) {
		engine := newTestEngine(t)
		engine.LoadRules([]*domain.PolicyRule{
			rule("any", "score > 0.0", domain.DecisionBlock),
		})
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		decision, fired := engine.Override(cancelled, testResult(), 3)
		if decision != domain.DecisionReview || fired != nil {
			t.Errorf("Override() = %s, %v, want untouched decision", decision, fired)
		}
	})
}
