// Package policy provides the CEL-Go based decision override engine.
// Policy rules run after scoring and may only escalate a decision.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/corridorsec/harrier/internal/domain"
)

// RuleLister provides the persisted policy rules for loading.
type RuleLister interface {
	ListPolicyRules(ctx context.Context) ([]*domain.PolicyRule, error)
}

// Engine compiles and evaluates policy override rules. Rules are
// pre-compiled at load time; evaluation takes only a read lock so reloads
// never block the scoring path.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*compiledRule
}

type compiledRule struct {
	rule    *domain.PolicyRule
	program cel.Program
}

// NewEngine creates an override engine with the score-result CEL
// environment.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("raw_score", cel.DoubleType),
		cel.Variable("decision", cel.StringType),
		cel.Variable("corridor", cel.StringType),
		cel.Variable("tier", cel.IntType),
		cel.Variable("degraded", cel.BoolType),
		cel.Variable("inherited", cel.BoolType),
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("weights", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("policy rule is required")
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(rule)
	return err
}

// LoadRules compiles the enabled rules and swaps them in atomically. On
// any compile error the previously loaded rules stay active.
func (e *Engine) LoadRules(rules []*domain.PolicyRule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		cr, err := e.compile(rule)
		if err != nil {
			return fmt.Errorf("policy rule %s: %w", rule.ID, err)
		}
		compiled = append(compiled, cr)
	}

	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()
	return nil
}

// Reload fetches the persisted rules and loads them.
func (e *Engine) Reload(ctx context.Context, lister RuleLister) error {
	rules, err := lister.ListPolicyRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list policy rules: %w", err)
	}
	if err := e.LoadRules(rules); err != nil {
		return err
	}
	slog.Info("policy rules loaded", "count", len(rules))
	return nil
}

// RuleCount returns the number of loaded rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

func (e *Engine) compile(rule *domain.PolicyRule) (*compiledRule, error) {
	if rule.Expression == "" {
		return nil, fmt.Errorf("expression is required")
	}
	switch rule.Escalate {
	case domain.DecisionReview, domain.DecisionBlock:
	default:
		return nil, fmt.Errorf("escalate must be %s or %s, got %q",
			domain.DecisionReview, domain.DecisionBlock, rule.Escalate)
	}
	if rule.Tier != 0 && (rule.Tier < domain.TierMin || rule.Tier > domain.TierMax) {
		return nil, fmt.Errorf("tier must be 0 or in [%d,%d]", domain.TierMin, domain.TierMax)
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return &compiledRule{rule: rule, program: program}, nil
}

// Override evaluates the loaded rules against a completed score result and
// returns the tightest escalation among those that fire, with the names of
// the firing rules. When no rule fires the original decision comes back
// unchanged.
func (e *Engine) Override(ctx context.Context, res *domain.ScoreResult, tier int) (string, []string) {
	e.mu.RLock()
	rules := e.compiled
	e.mu.RUnlock()

	if len(rules) == 0 {
		return res.Decision, nil
	}

	activation := map[string]any{
		"score":     res.FinalScore,
		"raw_score": res.RawScore,
		"decision":  res.Decision,
		"corridor":  res.Corridor,
		"tier":      int64(tier),
		"degraded":  res.Degraded,
		"inherited": res.InheritedProfile,
		"features":  res.Features.AsMap(),
		"weights":   res.Weights.AsMap(),
	}

	decision := res.Decision
	var fired []string
	for _, cr := range rules {
		if ctx.Err() != nil {
			break
		}
		if cr.rule.Tier != 0 && cr.rule.Tier != tier {
			continue
		}
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			slog.Warn("policy rule evaluation failed",
				"rule", cr.rule.ID,
				"error", err,
			)
			continue
		}
		hit, ok := out.(types.Bool)
		if !ok || !bool(hit) {
			continue
		}
		fired = append(fired, cr.rule.Name)
		if tighter(cr.rule.Escalate, decision) {
			decision = cr.rule.Escalate
		}
	}
	return decision, fired
}

var severity = map[string]int{
	domain.DecisionApprove: 0,
	domain.DecisionReview:  1,
	domain.DecisionBlock:   2,
}

func tighter(a, b string) bool {
	return severity[a] > severity[b]
}
