// Package guardrails decides which agent actions need human sign-off and
// screens inbound lead fields before they reach the agent loop.
//
// Approval policy is evaluated in two tiers:
//   - always_require: a static table of actions that always need approval
//   - conditional: actions that need approval only when a CEL condition over
//     {tier, segment, score} holds (e.g. scheduling with enterprise leads)
//
// The static table is consulted first. Conditional rules are only checked
// when the static table did not fire.
package guardrails

import (
	"fmt"
	"maps"

	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog/log"

	"github.com/leadgate/leadgate/pkg/models"
)

// Evaluator is the compiled, read-only form of a Policy. It is safe for
// concurrent use.
type Evaluator struct {
	always map[string]string // action → reason
	rules  []compiledRule
}

type compiledRule struct {
	actions map[string]struct{}
	expr    string
	prog    cel.Program
	reason  string
	prefix  string
}

// NewEvaluator compiles p. Any CEL compile error is returned.
func NewEvaluator(p Policy) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("tier", cel.StringType),
		cel.Variable("segment", cel.StringType),
		cel.Variable("score", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	e := &Evaluator{always: make(map[string]string, len(p.AlwaysRequire))}
	for _, action := range p.AlwaysRequire {
		reason := p.Reasons[action]
		if reason == "" {
			reason = action + " requires human approval"
		}
		e.always[action] = reason
	}

	for i, r := range p.Conditional {
		if len(r.Actions) == 0 {
			return nil, fmt.Errorf("conditional rule %d: no actions", i)
		}
		ast, issues := env.Compile(r.When)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("conditional rule %d: compile %q: %w", i, r.When, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("conditional rule %d: %q must evaluate to bool", i, r.When)
		}
		prog, err := env.Program(ast, cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("conditional rule %d: program: %w", i, err)
		}

		cr := compiledRule{
			actions: make(map[string]struct{}, len(r.Actions)),
			expr:    r.When,
			prog:    prog,
			reason:  r.Reason,
			prefix:  r.ActionTypePrefix,
		}
		if cr.reason == "" {
			cr.reason = "Action requires approval when " + r.When
		}
		for _, a := range r.Actions {
			cr.actions[a] = struct{}{}
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// MustDefault returns the evaluator for DefaultPolicy.
func MustDefault() *Evaluator {
	e, err := NewEvaluator(DefaultPolicy())
	if err != nil {
		panic(err)
	}
	return e
}

// Evaluate reports whether action needs human approval given ctx, which
// should carry at least "tier" and "segment". It never fails: a condition
// that cannot be evaluated requires approval.
func (e *Evaluator) Evaluate(action string, ctx map[string]any) models.ApprovalCheck {
	if reason, ok := e.always[action]; ok {
		return models.ApprovalCheck{
			Required:   true,
			Reason:     reason,
			ActionType: action,
			Context:    maps.Clone(ctx),
		}
	}

	for _, r := range e.rules {
		if _, ok := r.actions[action]; !ok {
			continue
		}
		fired, err := r.eval(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("action", action).
				Str("condition", r.expr).
				Msg("Guardrail condition failed to evaluate, requiring approval")
			return models.ApprovalCheck{
				Required:   true,
				Reason:     "Policy could not be evaluated; approval required",
				ActionType: r.prefix + action,
				Context:    maps.Clone(ctx),
			}
		}
		if fired {
			return models.ApprovalCheck{
				Required:   true,
				Reason:     r.reason,
				ActionType: r.prefix + action,
				Context:    maps.Clone(ctx),
			}
		}
	}

	return models.ApprovalCheck{Required: false}
}

func (r compiledRule) eval(ctx map[string]any) (bool, error) {
	out, _, err := r.prog.Eval(map[string]any{
		"tier":    stringOf(ctx["tier"]),
		"segment": stringOf(ctx["segment"]),
		"score":   intOf(ctx["score"]),
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", out.Value())
	}
	return b, nil
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case models.Tier:
		return string(s)
	case models.Segment:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func intOf(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
