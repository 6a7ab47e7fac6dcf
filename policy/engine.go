package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the outcome of evaluating a management request.
type Decision string

const (
	DecisionReject     Decision = "reject"
	DecisionSuggest    Decision = "suggest"
	DecisionExecute    Decision = "execute"
	DecisionRejectAuto Decision = "reject_auto"
)

// Input is the document the policy is evaluated against.
type Input struct {
	Route              string
	Action             string
	AutoExecute        bool
	KnownActions       []string
	AutoAllowedActions []string
}

func (in Input) toMap() map[string]interface{} {
	known := make([]interface{}, len(in.KnownActions))
	for i, a := range in.KnownActions {
		known[i] = a
	}
	auto := make([]interface{}, len(in.AutoAllowedActions))
	for i, a := range in.AutoAllowedActions {
		auto[i] = a
	}
	return map[string]interface{}{
		"route":                in.Route,
		"action":               in.Action,
		"auto_execute":         in.AutoExecute,
		"known_actions":        known,
		"auto_allowed_actions": auto,
	}
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.command_policy.decision"),
		rego.Module("command_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the decision for input. An undefined result rejects.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input.toMap()))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionReject, nil
	}

	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	return Decision(s), nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package command_policy

default decision = "reject"

known_action {
	input.known_actions[_] == input.action
}

auto_allowed {
	input.auto_allowed_actions[_] == input.action
}

decision = "suggest" {
	known_action
	not input.auto_execute
}

# Handshake requests are already authenticated, so any known action may run.
decision = "execute" {
	known_action
	input.auto_execute
	input.route == "handshake"
}

decision = "execute" {
	known_action
	input.auto_execute
	input.route == "command"
	auto_allowed
}

decision = "reject_auto" {
	known_action
	input.auto_execute
	input.route == "command"
	not auto_allowed
}
`
