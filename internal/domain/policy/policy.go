// Package policy compiles configurable payout hold rules written as CEL
// expressions. A policy can only add holds: the ledger consults it after
// the built-in rules and ignores it on evaluation failure.
//
// Example expressions:
//
//	entry.amount > 10000.0
//	partner.kyc_status != "complete" && entry.amount > 500.0
package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"partnerpay/internal/core/apperror"
)

// HoldPolicy is a compiled hold expression.
type HoldPolicy struct {
	expr    string
	program cel.Program
}

// Compile parses and type-checks a hold expression. The expression sees two
// variables, `entry` and `partner`, and must produce a bool: true means
// force the entry to on_hold.
func Compile(expr string) (*HoldPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("entry", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("partner", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, apperror.NewValidation("hold policy does not compile").
			WithDetail("expression", expr).
			WithDetail("error", iss.Err().Error())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, apperror.NewValidation("hold policy must evaluate to a boolean").
			WithDetail("expression", expr).
			WithDetail("outputType", ast.OutputType().String())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy program: %w", err)
	}

	return &HoldPolicy{expr: expr, program: program}, nil
}

// Expression returns the source expression.
func (p *HoldPolicy) Expression() string {
	return p.expr
}

// Evaluate runs the policy against the given variables.
func (p *HoldPolicy) Evaluate(ctx context.Context, vars map[string]any) (bool, error) {
	out, _, err := p.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("policy eval: %w", err)
	}

	hold, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy produced %T, want bool", out.Value())
	}
	return hold, nil
}
