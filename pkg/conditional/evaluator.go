// Package conditional evaluates the boolean expressions of condition steps.
package conditional

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

var (
	ErrEmptyExpression    = errors.New("expression is empty")
	ErrRejectedCharacters = errors.New("expression contains characters outside the allowed set")
	ErrNotBoolean         = errors.New("expression did not evaluate to a boolean")
)

// Evaluator resolves an expression against an environment of named values.
type Evaluator interface {
	Evaluate(expression string, env map[string]any) (bool, error)
}

var allowedExpression = regexp.MustCompile(`^[A-Za-z0-9_\s+\-*/%()><=!&|.]+$`)

var strictEquality = strings.NewReplacer("!==", "!=", "===", "==")

// GatedEvaluator admits only expressions made of a restricted character class
// and evaluates the survivors with expr. Quotes, brackets, commas and other
// punctuation never reach the compiler.
type GatedEvaluator struct{}

func NewGatedEvaluator() *GatedEvaluator {
	return &GatedEvaluator{}
}

func (g *GatedEvaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	normalized := strictEquality.Replace(strings.TrimSpace(expression))
	if normalized == "" {
		return false, ErrEmptyExpression
	}

	if !allowedExpression.MatchString(normalized) {
		return false, ErrRejectedCharacters
	}

	if env == nil {
		env = map[string]any{}
	}

	// expr.Env must come before AllowUndefinedVariables
	program, err := expr.Compile(normalized,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to compile expression: %w", err)
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, ErrNotBoolean
	}

	return result, nil
}
