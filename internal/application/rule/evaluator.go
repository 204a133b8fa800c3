// Package rule evaluates the boolean expressions that pick between
// conditional edges of a stage graph.
package rule

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
)

// ExprEvaluator implements port.RuleEvaluator with expr-lang/expr.
//
// Expressions see a fixed environment so a program compiled once is valid
// for every request:
//
//	fields        the request's field map
//	flag(name)    truthy reading of a field (checkbox, "yes", 1 ...)
//	str(name)     string reading of a field, lists joined by ", "
//	has(name)     true when the field is present and non-empty
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator creates an evaluator with an empty program cache
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// Compile parses and type-checks expression, caching the program
func (e *ExprEvaluator) Compile(expression string) error {
	_, err := e.compile(expression)
	return err
}

// Evaluate runs expression against fields. The expression must yield a bool.
func (e *ExprEvaluator) Evaluate(expression string, fields map[string]interface{}) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, newEnv(fields))
	if err != nil {
		return false, fmt.Errorf("rule %q failed: %w", expression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to a boolean, got %T", expression, out)
	}
	return result, nil
}

func (e *ExprEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.Env(newEnv(nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule %q: %w", expression, err)
	}
	e.cache[expression] = program
	return program, nil
}

func newEnv(fields map[string]interface{}) map[string]interface{} {
	f := entity.Fields(fields)
	if f == nil {
		f = entity.Fields{}
	}
	return map[string]interface{}{
		"fields": map[string]interface{}(f),
		"flag":   func(name string) bool { return f.Bool(name) },
		"str":    func(name string) string { return f.String(name) },
		"has":    func(name string) bool { return f.String(name) != "" },
	}
}

var _ port.RuleEvaluator = (*ExprEvaluator)(nil)
