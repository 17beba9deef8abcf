package expr

import (
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// Evaluator compiles and evaluates expressions against a workflow
// evaluation context, caching compiled programs by source string since
// the same condition and template strings are evaluated on every step.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates an Evaluator with an empty compile cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Compile validates an expression's syntax without evaluating it,
// populating the cache as a side effect. Used for ahead-of-time workflow
// validation (e.g. a step's `condition`).
func (e *Evaluator) Compile(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if p, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	program, err := expr.Compile(expression,
		expr.Env(map[string]interface{}{}),
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
		expr.Function("range", func(params ...interface{}) (interface{}, error) {
			ints := make([]int, len(params))
			for i, p := range params {
				n, convErr := intFunc(p)
				if convErr != nil {
					return nil, convErr
				}
				ints[i] = n
			}
			return rangeFunc(ints...), nil
		}),
		expr.Function("len", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, nil
			}
			return lenFunc(params[0]), nil
		}),
		expr.Function("str", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return "", nil
			}
			return strFunc(params[0]), nil
		}),
		expr.Function("int", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return 0, nil
			}
			return intFunc(params[0])
		}),
		expr.Function("float", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return 0.0, nil
			}
			return floatFunc(params[0])
		}),
		expr.Function("bool", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return false, nil
			}
			return boolFunc(params[0]), nil
		}),
		expr.Function("list", func(params ...interface{}) (interface{}, error) {
			return listFunc(params...), nil
		}),
		expr.Function("dict", func(params ...interface{}) (interface{}, error) {
			return dictFunc(params...)
		}),
	)
	if err != nil {
		return nil, classifyCompileError(expression, err)
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()

	return program, nil
}

// Evaluate compiles (if needed) and runs expression against ctx, returning
// its native Go value: bool, number, string, []interface{}, or
// map[string]interface{}.
func (e *Evaluator) Evaluate(expression string, ctx map[string]interface{}) (interface{}, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	out, err := expr.Run(program, ctx)
	if err != nil {
		return nil, classifyRuntimeError(expression, err)
	}
	return out, nil
}

// EvaluateBool evaluates expression and coerces the result to bool using
// the same truthiness rules as the bool() builtin. Used for step
// conditions and wait_condition polling, which must always resolve to a
// boolean.
func (e *Evaluator) EvaluateBool(expression string, ctx map[string]interface{}) (bool, error) {
	out, err := e.Evaluate(expression, ctx)
	if err != nil {
		return false, err
	}
	return boolFunc(out), nil
}

// ClearCache discards all compiled programs. Exposed for tests and for
// long-lived processes that want to bound cache growth.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*vm.Program)
}

// CacheSize reports how many distinct expressions are currently compiled.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func classifyCompileError(expression string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unknown name") || strings.Contains(msg, "undefined") {
		return &apperrors.ExpressionError{
			Kind:       apperrors.ExpressionErrorUnknownName,
			Expression: expression,
			Message:    msg,
			Cause:      err,
		}
	}
	return &apperrors.ExpressionError{
		Kind:       apperrors.ExpressionErrorBadType,
		Expression: expression,
		Message:    msg,
		Cause:      err,
	}
}

func classifyRuntimeError(expression string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unknown name") || strings.Contains(msg, "no such key") || strings.Contains(msg, "undefined") {
		return &apperrors.ExpressionError{
			Kind:       apperrors.ExpressionErrorUnknownName,
			Expression: expression,
			Message:    msg,
			Cause:      err,
		}
	}
	return &apperrors.ExpressionError{
		Kind:       apperrors.ExpressionErrorBadType,
		Expression: expression,
		Message:    msg,
		Cause:      err,
	}
}
