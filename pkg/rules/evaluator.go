package rules

import (
	"fmt"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// evaluator compiles and caches the JMESPath expressions used by rule
// predicates, quantities, and reason templates.
type evaluator struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func newEvaluator() *evaluator {
	return &evaluator{
		cache: make(map[string]*jmespath.JMESPath),
	}
}

func (e *evaluator) evaluate(expression string, data any) (any, error) {
	compiled, err := e.getOrCompile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	return result, nil
}

// evaluateBool follows JMESPath truthiness: null, empty collections, empty
// strings, and false are false.
func (e *evaluator) evaluateBool(expression string, data any) (bool, error) {
	result, err := e.evaluate(expression, data)
	if err != nil {
		return false, err
	}

	switch v := result.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		return v != "", nil
	case float64:
		return v != 0, nil
	case []any:
		return len(v) > 0, nil
	case map[string]any:
		return len(v) > 0, nil
	default:
		return true, nil
	}
}

func (e *evaluator) evaluateInt(expression string, data any) (int, error) {
	result, err := e.evaluate(expression, data)
	if err != nil {
		return 0, err
	}

	switch v := result.(type) {
	case nil:
		return 0, nil
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("expression %q returned %T, want number", expression, result)
	}
}

func (e *evaluator) evaluateString(expression string, data any) (string, error) {
	result, err := e.evaluate(expression, data)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", result), nil
}

func (e *evaluator) validate(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

func (e *evaluator) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	if compiled, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()

	return compiled, nil
}
