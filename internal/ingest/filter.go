package ingest

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// IgnoreFilter drops events matching any of a set of expr-lang expressions.
// Expressions see: type, code, path, message, owner, user_agent, metadata.
//
//	type == "404" && path startsWith "/wp-"
//	message contains "ResizeObserver"
type IgnoreFilter struct {
	matchers []*exprMatcher
}

type exprMatcher struct {
	expression string
	program    *vm.Program
}

// NewIgnoreFilter compiles the expressions. Any compile error is returned.
func NewIgnoreFilter(expressions []string) (*IgnoreFilter, error) {
	f := &IgnoreFilter{}
	for i, expression := range expressions {
		program, err := expr.Compile(expression,
			expr.Env(sampleEnv()),
			expr.AsBool(),
		)
		if err != nil {
			return nil, fmt.Errorf("compile ignore expression %d: %w", i, err)
		}
		f.matchers = append(f.matchers, &exprMatcher{expression: expression, program: program})
	}
	return f, nil
}

// Len returns the number of compiled expressions.
func (f *IgnoreFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.matchers)
}

// Match returns the first expression the event matches, or "" if none.
// An evaluation error counts as no match.
func (f *IgnoreFilter) Match(ev *models.ErrorEvent) (string, error) {
	if f.Len() == 0 {
		return "", nil
	}
	env := envFromEvent(ev)
	var firstErr error
	for _, m := range f.matchers {
		result, err := expr.Run(m.program, env)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("evaluate %q: %w", m.expression, err)
			}
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			return m.expression, nil
		}
	}
	return "", firstErr
}

func sampleEnv() map[string]any {
	return map[string]any{
		"type":       "",
		"code":       "",
		"path":       "",
		"message":    "",
		"owner":      "",
		"user_agent": "",
		"metadata":   map[string]string{},
	}
}

func envFromEvent(ev *models.ErrorEvent) map[string]any {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return map[string]any{
		"type":       string(ev.Type),
		"code":       ev.Code,
		"path":       ev.Path,
		"message":    ev.Message,
		"owner":      ev.OwnerID,
		"user_agent": ev.UserAgent,
		"metadata":   metadata,
	}
}
