package watch

import (
	"fmt"
	"slices"

	"github.com/google/cel-go/cel"
)

// CollectionPredicate decides whether changes to a collection are
// reported. Evaluated once per derived change.
type CollectionPredicate func(collection string) bool

// WatchAll reports every collection.
func WatchAll() CollectionPredicate {
	return func(string) bool { return true }
}

// WatchCollections reports only the named collections.
func WatchCollections(names ...string) CollectionPredicate {
	return func(collection string) bool {
		return slices.Contains(names, collection)
	}
}

// WatchExpr compiles a CEL expression over the variable `collection` into
// a predicate, e.g. `collection.startsWith("orders")`. Evaluation errors
// count as no match.
func WatchExpr(expr string) (CollectionPredicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("collection", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("CEL environment error: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression %q is not boolean", expr)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}

	return func(collection string) bool {
		out, _, err := prg.Eval(map[string]interface{}{
			"collection": collection,
		})
		if err != nil {
			return false
		}
		matched, ok := out.Value().(bool)
		return ok && matched
	}, nil
}
