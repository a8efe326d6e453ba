package watch

import (
	"context"
	"sync"

	"changewatch/internal/storage"
)

// Watcher is the per-operation-type strategy deriving change descriptions
// around execution. InfoBefore may read the store (update/delete resolve
// the affected keys with a find); InfoAfter must build a fresh ChangeInfo
// with the same cardinality as the pre-execution info, with the change at
// each index describing the same logical object.
type Watcher interface {
	InfoBefore(ctx context.Context, op storage.Operation, store storage.Store) (*ChangeInfo, error)
	InfoAfter(ctx context.Context, op storage.Operation, pre *ChangeInfo, result *storage.ExecResult, store storage.Store) (*ChangeInfo, error)
}

// Transformer is implemented by watchers that rewrite an ambiguous
// filter-based operation into an equivalent executeBatch of unambiguous,
// re-correlatable sub-operations. A nil returned operation means no
// rewrite is needed.
type Transformer interface {
	Transform(ctx context.Context, op storage.Operation, store storage.Store, pre *ChangeInfo) (storage.Operation, error)
}

// Registry maps an operation name to its watcher. Operation names absent
// from the registry pass through the middleware untouched.
type Registry map[string]Watcher

// defaultRegistry is process-wide immutable configuration, constructed
// once. Instances receive copies, never the shared map.
var defaultRegistry = sync.OnceValue(func() Registry {
	return Registry{
		storage.OpCreateObject:  createWatcher{},
		storage.OpUpdateObject:  mutationWatcher{kind: ChangeModify},
		storage.OpUpdateObjects: mutationWatcher{kind: ChangeModify},
		storage.OpDeleteObject:  mutationWatcher{kind: ChangeDelete},
		storage.OpDeleteObjects: mutationWatcher{kind: ChangeDelete},
		storage.OpExecuteBatch:  batchWatcher{},
	}
})

// DefaultRegistry returns a copy of the built-in watcher table.
func DefaultRegistry() Registry {
	defaults := defaultRegistry()
	r := make(Registry, len(defaults))
	for name, w := range defaults {
		r[name] = w
	}
	return r
}

// With returns a copy of the registry with the entry for name replaced
// (or added, or removed when w is nil). The receiver is not mutated.
func (r Registry) With(name string, w Watcher) Registry {
	out := make(Registry, len(r)+1)
	for n, existing := range r {
		out[n] = existing
	}
	if w == nil {
		delete(out, name)
	} else {
		out[name] = w
	}
	return out
}
