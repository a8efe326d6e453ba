package watch

import (
	"context"
	"sync/atomic"

	"changewatch/internal/ctxkeys"
	"changewatch/internal/storage"
)

// Hook is an optional callback invoked around execution. original is the
// operation as received, modified is the transformed operation sent
// downstream or nil when no rewrite happened, and info is the pre- or
// post-execution change info restricted to watched collections. All three
// are the hook's own deep copies; mutating them does not influence what
// executes. A hook error aborts the in-progress operation.
type Hook func(ctx context.Context, original storage.Operation, modified storage.Operation, info *ChangeInfo) error

// Options configures a Middleware instance.
type Options struct {
	// Registry overrides the default watcher table. Nil means
	// DefaultRegistry().
	Registry Registry

	// Watch decides which collections are reported on. Nil means all.
	Watch CollectionPredicate

	// PreHook runs after pre-execution info is derived, before execution.
	PreHook Hook

	// PostHook runs after post-execution info is derived.
	PostHook Hook
}

// Middleware is the interception pipeline stage. It drives the watcher
// protocol around the actual execution step, applies collection filtering,
// and exposes pre/post hooks plus side-channel context to downstream
// stages. Registry and store are read-only after construction; only the
// enabled flag may be flipped at runtime, taking effect on the next
// Process call.
type Middleware struct {
	next     storage.Executor
	store    storage.Store
	registry Registry
	watch    CollectionPredicate
	preHook  Hook
	postHook Hook
	enabled  atomic.Bool
}

// New builds a Middleware over the next pipeline stage. store serves the
// schema lookups and the affected-key reads the watchers need.
func New(next storage.Executor, store storage.Store, opts Options) *Middleware {
	m := &Middleware{
		next:     next,
		store:    store,
		registry: opts.Registry,
		watch:    opts.Watch,
		preHook:  opts.PreHook,
		postHook: opts.PostHook,
	}
	if m.registry == nil {
		m.registry = DefaultRegistry()
	}
	if m.watch == nil {
		m.watch = WatchAll()
	}
	m.enabled.Store(true)
	return m
}

// SetEnabled toggles interception. While disabled every operation is
// forwarded unmodified with no hook invocations.
func (m *Middleware) SetEnabled(v bool) {
	m.enabled.Store(v)
}

// Enabled reports whether interception is active.
func (m *Middleware) Enabled() bool {
	return m.enabled.Load()
}

// Process intercepts one operation: derive pre-execution info, optionally
// rewrite the operation into an unambiguous batch, execute downstream,
// derive post-execution info, and surface both to the hooks. The execution
// result is returned unchanged.
func (m *Middleware) Process(ctx context.Context, op storage.Operation) (*storage.ExecResult, error) {
	// Isolate immediately: neither watchers nor downstream stages may
	// observe later in-place mutation of the caller's operation value.
	op, err := op.Clone()
	if err != nil {
		return nil, err
	}

	watcher, known := m.registry[op.Name()]
	if !m.enabled.Load() || !known {
		// Pass through, but keep the side-channel contract uniform.
		return m.next.Execute(withPendingChanges(ctx, &ChangeInfo{}), op)
	}

	pre, err := watcher.InfoBefore(ctx, op, m.store)
	if err != nil {
		return nil, err
	}

	watched := pre.filter(m.watch)
	if watched.Empty() {
		// Nobody asked to watch these collections; skip the rewrite
		// entirely and execute the original shape.
		return m.next.Execute(withPendingChanges(ctx, &ChangeInfo{}), op)
	}

	var modified storage.Operation
	if transformer, ok := watcher.(Transformer); ok {
		if modified, err = transformer.Transform(ctx, op, m.store, pre); err != nil {
			return nil, err
		}
	}

	if m.preHook != nil {
		if err := callHook(ctx, m.preHook, op, modified, watched); err != nil {
			return nil, err
		}
	}

	downstream := modified
	if downstream == nil {
		if downstream, err = op.Clone(); err != nil {
			return nil, err
		}
	}

	// Downstream sees the raw pre-info, not the watch-filtered view; it
	// gets its own copy, like every other boundary.
	ctxInfo, err := pre.clone()
	if err != nil {
		return nil, err
	}
	result, err := m.next.Execute(withPendingChanges(ctx, ctxInfo), downstream)
	if err != nil {
		return nil, err
	}

	post, err := watcher.InfoAfter(ctx, op, pre, result, m.store)
	if err != nil {
		return nil, err
	}

	if m.postHook != nil {
		if err := callHook(ctx, m.postHook, op, modified, post.filter(m.watch)); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// callHook invokes a hook with its own deep copies of the operations and
// the change info.
func callHook(ctx context.Context, hook Hook, original, modified storage.Operation, info *ChangeInfo) error {
	orig, err := original.Clone()
	if err != nil {
		return err
	}
	mod, err := modified.Clone()
	if err != nil {
		return err
	}
	infoCopy, err := info.clone()
	if err != nil {
		return err
	}
	return hook(ctx, orig, mod, infoCopy)
}

func withPendingChanges(ctx context.Context, info *ChangeInfo) context.Context {
	return context.WithValue(ctx, ctxkeys.KeyPendingChanges, info)
}

// PendingChanges extracts the pre-execution change info a sibling pipeline
// stage was handed via context.
func PendingChanges(ctx context.Context) (*ChangeInfo, bool) {
	info, ok := ctx.Value(ctxkeys.KeyPendingChanges).(*ChangeInfo)
	return info, ok
}
