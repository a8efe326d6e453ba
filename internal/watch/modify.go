package watch

import (
	"context"
	"fmt"

	"changewatch/internal/storage"
	"changewatch/pkg/model"
)

// mutationWatcher derives change info for filter-based updates and
// deletes. The two share one implementation differing only in whether
// Updates is carried.
type mutationWatcher struct {
	kind ChangeKind
}

// InfoBefore resolves which objects the filter currently matches by
// running a read with the same filter. The resulting key list is the
// authoritative set of affected objects for both phases.
func (w mutationWatcher) InfoBefore(ctx context.Context, op storage.Operation, store storage.Store) (*ChangeInfo, error) {
	coll, err := op.Collection()
	if err != nil {
		return nil, err
	}
	where, err := op.Where()
	if err != nil {
		return nil, err
	}
	var updates map[string]interface{}
	if w.kind == ChangeModify {
		if updates, err = op.Updates(); err != nil {
			return nil, err
		}
	}

	schema, err := store.Schema(ctx, coll)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	objs, err := store.Find(ctx, coll, where)
	if err != nil {
		return nil, fmt.Errorf("resolve affected keys for %s: %w", coll, err)
	}

	keys := make([]storage.PrimaryKey, 0, len(objs))
	for _, obj := range objs {
		key, ok := schema.KeyOf(obj)
		if !ok {
			return nil, fmt.Errorf("%w: object in %q is missing key fields %v",
				model.ErrInvariant, coll, schema.KeyFields)
		}
		keys = append(keys, key)
	}

	return &ChangeInfo{Changes: []Change{{
		Kind:       w.kind,
		Collection: coll,
		Where:      where,
		Updates:    updates,
		Keys:       keys,
	}}}, nil
}

// Transform rewrites the filter-based mutation into an executeBatch whose
// sub-operations address the resolved keys directly. A single-field key
// yields one in-set sub-operation per change; a compound key cannot be
// addressed as a set by any single filter, so each key fans out into its
// own sub-operation with positional equality filters. Placeholders are
// "change-<n>" with n incremented once per emitted sub-operation, in
// emission order; that index correlates batch results back to changes.
func (w mutationWatcher) Transform(ctx context.Context, _ storage.Operation, store storage.Store, pre *ChangeInfo) (storage.Operation, error) {
	if pre == nil {
		return nil, nil
	}

	opName := storage.OpUpdateObjects
	if w.kind == ChangeDelete {
		opName = storage.OpDeleteObjects
	}

	var subs []storage.BatchOperation
	n := 0
	for _, c := range pre.Changes {
		if c.Kind != w.kind {
			return nil, fmt.Errorf("%w: %s watcher cannot transform %s change", model.ErrInvariant, w.kind, c.Kind)
		}
		if len(c.Keys) == 0 {
			continue
		}
		schema, err := store.Schema(ctx, c.Collection)
		if err != nil {
			return nil, err
		}

		if !schema.HasCompoundKey() {
			scalars := make([]interface{}, 0, len(c.Keys))
			for _, key := range c.Keys {
				v, ok := key.Scalar()
				if !ok {
					return nil, fmt.Errorf("%w: compound key %s in simple-keyed collection %q",
						model.ErrInvariant, key, c.Collection)
				}
				scalars = append(scalars, v)
			}
			subs = append(subs, storage.BatchOperation{
				Operation:   opName,
				Collection:  c.Collection,
				Where:       model.Filters{model.In(schema.KeyFields[0], scalars)},
				Updates:     cloneMap(c.Updates),
				Placeholder: fmt.Sprintf("change-%d", n),
			})
			n++
			continue
		}

		for _, key := range c.Keys {
			filters, err := schema.KeyFilters(key)
			if err != nil {
				return nil, err
			}
			subs = append(subs, storage.BatchOperation{
				Operation:   opName,
				Collection:  c.Collection,
				Where:       filters,
				Updates:     cloneMap(c.Updates),
				Placeholder: fmt.Sprintf("change-%d", n),
			})
			n++
		}
	}

	if len(subs) == 0 {
		// The filter matched nothing; executing the original operation
		// unchanged is already unambiguous.
		return nil, nil
	}
	return storage.NewBatch(subs), nil
}

// InfoAfter reuses the pre-resolved keys verbatim. The filter was rewritten
// to address exactly those keys, so re-querying would only detect
// concurrent writes this layer deliberately does not guard against.
func (w mutationWatcher) InfoAfter(_ context.Context, _ storage.Operation, pre *ChangeInfo, _ *storage.ExecResult, _ storage.Store) (*ChangeInfo, error) {
	if pre == nil {
		return nil, fmt.Errorf("%w: %s watcher got no pre-execution info", model.ErrInvariant, w.kind)
	}

	post := &ChangeInfo{Changes: make([]Change, 0, len(pre.Changes))}
	for _, c := range pre.Changes {
		if c.Kind != w.kind {
			return nil, fmt.Errorf("%w: %s watcher got %s pre-execution info", model.ErrInvariant, w.kind, c.Kind)
		}
		post.Changes = append(post.Changes, Change{
			Kind:       c.Kind,
			Collection: c.Collection,
			Where:      c.Where,
			Updates:    cloneMap(c.Updates),
			Keys:       cloneKeys(c.Keys),
		})
	}
	return post, nil
}
