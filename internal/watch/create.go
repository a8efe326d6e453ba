package watch

import (
	"context"
	"fmt"

	"changewatch/internal/storage"
	"changewatch/pkg/model"
)

// createWatcher derives change info for createObject operations.
type createWatcher struct{}

func (createWatcher) InfoBefore(ctx context.Context, op storage.Operation, store storage.Store) (*ChangeInfo, error) {
	coll, err := op.Collection()
	if err != nil {
		return nil, err
	}
	values, err := op.Values()
	if err != nil {
		return nil, err
	}
	schema, err := store.Schema(ctx, coll)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	change := Change{
		Kind:       ChangeCreate,
		Collection: coll,
		Values:     schema.StripKeys(values),
	}
	// Pre-execution the key is known only when the caller supplied every
	// component; otherwise the store will assign one.
	if key, ok := schema.KeyOf(values); ok {
		change.Key = key
	}
	return &ChangeInfo{Changes: []Change{change}}, nil
}

// InfoAfter reports the store's assigned or confirmed key from the
// execution result; it is never re-derived from the input values.
func (createWatcher) InfoAfter(_ context.Context, _ storage.Operation, pre *ChangeInfo, result *storage.ExecResult, _ storage.Store) (*ChangeInfo, error) {
	if pre == nil || len(pre.Changes) != 1 || pre.Changes[0].Kind != ChangeCreate {
		return nil, fmt.Errorf("%w: create watcher got non-create pre-execution info", model.ErrInvariant)
	}

	c := pre.Changes[0]
	post := Change{
		Kind:       ChangeCreate,
		Collection: c.Collection,
		Values:     cloneMap(c.Values),
	}
	if result != nil {
		post.Key = result.Key
	}
	return &ChangeInfo{Changes: []Change{post}}, nil
}
