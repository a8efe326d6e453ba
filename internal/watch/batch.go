package watch

import (
	"context"
	"fmt"

	"changewatch/internal/storage"
	"changewatch/pkg/model"
)

// batchWatcher derives change info for executeBatch by dispatching each
// sub-operation to the matching built-in watcher over a narrowed
// single-operation view and concatenating the results in original order.
type batchWatcher struct{}

// subWatcher returns the built-in watcher for a sub-operation tag. Unknown
// tags are a usage error inside a batch, unlike at the middleware level
// where they pass through.
func subWatcher(sub storage.BatchOperation, index int) (Watcher, error) {
	switch sub.Operation {
	case storage.OpCreateObject:
		if sub.Placeholder == "" {
			return nil, fmt.Errorf("%w: sub-operation %d", model.ErrMissingPlaceholder, index)
		}
		return createWatcher{}, nil
	case storage.OpUpdateObject, storage.OpUpdateObjects:
		return mutationWatcher{kind: ChangeModify}, nil
	case storage.OpDeleteObject, storage.OpDeleteObjects:
		return mutationWatcher{kind: ChangeDelete}, nil
	default:
		return nil, fmt.Errorf("%w: batch sub-operation %d has tag %q", model.ErrUnknownOperation, index, sub.Operation)
	}
}

// InfoBefore validates every sub-operation first, so usage errors surface
// before any sub-operation derives info or executes.
func (batchWatcher) InfoBefore(ctx context.Context, op storage.Operation, store storage.Store) (*ChangeInfo, error) {
	subs, err := op.Batch()
	if err != nil {
		return nil, err
	}
	for i, sub := range subs {
		if _, err := subWatcher(sub, i); err != nil {
			return nil, err
		}
	}

	info := &ChangeInfo{Changes: make([]Change, 0, len(subs))}
	for i, sub := range subs {
		w, _ := subWatcher(sub, i)
		narrow, err := sub.AsOperation()
		if err != nil {
			return nil, err
		}
		subInfo, err := w.InfoBefore(ctx, narrow, store)
		if err != nil {
			return nil, fmt.Errorf("batch sub-operation %d: %w", i, err)
		}
		info.Changes = append(info.Changes, subInfo.Changes...)
	}
	return info, nil
}

// InfoAfter re-dispatches per sub-operation. Creates receive their own
// slice of the aggregate result, looked up by placeholder; updates and
// deletes need no per-sub-operation granularity beyond the already-known
// keys, so they receive the whole result.
func (batchWatcher) InfoAfter(ctx context.Context, op storage.Operation, pre *ChangeInfo, result *storage.ExecResult, store storage.Store) (*ChangeInfo, error) {
	subs, err := op.Batch()
	if err != nil {
		return nil, err
	}
	if pre == nil || len(pre.Changes) != len(subs) {
		return nil, fmt.Errorf("%w: batch pre-execution info does not align with sub-operations", model.ErrInvariant)
	}

	info := &ChangeInfo{Changes: make([]Change, 0, len(subs))}
	for i, sub := range subs {
		w, err := subWatcher(sub, i)
		if err != nil {
			return nil, err
		}
		narrow, err := sub.AsOperation()
		if err != nil {
			return nil, err
		}

		subResult := result
		if sub.Operation == storage.OpCreateObject && result != nil {
			subResult = result.Sub[sub.Placeholder]
		}

		subPre := &ChangeInfo{Changes: pre.Changes[i : i+1]}
		subInfo, err := w.InfoAfter(ctx, narrow, subPre, subResult, store)
		if err != nil {
			return nil, fmt.Errorf("batch sub-operation %d: %w", i, err)
		}
		info.Changes = append(info.Changes, subInfo.Changes...)
	}
	return info, nil
}
