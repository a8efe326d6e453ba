// Package memory provides an in-process store backend. It backs the relay
// in standalone mode and the test suites; semantics mirror the mongo
// backend without the I/O.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"changewatch/internal/storage"
	"changewatch/pkg/model"
)

// Store keeps objects per collection in insertion order, so filter
// resolution is deterministic across repeated reads.
type Store struct {
	schemas storage.Schemas

	mu      sync.RWMutex
	objects map[string][]map[string]interface{}
}

var (
	_ storage.Store    = (*Store)(nil)
	_ storage.Executor = (*Store)(nil)
)

// New creates an empty in-memory store over the given schema registry.
func New(schemas storage.Schemas) *Store {
	return &Store{
		schemas: schemas,
		objects: make(map[string][]map[string]interface{}),
	}
}

// Schema implements storage.SchemaSource.
func (s *Store) Schema(ctx context.Context, collection string) (storage.CollectionSchema, error) {
	return s.schemas.Schema(ctx, collection)
}

// Find implements storage.Finder.
func (s *Store) Find(_ context.Context, collection string, where model.Filters) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []map[string]interface{}
	for _, obj := range s.objects[collection] {
		if where.Match(obj) {
			out = append(out, cloneObject(obj))
		}
	}
	return out, nil
}

// Execute implements storage.Executor.
func (s *Store) Execute(ctx context.Context, op storage.Operation) (*storage.ExecResult, error) {
	switch op.Name() {
	case storage.OpCreateObject:
		return s.create(ctx, op)
	case storage.OpUpdateObject, storage.OpUpdateObjects:
		return s.update(ctx, op)
	case storage.OpDeleteObject, storage.OpDeleteObjects:
		return s.delete(ctx, op)
	case storage.OpExecuteBatch:
		return s.executeBatch(ctx, op)
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownOperation, op.Name())
	}
}

func (s *Store) create(ctx context.Context, op storage.Operation) (*storage.ExecResult, error) {
	coll, err := op.Collection()
	if err != nil {
		return nil, err
	}
	values, err := op.Values()
	if err != nil {
		return nil, err
	}
	schema, err := s.schemas.Schema(ctx, coll)
	if err != nil {
		return nil, err
	}

	obj := cloneObject(values)
	key, ok := schema.KeyOf(obj)
	if !ok {
		// The store assigns keys for simple-keyed collections; a compound
		// key cannot be generated and must arrive complete.
		if schema.HasCompoundKey() {
			return nil, fmt.Errorf("%w: collection %q requires a complete compound key",
				model.ErrUnsupportedKey, coll)
		}
		obj[schema.KeyFields[0]] = uuid.NewString()
		key, _ = schema.KeyOf(obj)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.objects[coll] {
		if existingKey, ok := schema.KeyOf(existing); ok && existingKey.Equal(key) {
			return nil, fmt.Errorf("%w: %s %s", model.ErrExists, coll, key)
		}
	}
	s.objects[coll] = append(s.objects[coll], obj)
	return &storage.ExecResult{Key: key, Affected: 1}, nil
}

func (s *Store) update(ctx context.Context, op storage.Operation) (*storage.ExecResult, error) {
	coll, err := op.Collection()
	if err != nil {
		return nil, err
	}
	where, err := op.Where()
	if err != nil {
		return nil, err
	}
	updates, err := op.Updates()
	if err != nil {
		return nil, err
	}
	if _, err := s.schemas.Schema(ctx, coll); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for _, obj := range s.objects[coll] {
		if !where.Match(obj) {
			continue
		}
		for k, v := range updates {
			obj[k] = v
		}
		affected++
	}
	return &storage.ExecResult{Affected: affected}, nil
}

func (s *Store) delete(ctx context.Context, op storage.Operation) (*storage.ExecResult, error) {
	coll, err := op.Collection()
	if err != nil {
		return nil, err
	}
	where, err := op.Where()
	if err != nil {
		return nil, err
	}
	if _, err := s.schemas.Schema(ctx, coll); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []map[string]interface{}
	var affected int64
	for _, obj := range s.objects[coll] {
		if where.Match(obj) {
			affected++
			continue
		}
		kept = append(kept, obj)
	}
	s.objects[coll] = kept
	return &storage.ExecResult{Affected: affected}, nil
}

func (s *Store) executeBatch(ctx context.Context, op storage.Operation) (*storage.ExecResult, error) {
	subs, err := op.Batch()
	if err != nil {
		return nil, err
	}

	result := &storage.ExecResult{Sub: make(map[string]*storage.ExecResult, len(subs))}
	for i, sub := range subs {
		narrow, err := sub.AsOperation()
		if err != nil {
			return nil, err
		}
		subResult, err := s.Execute(ctx, narrow)
		if err != nil {
			return nil, fmt.Errorf("batch sub-operation %d: %w", i, err)
		}
		result.Affected += subResult.Affected
		if sub.Placeholder != "" {
			result.Sub[sub.Placeholder] = subResult
		}
	}
	return result, nil
}

// Seed inserts objects directly, bypassing key generation. Intended for
// tests and standalone bootstrapping.
func (s *Store) Seed(collection string, objs ...map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range objs {
		s.objects[collection] = append(s.objects[collection], cloneObject(obj))
	}
}

// Count returns the number of objects currently held for a collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects[collection])
}

func cloneObject(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}
