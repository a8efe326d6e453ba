// Package mongo provides the MongoDB-backed store backend. Each logical
// collection maps to a mongo collection of the same name; objects are
// stored with their fields at the top level and mongo's own _id left to
// the driver.
package mongo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"changewatch/internal/storage"
	"changewatch/pkg/model"
)

type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	schemas storage.Schemas
}

var (
	_ storage.Store    = (*Store)(nil)
	_ storage.Executor = (*Store)(nil)
)

// Connect establishes the client connection and returns a Store bound to
// the given database and schema registry.
func Connect(ctx context.Context, uri string, database string, schemas storage.Schemas) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &Store{
		client:  client,
		db:      client.Database(database),
		schemas: schemas,
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Schema implements storage.SchemaSource.
func (s *Store) Schema(ctx context.Context, collection string) (storage.CollectionSchema, error) {
	return s.schemas.Schema(ctx, collection)
}

// Find implements storage.Finder.
func (s *Store) Find(ctx context.Context, collection string, where model.Filters) ([]map[string]interface{}, error) {
	coll := s.db.Collection(collection)

	filter, err := makeFilterBSON(where)
	if err != nil {
		return nil, err
	}

	// _id is driver bookkeeping, not part of the object's fields.
	opts := options.Find().SetProjection(bson.M{"_id": 0})
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, model.WrapError(err)
	}
	defer cursor.Close(ctx)

	var out []map[string]interface{}
	for cursor.Next(ctx) {
		var obj map[string]interface{}
		if err := cursor.Decode(&obj); err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, model.WrapError(cursor.Err())
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
	collName, err := op.Collection()
	if err != nil {
		return nil, err
	}
	values, err := op.Values()
	if err != nil {
		return nil, err
	}
	schema, err := s.schemas.Schema(ctx, collName)
	if err != nil {
		return nil, err
	}

	doc := bson.M{}
	for k, v := range values {
		doc[k] = v
	}

	key, ok := schema.KeyOf(values)
	if !ok {
		if schema.HasCompoundKey() {
			return nil, fmt.Errorf("%w: collection %q requires a complete compound key",
				model.ErrUnsupportedKey, collName)
		}
		generated := uuid.NewString()
		doc[schema.KeyFields[0]] = generated
		key = storage.PrimaryKey{generated}
	}

	if _, err := s.db.Collection(collName).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s %s", model.ErrExists, collName, key)
		}
		return nil, model.WrapError(err)
	}
	return &storage.ExecResult{Key: key, Affected: 1}, nil
}

func (s *Store) update(ctx context.Context, op storage.Operation) (*storage.ExecResult, error) {
	collName, err := op.Collection()
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
	if _, err := s.schemas.Schema(ctx, collName); err != nil {
		return nil, err
	}

	filter, err := makeFilterBSON(where)
	if err != nil {
		return nil, err
	}
	set := bson.M{}
	for k, v := range updates {
		set[k] = v
	}
	result, err := s.db.Collection(collName).UpdateMany(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return nil, model.WrapError(err)
	}
	return &storage.ExecResult{Affected: result.MatchedCount}, nil
}

func (s *Store) delete(ctx context.Context, op storage.Operation) (*storage.ExecResult, error) {
	collName, err := op.Collection()
	if err != nil {
		return nil, err
	}
	where, err := op.Where()
	if err != nil {
		return nil, err
	}
	if _, err := s.schemas.Schema(ctx, collName); err != nil {
		return nil, err
	}

	filter, err := makeFilterBSON(where)
	if err != nil {
		return nil, err
	}
	result, err := s.db.Collection(collName).DeleteMany(ctx, filter)
	if err != nil {
		return nil, model.WrapError(err)
	}
	return &storage.ExecResult{Affected: result.DeletedCount}, nil
}

// executeBatch runs the sub-operations sequentially, assembling the
// per-placeholder result map. Sub-operations are individually atomic; the
// batch as a whole is not.
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
