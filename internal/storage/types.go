// Package storage defines the contract between the change-derivation core
// and the underlying object store: the operation wire shape, collection
// schemas, primary keys and execution results.
package storage

import (
	"context"
	"fmt"

	"changewatch/pkg/model"
)

// PrimaryKey identifies one object within a collection. It is an ordered
// sequence of scalar components, positionally aligned with the collection's
// declared key fields. Simple keys have length 1.
type PrimaryKey []interface{}

// IsCompound reports whether the key spans more than one field.
func (pk PrimaryKey) IsCompound() bool {
	return len(pk) > 1
}

// Scalar returns the single component of a simple key.
func (pk PrimaryKey) Scalar() (interface{}, bool) {
	if len(pk) != 1 {
		return nil, false
	}
	return pk[0], true
}

// Equal compares two keys component-wise with numeric normalization.
func (pk PrimaryKey) Equal(other PrimaryKey) bool {
	if len(pk) != len(other) {
		return false
	}
	for i := range pk {
		if !model.EqualValues(pk[i], other[i]) {
			return false
		}
	}
	return true
}

// String renders the key for logs and error messages.
func (pk PrimaryKey) String() string {
	if v, ok := pk.Scalar(); ok {
		return fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("%v", []interface{}(pk))
}

// ExecResult is what the store reports back for one executed operation.
type ExecResult struct {
	// Key is the assigned or confirmed primary key of a created object.
	Key PrimaryKey `json:"key,omitempty"`

	// Affected is the number of objects matched by an update or delete.
	Affected int64 `json:"affected,omitempty"`

	// Sub holds per-sub-operation results of an executeBatch, keyed by the
	// caller-assigned placeholder. Sub-operations without a placeholder do
	// not appear here.
	Sub map[string]*ExecResult `json:"sub,omitempty"`
}

// SchemaSource resolves collection schemas by name.
type SchemaSource interface {
	Schema(ctx context.Context, collection string) (CollectionSchema, error)
}

// Finder runs a read against the store. The change-derivation core uses it
// to resolve which objects a filter matches before the mutation executes.
type Finder interface {
	Find(ctx context.Context, collection string, where model.Filters) ([]map[string]interface{}, error)
}

// Store is the read-only view of the object store the watchers consume.
type Store interface {
	SchemaSource
	Finder
}

// Executor is the next pipeline stage: the component that physically
// performs an operation against the store.
type Executor interface {
	Execute(ctx context.Context, op Operation) (*ExecResult, error)
}
