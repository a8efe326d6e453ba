package storage

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/copystructure"

	"changewatch/pkg/model"
)

// Built-in operation names. Names outside this set are legal on the wire;
// the interception layer simply passes them through.
const (
	OpCreateObject  = "createObject"
	OpUpdateObject  = "updateObject"
	OpUpdateObjects = "updateObjects"
	OpDeleteObject  = "deleteObject"
	OpDeleteObjects = "deleteObjects"
	OpExecuteBatch  = "executeBatch"
)

// Operation is the universal wire shape for store operations: an ordered,
// heterogeneous sequence whose first element is the operation name and
// whose remaining elements are operation-specific arguments.
//
//	createObject:  [name, collection, values]
//	updateObjects: [name, collection, where, updates]
//	deleteObjects: [name, collection, where]
//	executeBatch:  [name, subOperations]
type Operation []interface{}

// BatchOperation is one individually addressable unit inside an
// executeBatch. Placeholder is a caller-assigned label used to retrieve the
// sub-operation's own result out of the aggregate batch result.
type BatchOperation struct {
	Operation   string                 `json:"operation"`
	Collection  string                 `json:"collection"`
	Args        map[string]interface{} `json:"args,omitempty"`
	Where       model.Filters          `json:"where,omitempty"`
	Updates     map[string]interface{} `json:"updates,omitempty"`
	Placeholder string                 `json:"placeholder,omitempty"`
}

// NewCreate builds a createObject operation.
func NewCreate(collection string, values map[string]interface{}) Operation {
	return Operation{OpCreateObject, collection, values}
}

// NewUpdate builds an updateObjects operation.
func NewUpdate(collection string, where model.Filters, updates map[string]interface{}) Operation {
	return Operation{OpUpdateObjects, collection, where, updates}
}

// NewDelete builds a deleteObjects operation.
func NewDelete(collection string, where model.Filters) Operation {
	return Operation{OpDeleteObjects, collection, where}
}

// NewBatch builds an executeBatch operation.
func NewBatch(subs []BatchOperation) Operation {
	return Operation{OpExecuteBatch, subs}
}

// Name returns the operation name tag, or "" for a malformed tuple.
func (op Operation) Name() string {
	if len(op) == 0 {
		return ""
	}
	name, _ := op[0].(string)
	return name
}

// Collection returns the target collection of a create/update/delete.
func (op Operation) Collection() (string, error) {
	if len(op) < 2 {
		return "", fmt.Errorf("%w: %s carries no collection", model.ErrInvalidOperation, op.Name())
	}
	coll, ok := op[1].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s collection is %T, want string", model.ErrInvalidOperation, op.Name(), op[1])
	}
	return coll, nil
}

// Values returns the object values of a createObject.
func (op Operation) Values() (map[string]interface{}, error) {
	return op.argMap(2, "values")
}

// Where returns the filter of an update/delete.
func (op Operation) Where() (model.Filters, error) {
	if len(op) < 3 {
		return nil, fmt.Errorf("%w: %s carries no filter", model.ErrInvalidOperation, op.Name())
	}
	switch where := op[2].(type) {
	case model.Filters:
		return where, nil
	case []model.Filter:
		return model.Filters(where), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s filter is %T", model.ErrInvalidOperation, op.Name(), op[2])
	}
}

// Updates returns the field updates of an updateObject(s).
func (op Operation) Updates() (map[string]interface{}, error) {
	return op.argMap(3, "updates")
}

// Batch returns the sub-operation list of an executeBatch.
func (op Operation) Batch() ([]BatchOperation, error) {
	if len(op) < 2 {
		return nil, fmt.Errorf("%w: executeBatch carries no sub-operations", model.ErrInvalidOperation)
	}
	subs, ok := op[1].([]BatchOperation)
	if !ok {
		return nil, fmt.Errorf("%w: executeBatch argument is %T", model.ErrInvalidOperation, op[1])
	}
	return subs, nil
}

func (op Operation) argMap(idx int, what string) (map[string]interface{}, error) {
	if len(op) <= idx {
		return nil, fmt.Errorf("%w: %s carries no %s", model.ErrInvalidOperation, op.Name(), what)
	}
	m, ok := op[idx].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s %s is %T, want map", model.ErrInvalidOperation, op.Name(), what, op[idx])
	}
	return m, nil
}

// Clone deep-copies the operation. Every operation value crossing a
// boundary is copied so no watcher or downstream stage can observe later
// in-place mutation of the original.
func (op Operation) Clone() (Operation, error) {
	if op == nil {
		return nil, nil
	}
	c, err := copystructure.Copy([]interface{}(op))
	if err != nil {
		return nil, fmt.Errorf("clone operation: %w", err)
	}
	return Operation(c.([]interface{})), nil
}

// UnmarshalJSON decodes the positional wire form, giving the arguments
// their typed in-memory shapes based on the operation name.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidOperation, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty operation", model.ErrInvalidOperation)
	}

	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return fmt.Errorf("%w: operation name: %v", model.ErrInvalidOperation, err)
	}

	out := Operation{name}
	decode := func(i int, v interface{}) error {
		if err := json.Unmarshal(raw[i], v); err != nil {
			return fmt.Errorf("%w: %s argument %d: %v", model.ErrInvalidOperation, name, i, err)
		}
		return nil
	}

	switch name {
	case OpCreateObject:
		var coll string
		var values map[string]interface{}
		if len(raw) < 3 {
			return fmt.Errorf("%w: %s needs collection and values", model.ErrInvalidOperation, name)
		}
		if err := decode(1, &coll); err != nil {
			return err
		}
		if err := decode(2, &values); err != nil {
			return err
		}
		out = append(out, coll, values)

	case OpUpdateObject, OpUpdateObjects:
		var coll string
		var where model.Filters
		var updates map[string]interface{}
		if len(raw) < 4 {
			return fmt.Errorf("%w: %s needs collection, filter and updates", model.ErrInvalidOperation, name)
		}
		if err := decode(1, &coll); err != nil {
			return err
		}
		if err := decode(2, &where); err != nil {
			return err
		}
		if err := validateFilters(name, where); err != nil {
			return err
		}
		if err := decode(3, &updates); err != nil {
			return err
		}
		out = append(out, coll, where, updates)

	case OpDeleteObject, OpDeleteObjects:
		var coll string
		var where model.Filters
		if len(raw) < 3 {
			return fmt.Errorf("%w: %s needs collection and filter", model.ErrInvalidOperation, name)
		}
		if err := decode(1, &coll); err != nil {
			return err
		}
		if err := decode(2, &where); err != nil {
			return err
		}
		if err := validateFilters(name, where); err != nil {
			return err
		}
		out = append(out, coll, where)

	case OpExecuteBatch:
		var subs []BatchOperation
		if len(raw) < 2 {
			return fmt.Errorf("%w: %s needs sub-operations", model.ErrInvalidOperation, name)
		}
		if err := decode(1, &subs); err != nil {
			return err
		}
		for _, sub := range subs {
			if err := validateFilters(sub.Operation, sub.Where); err != nil {
				return err
			}
		}
		out = append(out, subs)

	default:
		// Unknown names keep their raw arguments; the interception layer
		// passes them through untouched.
		for i := 1; i < len(raw); i++ {
			var v interface{}
			if err := decode(i, &v); err != nil {
				return err
			}
			out = append(out, v)
		}
	}

	*op = out
	return nil
}

// validateFilters rejects filters that arrive off the wire with an unknown
// operator or no field. Backends treat such a filter inconsistently (match
// nothing vs. drop the condition), so it must never reach one.
func validateFilters(name string, where model.Filters) error {
	for _, f := range where {
		if !f.Validate() {
			return fmt.Errorf("%w: %s filter on %q has operator %q",
				model.ErrInvalidOperation, name, f.Field, f.Op)
		}
	}
	return nil
}

// AsOperation expands a batch sub-operation into the equivalent standalone
// operation tuple, the shape the per-operation watchers pattern-match on.
func (b BatchOperation) AsOperation() (Operation, error) {
	switch b.Operation {
	case OpCreateObject:
		return NewCreate(b.Collection, b.Args), nil
	case OpUpdateObject, OpUpdateObjects:
		return NewUpdate(b.Collection, b.Where, b.Updates), nil
	case OpDeleteObject, OpDeleteObjects:
		return NewDelete(b.Collection, b.Where), nil
	default:
		return nil, fmt.Errorf("%w: batch sub-operation %q", model.ErrUnknownOperation, b.Operation)
	}
}
