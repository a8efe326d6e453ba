package storage

import (
	"context"
	"fmt"

	"changewatch/pkg/model"
)

// CollectionSchema describes one named collection: its declared fields and
// the ordered list of fields forming the primary key.
type CollectionSchema struct {
	Name      string   `yaml:"name" json:"name"`
	Fields    []string `yaml:"fields" json:"fields,omitempty"`
	KeyFields []string `yaml:"keys" json:"keys"`
}

// Validate rejects schemas whose key declaration is unusable.
func (s CollectionSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: schema without a name", model.ErrUnsupportedKey)
	}
	if len(s.KeyFields) == 0 {
		return fmt.Errorf("%w: collection %q declares no key fields", model.ErrUnsupportedKey, s.Name)
	}
	for _, f := range s.KeyFields {
		if f == "" {
			return fmt.Errorf("%w: collection %q has an empty key field", model.ErrUnsupportedKey, s.Name)
		}
	}
	return nil
}

// HasCompoundKey reports whether the key spans more than one field.
func (s CollectionSchema) HasCompoundKey() bool {
	return len(s.KeyFields) > 1
}

// KeyOf extracts the primary key from an object's values in declared field
// order. It returns ok=false when any component is missing, nil or the
// empty string; numeric zero is a valid key component.
func (s CollectionSchema) KeyOf(obj map[string]interface{}) (PrimaryKey, bool) {
	pk := make(PrimaryKey, 0, len(s.KeyFields))
	for _, field := range s.KeyFields {
		v, ok := obj[field]
		if !ok || v == nil || v == "" {
			return nil, false
		}
		pk = append(pk, v)
	}
	return pk, true
}

// KeyFilters builds positional equality filters addressing exactly the
// object identified by pk.
func (s CollectionSchema) KeyFilters(pk PrimaryKey) (model.Filters, error) {
	if len(pk) != len(s.KeyFields) {
		return nil, fmt.Errorf("%w: key %s does not fit collection %q (%d fields)",
			model.ErrInvariant, pk, s.Name, len(s.KeyFields))
	}
	filters := make(model.Filters, 0, len(pk))
	for i, field := range s.KeyFields {
		filters = append(filters, model.Eq(field, pk[i]))
	}
	return filters, nil
}

// StripKeys returns a copy of values without the key fields. Change reports
// carry the key separately, never duplicated inside the values.
func (s CollectionSchema) StripKeys(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, field := range s.KeyFields {
		delete(out, field)
	}
	return out
}

// Schemas is an in-memory schema registry. It is process-wide, read-only
// configuration: built once at startup and never mutated while requests
// are being processed.
type Schemas map[string]CollectionSchema

// NewSchemas builds a registry from a list of schemas.
func NewSchemas(list ...CollectionSchema) (Schemas, error) {
	s := make(Schemas, len(list))
	for _, cs := range list {
		if err := cs.Validate(); err != nil {
			return nil, err
		}
		s[cs.Name] = cs
	}
	return s, nil
}

// Schema implements SchemaSource.
func (s Schemas) Schema(_ context.Context, collection string) (CollectionSchema, error) {
	cs, ok := s[collection]
	if !ok {
		return CollectionSchema{}, fmt.Errorf("%w: %s", model.ErrUnknownCollection, collection)
	}
	return cs, nil
}
