package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/pkg/model"
)

func TestCollectionSchemaValidate(t *testing.T) {
	tests := []struct {
		name    string
		schema  CollectionSchema
		wantErr bool
	}{
		{"simple key", CollectionSchema{Name: "users", KeyFields: []string{"id"}}, false},
		{"compound key", CollectionSchema{Name: "people", KeyFields: []string{"first", "last"}}, false},
		{"no name", CollectionSchema{KeyFields: []string{"id"}}, true},
		{"no key fields", CollectionSchema{Name: "users"}, true},
		{"empty key field", CollectionSchema{Name: "users", KeyFields: []string{"id", ""}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrUnsupportedKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKeyOf(t *testing.T) {
	simple := CollectionSchema{Name: "users", KeyFields: []string{"id"}}
	compound := CollectionSchema{Name: "people", KeyFields: []string{"first", "last"}}

	tests := []struct {
		name   string
		schema CollectionSchema
		obj    map[string]interface{}
		want   PrimaryKey
		ok     bool
	}{
		{"simple present", simple, map[string]interface{}{"id": "u1", "x": 1}, PrimaryKey{"u1"}, true},
		{"simple numeric zero", simple, map[string]interface{}{"id": 0}, PrimaryKey{0}, true},
		{"simple missing", simple, map[string]interface{}{"x": 1}, nil, false},
		{"simple empty string", simple, map[string]interface{}{"id": ""}, nil, false},
		{"simple nil", simple, map[string]interface{}{"id": nil}, nil, false},
		{"compound complete", compound, map[string]interface{}{"first": "Bob", "last": "Doe"}, PrimaryKey{"Bob", "Doe"}, true},
		{"compound partial", compound, map[string]interface{}{"first": "Bob"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.schema.KeyOf(tt.obj)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyFilters(t *testing.T) {
	compound := CollectionSchema{Name: "people", KeyFields: []string{"first", "last"}}

	filters, err := compound.KeyFilters(PrimaryKey{"Bob", "Doe"})
	require.NoError(t, err)
	assert.Equal(t, model.Filters{model.Eq("first", "Bob"), model.Eq("last", "Doe")}, filters)

	_, err = compound.KeyFilters(PrimaryKey{"Bob"})
	assert.ErrorIs(t, err, model.ErrInvariant)
}

func TestStripKeys(t *testing.T) {
	schema := CollectionSchema{Name: "people", KeyFields: []string{"first", "last"}}
	values := map[string]interface{}{"first": "Bob", "last": "Doe", "age": 42}

	stripped := schema.StripKeys(values)
	assert.Equal(t, map[string]interface{}{"age": 42}, stripped)
	assert.Equal(t, map[string]interface{}{"first": "Bob", "last": "Doe", "age": 42}, values,
		"input is not mutated")
}

func TestSchemasLookup(t *testing.T) {
	schemas, err := NewSchemas(CollectionSchema{Name: "users", KeyFields: []string{"id"}})
	require.NoError(t, err)

	got, err := schemas.Schema(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, "users", got.Name)

	_, err = schemas.Schema(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrUnknownCollection)
}

func TestNewSchemasRejectsInvalid(t *testing.T) {
	_, err := NewSchemas(CollectionSchema{Name: "broken"})
	assert.ErrorIs(t, err, model.ErrUnsupportedKey)
}

func TestPrimaryKey(t *testing.T) {
	assert.False(t, PrimaryKey{"u1"}.IsCompound())
	assert.True(t, PrimaryKey{"a", "b"}.IsCompound())

	v, ok := PrimaryKey{"u1"}.Scalar()
	require.True(t, ok)
	assert.Equal(t, "u1", v)

	_, ok = PrimaryKey{"a", "b"}.Scalar()
	assert.False(t, ok)

	assert.True(t, PrimaryKey{1}.Equal(PrimaryKey{float64(1)}), "numeric components are normalized")
	assert.False(t, PrimaryKey{"a"}.Equal(PrimaryKey{"a", "b"}))

	assert.Equal(t, "u1", PrimaryKey{"u1"}.String())
	assert.Equal(t, "[Bob Doe]", PrimaryKey{"Bob", "Doe"}.String())
}
