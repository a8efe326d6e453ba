package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/pkg/model"
)

func TestOperationAccessors(t *testing.T) {
	create := NewCreate("users", map[string]interface{}{"name": "Joe"})
	assert.Equal(t, OpCreateObject, create.Name())

	coll, err := create.Collection()
	require.NoError(t, err)
	assert.Equal(t, "users", coll)

	values, err := create.Values()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "Joe"}, values)

	update := NewUpdate("users", model.Filters{model.Eq("id", "u1")}, map[string]interface{}{"active": true})
	where, err := update.Where()
	require.NoError(t, err)
	assert.Equal(t, model.Filters{model.Eq("id", "u1")}, where)

	updates, err := update.Updates()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"active": true}, updates)

	del := NewDelete("users", nil)
	where, err = del.Where()
	require.NoError(t, err)
	assert.Nil(t, where)

	batch := NewBatch([]BatchOperation{{Operation: OpDeleteObjects, Collection: "users"}})
	subs, err := batch.Batch()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, OpDeleteObjects, subs[0].Operation)
}

func TestOperationAccessorErrors(t *testing.T) {
	tests := []struct {
		name string
		call func() error
	}{
		{"too short for collection", func() error {
			_, err := Operation{OpCreateObject}.Collection()
			return err
		}},
		{"collection wrong type", func() error {
			_, err := Operation{OpCreateObject, 42}.Collection()
			return err
		}},
		{"values wrong type", func() error {
			_, err := Operation{OpCreateObject, "users", "oops"}.Values()
			return err
		}},
		{"filter wrong type", func() error {
			_, err := Operation{OpDeleteObjects, "users", 7}.Where()
			return err
		}},
		{"missing updates", func() error {
			_, err := Operation{OpUpdateObjects, "users", nil}.Updates()
			return err
		}},
		{"batch wrong payload", func() error {
			_, err := Operation{OpExecuteBatch, "not-a-list"}.Batch()
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), model.ErrInvalidOperation)
		})
	}
}

func TestOperationName_Malformed(t *testing.T) {
	assert.Equal(t, "", Operation{}.Name())
	assert.Equal(t, "", Operation{42}.Name())
}

func TestOperationClone(t *testing.T) {
	values := map[string]interface{}{"name": "Joe", "tags": []interface{}{"a"}}
	op := NewCreate("users", values)

	clone, err := op.Clone()
	require.NoError(t, err)
	require.Equal(t, op, clone)

	values["name"] = "mutated"
	values["tags"].([]interface{})[0] = "mutated"

	cloned, err := clone.Values()
	require.NoError(t, err)
	assert.Equal(t, "Joe", cloned["name"])
	assert.Equal(t, "a", cloned["tags"].([]interface{})[0])
}

func TestOperationUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Operation
	}{
		{
			"create",
			`["createObject", "users", {"name": "Joe"}]`,
			NewCreate("users", map[string]interface{}{"name": "Joe"}),
		},
		{
			"update",
			`["updateObjects", "users", [{"field": "id", "op": "==", "value": "u1"}], {"active": true}]`,
			NewUpdate("users", model.Filters{model.Eq("id", "u1")}, map[string]interface{}{"active": true}),
		},
		{
			"delete singular",
			`["deleteObject", "users", [{"field": "id", "op": "==", "value": "u1"}]]`,
			Operation{OpDeleteObject, "users", model.Filters{model.Eq("id", "u1")}},
		},
		{
			"batch",
			`["executeBatch", [{"operation": "createObject", "collection": "users", "args": {"name": "Joe"}, "placeholder": "p0"}]]`,
			NewBatch([]BatchOperation{{
				Operation:   OpCreateObject,
				Collection:  "users",
				Args:        map[string]interface{}{"name": "Joe"},
				Placeholder: "p0",
			}}),
		},
		{
			"unknown name keeps raw args",
			`["findObjects", "users", 3]`,
			Operation{"findObjects", "users", float64(3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var op Operation
			require.NoError(t, json.Unmarshal([]byte(tt.in), &op))
			assert.Equal(t, tt.want, op)
		})
	}
}

func TestOperationUnmarshalJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not an array", `{"op": "createObject"}`},
		{"empty", `[]`},
		{"name not a string", `[42]`},
		{"create missing values", `["createObject", "users"]`},
		{"update missing updates", `["updateObjects", "users", []]`},
		{"batch missing subs", `["executeBatch"]`},
		{
			"update with unknown filter operator",
			`["updateObjects", "users", [{"field": "id", "op": "~=", "value": "u1"}], {"active": true}]`,
		},
		{
			"delete with fieldless filter",
			`["deleteObjects", "users", [{"op": "==", "value": "u1"}]]`,
		},
		{
			"batch sub-operation with unknown filter operator",
			`["executeBatch", [{"operation": "deleteObjects", "collection": "users", "where": [{"field": "id", "op": "~=", "value": 1}]}]]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var op Operation
			err := json.Unmarshal([]byte(tt.in), &op)
			assert.ErrorIs(t, err, model.ErrInvalidOperation)
		})
	}
}

func TestBatchOperationAsOperation(t *testing.T) {
	sub := BatchOperation{
		Operation:  OpUpdateObject,
		Collection: "users",
		Where:      model.Filters{model.Eq("id", "u1")},
		Updates:    map[string]interface{}{"active": true},
	}
	op, err := sub.AsOperation()
	require.NoError(t, err)
	assert.Equal(t, OpUpdateObjects, op.Name())

	_, err = BatchOperation{Operation: "mergeObjects"}.AsOperation()
	assert.ErrorIs(t, err, model.ErrUnknownOperation)
}
