package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"changewatch/pkg/model"
)

func TestMakeFilterBSON(t *testing.T) {
	tests := []struct {
		name    string
		filters model.Filters
		want    bson.M
	}{
		{"empty", nil, bson.M{}},
		{
			"equality",
			model.Filters{model.Eq("name", "Joe")},
			bson.M{"name": bson.M{"$eq": "Joe"}},
		},
		{
			"in-set",
			model.Filters{model.In("id", []interface{}{"u1", "u2"})},
			bson.M{"id": bson.M{"$in": []interface{}{"u1", "u2"}}},
		},
		{
			"range pair",
			model.Filters{
				{Field: "age", Op: model.OpGte, Value: 18},
				{Field: "name", Op: model.OpLt, Value: "M"},
			},
			bson.M{"age": bson.M{"$gte": 18}, "name": bson.M{"$lt": "M"}},
		},
		{
			"contains maps to array equality",
			model.Filters{{Field: "tags", Op: model.OpContains, Value: "go"}},
			bson.M{"tags": bson.M{"$eq": "go"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := makeFilterBSON(tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMakeFilterBSONRejectsInvalidFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters model.Filters
	}{
		{"unknown operator", model.Filters{{Field: "x", Op: "~=", Value: 1}}},
		{"missing field", model.Filters{{Op: model.OpEq, Value: 1}}},
		{
			"valid condition does not mask the invalid one",
			model.Filters{model.Eq("id", "u1"), {Field: "x", Op: "~=", Value: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := makeFilterBSON(tt.filters)
			assert.ErrorIs(t, err, model.ErrInvalidOperation,
				"a dropped condition would widen the filter")
		})
	}
}

func TestMapOp(t *testing.T) {
	tests := []struct {
		op   model.FilterOp
		want string
	}{
		{model.OpEq, "$eq"},
		{model.OpNe, "$ne"},
		{model.OpGt, "$gt"},
		{model.OpGte, "$gte"},
		{model.OpLt, "$lt"},
		{model.OpLte, "$lte"},
		{model.OpIn, "$in"},
		{model.OpContains, "$eq"},
		{"~=", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mapOp(tt.op), string(tt.op))
	}
}
