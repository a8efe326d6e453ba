package mongo

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"changewatch/pkg/model"
)

// makeFilterBSON translates the filter set to a mongo query document. An
// unsupported operator is an error: dropping it would widen the filter and
// a delete or update would then match far more than the caller asked for.
func makeFilterBSON(filters model.Filters) (bson.M, error) {
	bsonFilter := bson.M{}

	for _, f := range filters {
		if !f.Validate() {
			return nil, fmt.Errorf("%w: filter on %q with operator %q",
				model.ErrInvalidOperation, f.Field, f.Op)
		}
		bsonFilter[f.Field] = bson.M{mapOp(f.Op): f.Value}
	}

	return bsonFilter, nil
}

func mapOp(op model.FilterOp) string {
	switch op {
	case model.OpEq:
		return "$eq"
	case model.OpNe:
		return "$ne"
	case model.OpGt:
		return "$gt"
	case model.OpGte:
		return "$gte"
	case model.OpLt:
		return "$lt"
	case model.OpLte:
		return "$lte"
	case model.OpIn:
		return "$in"
	case model.OpContains:
		// Mongo's equality against an array field already has contains
		// semantics.
		return "$eq"
	}
	return ""
}
