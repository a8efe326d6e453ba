// Package watch derives structured, collection-aware change descriptions
// from write operations issued against the object store, both before and
// after physical execution. Consumers subscribe to these descriptions
// instead of parsing raw operation arguments.
package watch

import (
	"fmt"

	"github.com/mitchellh/copystructure"

	"changewatch/internal/storage"
	"changewatch/pkg/model"
)

// ChangeKind discriminates the change union.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
	ChangeDelete ChangeKind = "delete"
)

// Change describes one data change to one collection. Which fields are
// populated depends on Kind:
//
//	create: Collection, Values, Key. Key is always set post-execution;
//	        pre-execution it is set only when the caller supplied the full
//	        key explicitly. Values never contain the key fields.
//	modify: Collection, Where, Updates, Keys.
//	delete: Collection, Where, Keys.
//
// Keys enumerates every object the filter matched, resolved by a read
// issued at interception time, never inferred from the filter's shape.
// Post-execution Keys are taken from that same pre-execution resolution:
// a concurrent write between resolution and execution can make them stale.
type Change struct {
	Kind       ChangeKind             `json:"kind"`
	Collection string                 `json:"collection"`
	Values     map[string]interface{} `json:"values,omitempty"`
	Key        storage.PrimaryKey     `json:"key,omitempty"`
	Where      model.Filters          `json:"where,omitempty"`
	Updates    map[string]interface{} `json:"updates,omitempty"`
	Keys       []storage.PrimaryKey   `json:"keys,omitempty"`
}

// ChangeInfo is an ordered sequence of changes. Order equals the order in
// which source operations (or batch sub-operations) were encountered.
// Post-execution info is always freshly constructed; an instance is never
// shared between phases.
type ChangeInfo struct {
	Changes []Change `json:"changes"`
}

// Empty reports whether no changes are described.
func (ci *ChangeInfo) Empty() bool {
	return ci == nil || len(ci.Changes) == 0
}

// filter returns a fresh ChangeInfo containing only changes whose
// collection satisfies the predicate.
func (ci *ChangeInfo) filter(pred CollectionPredicate) *ChangeInfo {
	out := &ChangeInfo{}
	if ci == nil {
		return out
	}
	for _, c := range ci.Changes {
		if pred(c.Collection) {
			out.Changes = append(out.Changes, c)
		}
	}
	return out
}

// clone deep-copies the info, nested values included. Everything handed
// across a boundary (hooks, sibling pipeline stages) gets its own copy so
// mutation there can never reach the maps the pipeline still executes from.
func (ci *ChangeInfo) clone() (*ChangeInfo, error) {
	if ci == nil {
		return nil, nil
	}
	c, err := copystructure.Copy(ci)
	if err != nil {
		return nil, fmt.Errorf("clone change info: %w", err)
	}
	return c.(*ChangeInfo), nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneKeys(keys []storage.PrimaryKey) []storage.PrimaryKey {
	if keys == nil {
		return nil
	}
	out := make([]storage.PrimaryKey, len(keys))
	copy(out, keys)
	return out
}
