// Package events defines the canonical change-event schema published to
// consumers. All consumers MUST use these types for event processing.
package events

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"changewatch/internal/storage"
	"changewatch/internal/watch"
)

// Phase distinguishes events derived before execution from events derived
// after it.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// IsValid checks if the phase is a known valid value.
func (p Phase) IsValid() bool {
	return p == PhasePre || p == PhasePost
}

// ChangeEvent is one derived change, flattened for the wire. Key is set
// for creates, Keys for modifies and deletes.
type ChangeEvent struct {
	Id         string                 `json:"id"`
	Phase      Phase                  `json:"phase"`
	Kind       watch.ChangeKind       `json:"kind"`
	Collection string                 `json:"collection"`
	Key        storage.PrimaryKey     `json:"key,omitempty"`
	Keys       []storage.PrimaryKey   `json:"keys,omitempty"`
	Values     map[string]interface{} `json:"values,omitempty"`
	Updates    map[string]interface{} `json:"updates,omitempty"`

	// Timestamp is when the event was derived (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`
}

// FromChange flattens a derived change into its wire event.
func FromChange(phase Phase, c watch.Change) ChangeEvent {
	now := time.Now().UnixMilli()
	return ChangeEvent{
		Id:         eventID(phase, c, now),
		Phase:      phase,
		Kind:       c.Kind,
		Collection: c.Collection,
		Key:        c.Key,
		Keys:       c.Keys,
		Values:     c.Values,
		Updates:    c.Updates,
		Timestamp:  now,
	}
}

// Subject returns the bus subject change events for a collection are
// published on.
func Subject(collection string) string {
	return "changes." + collection
}

// Marshal encodes the event as JSON.
func (e ChangeEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a JSON change event.
func Unmarshal(data []byte) (ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	return e, nil
}

// eventID derives a 128-bit BLAKE3 id over the event's identifying
// material, hex-encoded.
func eventID(phase Phase, c watch.Change, ts int64) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|", phase, c.Kind, c.Collection, ts)
	fmt.Fprintf(h, "%v|", c.Key)
	for _, key := range c.Keys {
		fmt.Fprintf(h, "%v|", key)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
