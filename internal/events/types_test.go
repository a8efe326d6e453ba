package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/internal/storage"
	"changewatch/internal/watch"
)

func TestFromChange(t *testing.T) {
	c := watch.Change{
		Kind:       watch.ChangeCreate,
		Collection: "users",
		Key:        storage.PrimaryKey{"u1"},
		Values:     map[string]interface{}{"name": "Joe"},
	}

	before := time.Now().UnixMilli()
	e := FromChange(PhasePost, c)

	assert.NotEmpty(t, e.Id)
	assert.Len(t, e.Id, 32, "128-bit id, hex encoded")
	assert.Equal(t, PhasePost, e.Phase)
	assert.Equal(t, watch.ChangeCreate, e.Kind)
	assert.Equal(t, "users", e.Collection)
	assert.Equal(t, storage.PrimaryKey{"u1"}, e.Key)
	assert.Equal(t, map[string]interface{}{"name": "Joe"}, e.Values)
	assert.GreaterOrEqual(t, e.Timestamp, before)
}

func TestEventIDDiscriminates(t *testing.T) {
	c := watch.Change{Kind: watch.ChangeDelete, Collection: "users",
		Keys: []storage.PrimaryKey{{"u1"}}}
	ts := int64(1700000000000)

	assert.Equal(t, eventID(PhasePre, c, ts), eventID(PhasePre, c, ts))
	assert.NotEqual(t, eventID(PhasePre, c, ts), eventID(PhasePost, c, ts))
	assert.NotEqual(t, eventID(PhasePre, c, ts), eventID(PhasePre, c, ts+1))

	other := c
	other.Keys = []storage.PrimaryKey{{"u2"}}
	assert.NotEqual(t, eventID(PhasePre, c, ts), eventID(PhasePre, other, ts))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "changes.users", Subject("users"))
}

func TestMarshalRoundtrip(t *testing.T) {
	e := FromChange(PhasePre, watch.Change{
		Kind:       watch.ChangeModify,
		Collection: "users",
		Keys:       []storage.PrimaryKey{{"u1"}, {"u2"}},
		Updates:    map[string]interface{}{"active": true},
	})

	data, err := e.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, e.Id, decoded.Id)
	assert.Equal(t, e.Phase, decoded.Phase)
	assert.Equal(t, e.Kind, decoded.Kind)
	require.Len(t, decoded.Keys, 2)
	assert.Equal(t, "u1", decoded.Keys[0][0])
}

func TestUnmarshalInvalid(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}

func TestPhaseIsValid(t *testing.T) {
	assert.True(t, PhasePre.IsValid())
	assert.True(t, PhasePost.IsValid())
	assert.False(t, Phase("during").IsValid())
}
