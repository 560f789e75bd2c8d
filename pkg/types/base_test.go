package types

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const wallJSON = `{
	"id": "wall",
	"speckle_type": "Objects.BuiltElements.Wall",
	"height": 3.5,
	"name": "north",
	"tags": ["a", null, true],
	"displayValue": [{"referencedId": "mesh1", "speckle_type": "reference"}],
	"vertices": [{"speckle_type": "Speckle.Core.Models.DataChunk", "id": "chunk1", "data": [1, 2, 3]}],
	"parameters": {"fire": {"value": 2}},
	"level": {"speckle_type": "Objects.BuiltElements.Level", "elevation": 0},
	"__closure": {"mesh1": 1, "chunk1": 1, "mat": 2}
}`

func TestParseBase(t *testing.T) {
	b, err := ParseBase([]byte(wallJSON))
	require.NoError(t, err)

	require.Equal(t, "wall", b.ID)
	require.Equal(t, "Objects.BuiltElements.Wall", b.SpeckleType)
	require.Equal(t, map[string]int{"mesh1": 1, "chunk1": 1, "mat": 2}, b.Closure)

	height, ok := b.Get("height")
	require.True(t, ok)
	f, ok := height.AsFloat()
	require.True(t, ok)
	require.InDelta(t, 3.5, f, 0)

	display, _ := b.Get("displayValue")
	require.Equal(t, KindArray, display.Kind())
	ref, ok := display.Items()[0].ReferencedID()
	require.True(t, ok)
	require.Equal(t, "mesh1", ref)

	vertices, _ := b.Get("vertices")
	chunk := vertices.Items()[0]
	require.Equal(t, KindDataChunk, chunk.Kind())
	require.Len(t, chunk.Items(), 3)

	params, _ := b.Get("parameters")
	require.Equal(t, KindObject, params.Kind())
	require.Contains(t, params.Fields(), "fire")

	level, _ := b.Get("level")
	nested, ok := level.AsBase()
	require.True(t, ok)
	require.Empty(t, nested.ID)
	require.Equal(t, "Objects.BuiltElements.Level", nested.SpeckleType)

	_, ok = b.Get("missing")
	require.False(t, ok)
}

func TestBaseRoundTrip(t *testing.T) {
	b, err := ParseBase([]byte(wallJSON))
	require.NoError(t, err)

	data, err := json.Marshal(b)
	require.NoError(t, err)

	again, err := ParseBase(data)
	require.NoError(t, err)
	require.True(t, b.Equal(again), "diff: %s", cmp.Diff(b, again))

	// encoding is canonical, so a second pass is byte identical
	data2, err := json.Marshal(again)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(data2))
	require.Equal(t, string(data), string(data2))
}

func TestBuiltBaseRoundTrip(t *testing.T) {
	b := &Base{ID: "root", SpeckleType: "Base", Closure: map[string]int{"child": 1}}
	b.Set("child", Reference("child"))
	b.Set("points", Array(DataChunk("c1", "", Int(1), Float(2.5)), DataChunk("c2", "", Int(3))))
	b.Set("inline", Nested(&Base{ID: "inner", SpeckleType: "Base"}))
	b.Set("flag", Bool(true))
	b.Set("nothing", Null())
	b.Set("label", String(`quoted "name"`))

	data, err := b.MarshalJSON()
	require.NoError(t, err)

	var parsed Base
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.True(t, b.Equal(&parsed))

	points, _ := parsed.Get("points")
	var total []int64
	for _, c := range points.Items() {
		envelope, ok := c.Chunk()
		require.True(t, ok)
		require.Equal(t, "Speckle.Core.Models.DataChunk", envelope.SpeckleType)
		for _, v := range c.Items() {
			i, ok := v.AsInt()
			if ok {
				total = append(total, i)
			}
		}
	}
	require.Equal(t, []int64{1, 3}, total)
}

func TestChildIDs(t *testing.T) {
	b := &Base{ID: "root", Closure: map[string]int{"b": 1, "a": 1, "heavy": 5, "mid": 3}}
	require.Equal(t, []string{"heavy", "mid", "a", "b"}, b.ChildIDs())

	require.Empty(t, (&Base{ID: "leaf"}).ChildIDs())

	var nilBase *Base
	require.Nil(t, nilBase.ChildIDs())
}

func TestParseItem(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		item, err := ParseItem("abc", []byte(`{"id":"abc","speckle_type":"Base"}`))
		require.NoError(t, err)
		require.Equal(t, "abc", item.BaseID)
		require.Equal(t, "abc", item.Base.ID)
	})

	t.Run("invalid_json", func(t *testing.T) {
		_, err := ParseItem("abc", []byte(`{"id":`))
		require.ErrorIs(t, err, ErrInvalidJSON)
		require.ErrorContains(t, err, "error parsing object abc")
	})

	t.Run("missing_id", func(t *testing.T) {
		_, err := ParseItem("abc", []byte(`{"speckle_type":"Base"}`))
		require.ErrorIs(t, err, ErrNotABase)
		require.EqualError(t, err, "abc is not a base")
	})

	t.Run("not_an_object", func(t *testing.T) {
		_, err := ParseItem("abc", []byte(`[1,2]`))
		require.ErrorIs(t, err, ErrNotABase)
	})
}

func TestPeekID(t *testing.T) {
	id, ok := PeekID([]byte(`{"speckle_type":"Base","id":"xyz","big":[1,2,3]}`))
	require.True(t, ok)
	require.Equal(t, "xyz", id)

	_, ok = PeekID([]byte(`{"id":12}`))
	require.False(t, ok)
}

func TestItemJSON(t *testing.T) {
	item := &Item{BaseID: "x", Base: &Base{ID: "x", SpeckleType: "Base"}, Size: 30}
	data, err := json.Marshal(item)
	require.NoError(t, err)
	require.JSONEq(t, `{"baseId":"x","base":{"id":"x","speckle_type":"Base"},"size":30}`, string(data))

	var decoded Item
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "x", decoded.BaseID)
	require.True(t, item.Base.Equal(decoded.Base))
	require.Equal(t, 30, decoded.Size)

	data, err = json.Marshal(&Item{BaseID: "y"})
	require.NoError(t, err)
	require.JSONEq(t, `{"baseId":"y"}`, string(data))
}

func TestValueEqual(t *testing.T) {
	require.True(t, Int(2).Equal(Number("2.0")))
	require.False(t, String("2").Equal(Int(2)))
	require.True(t, Null().Equal(Value{}))
	require.False(t, Array(Int(1)).Equal(Array(Int(1), Int(2))))
	require.Equal(t, "reference", KindReference.String())
}
