package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	values := []Value{Null{}, String("s"), Int(1), Bool(true), Array{}, Object{}}
	for _, v := range values {
		assert.NotNil(t, v)
	}
}

func TestSortedKeysUTF16Order(t *testing.T) {
	obj := Object{
		"b":          Int(1),
		"a":          Int(2),
		"\uffff":     Int(3),
		"\U0001F600": Int(4),
		"":           Int(5),
	}
	assert.Equal(t, []string{"", "a", "b", "\U0001F600", "\uffff"}, obj.SortedKeys())
}

func TestObjectAccessors(t *testing.T) {
	obj := Obj(O("balance", Int(100)), O("owner", String("alice")))

	n, ok := obj.Int64("balance")
	require.True(t, ok)
	assert.Equal(t, int64(100), n)

	_, ok = obj.Int64("owner")
	assert.False(t, ok)

	s, ok := obj.Str("owner")
	require.True(t, ok)
	assert.Equal(t, "alice", s)

	_, ok = obj.Str("missing")
	assert.False(t, ok)
}

func TestObjectCloneIsDeep(t *testing.T) {
	orig := Object{"inner": Object{"n": Int(1)}, "list": Array{Int(1)}}
	cp := orig.Clone()

	cp["inner"].(Object)["n"] = Int(2)
	cp["list"].(Array)[0] = Int(9)

	assert.Equal(t, Int(1), orig["inner"].(Object)["n"])
	assert.Equal(t, Int(1), orig["list"].(Array)[0])
	assert.Nil(t, Object(nil).Clone())
}

func TestMarshalValueRoundTrip(t *testing.T) {
	orig := Object{
		"s":    String("x"),
		"n":    Int(-7),
		"b":    Bool(true),
		"null": Null{},
		"arr":  Array{Int(1), Object{"k": String("v")}},
	}

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var back Object
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, orig, back)
}

func TestUnmarshalRejectsFloats(t *testing.T) {
	for _, in := range []string{`1.5`, `{"a":1e3}`, `[2.0]`} {
		_, err := UnmarshalValue([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestUnmarshalObjectRejectsNonObject(t *testing.T) {
	var obj Object
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &obj))
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"a": 1,
		"b": []any{"x", true, int64(3)},
		"c": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, Object{
		"a": Int(1),
		"b": Array{String("x"), Bool(true), Int(3)},
		"c": Null{},
	}, v)

	_, err = FromGo(map[string]any{"f": 0.5})
	assert.Error(t, err)

	_, err = FromGo(struct{}{})
	assert.Error(t, err)
}
