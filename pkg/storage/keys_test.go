package storage

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjacencyKeySplit(t *testing.T) {
	src, dst := NewID(), NewID()
	edge := NewID()
	h := HashLabel("Knows")

	key := OutEdgeKey(src, h, edge)
	ep, lh, eid, ok := SplitAdjacencyKey(key)
	require.True(t, ok)
	assert.Equal(t, src, ep)
	assert.Equal(t, h, lh)
	assert.Equal(t, edge, eid)

	assert.True(t, bytes.HasPrefix(key, AdjacencyPrefix(src, h, true)))
	assert.True(t, bytes.HasPrefix(key, AdjacencyPrefix(src, 0, false)))
	_ = dst
}

func TestSecondaryKeyRoundTrip(t *testing.T) {
	id := NewID()
	vb, err := EncodeIndexValue(StringValue("x@y"))
	require.NoError(t, err)

	key := SecondaryKey(1, 2, vb, id)
	got, ok := SecondaryEntryID(key)
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.True(t, bytes.HasPrefix(key, SecondaryPrefix(1, 2, vb)))
}

func TestIndexValueOrderPreserving(t *testing.T) {
	values := []Value{
		IntValue(-100), IntValue(-1), IntValue(0), IntValue(1),
		FloatValue(1.5), IntValue(2), IntValue(100),
		TypedUint(KindU8, 200), IntValue(1000),
	}
	var encoded [][]byte
	for _, v := range values {
		b, err := EncodeIndexValue(v)
		require.NoError(t, err)
		encoded = append(encoded, b)
	}
	sorted := sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})
	assert.True(t, sorted, "numeric index encoding must preserve order")
}

func TestIndexValueCrossWidthEquality(t *testing.T) {
	a, err := EncodeIndexValue(TypedInt(KindI32, 7))
	require.NoError(t, err)
	b, err := EncodeIndexValue(TypedUint(KindU8, 7))
	require.NoError(t, err)
	assert.Equal(t, a, b, "same number, same key bytes")
}

func TestHNSWEdgeKey(t *testing.T) {
	src, dst := NewID(), NewID()
	key := HNSWEdgeKey(src, 3, dst)
	got, ok := HNSWEdgeDst(key)
	require.True(t, ok)
	assert.Equal(t, dst, got)
	assert.True(t, bytes.HasPrefix(key, HNSWNeighborPrefix(src, 3)))
}

func TestPostingKey(t *testing.T) {
	doc := NewID()
	key := PostingKey(9, "fox", doc)
	got, ok := PostingDocID(key)
	require.True(t, ok)
	assert.Equal(t, doc, got)
	assert.True(t, bytes.HasPrefix(key, PostingPrefix(9, "fox")))

	// "fo" must not prefix-match "fox" postings.
	assert.False(t, bytes.HasPrefix(key, PostingPrefix(9, "fo")))
}

func TestSchemaHashCollisionRejected(t *testing.T) {
	// costarring / liquid is a known FNV-1a 32 collision pair.
	s := NewSchema()
	s.Nodes["costarring"] = NodeDef{Label: "costarring", Fields: map[string]FieldDef{}}
	s.Nodes["liquid"] = NodeDef{Label: "liquid", Fields: map[string]FieldDef{}}

	if HashLabel("costarring") == HashLabel("liquid") {
		var sv *SchemaViolationError
		assert.ErrorAs(t, s.Validate(), &sv)
	} else {
		t.Skip("hash pair does not collide under this FNV variant")
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	cases := []Value{
		StringValue("hello"),
		IntValue(-42),
		TypedUint(KindU32, 7),
		FloatValue(3.25),
		BoolValue(true),
		DateValue("2024-01-15"),
		ListValue([]Value{IntValue(1), StringValue("two")}),
		BlobValue([]byte{0xde, 0xad}),
		NullValue(),
	}
	for _, v := range cases {
		data, err := v.MarshalJSON()
		require.NoError(t, err)
		var back Value
		require.NoError(t, back.UnmarshalJSON(data))
		assert.True(t, v.Equal(back), "round trip changed %v", v.Kind)
	}
}

func TestEntityCodecRoundTrip(t *testing.T) {
	node := &Node{ID: NewID(), Label: "User", Properties: Properties{
		"name": StringValue("Alice"),
		"age":  TypedInt(KindI32, 30),
	}}
	data, err := EncodeNode(node)
	require.NoError(t, err)
	back, err := DecodeNode(data)
	require.NoError(t, err)
	assert.Equal(t, node.ID, back.ID)
	assert.Equal(t, node.Label, back.Label)
	assert.True(t, node.Properties["name"].Equal(back.Properties["name"]))

	// Canonical form: encode(decode(x)) == encode(x).
	again, err := EncodeNode(back)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestFloatArrayCodec(t *testing.T) {
	in := []float64{1, 0, -2.5, 3.14159}
	out, err := DecodeFloats(EncodeFloats(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeFloats([]byte{1, 2, 3})
	assert.Error(t, err)
}
