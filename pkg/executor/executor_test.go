package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixdb/helix-go/pkg/hql"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"a":1}`)
	framed := Frame(payload)
	require.Len(t, framed, 4+len(payload))
	assert.Equal(t, payload, Unframe(framed))
}

func TestUnframePassesBarePayloadThrough(t *testing.T) {
	bare := []byte(`{"name":"Alice"}`)
	assert.Equal(t, bare, Unframe(bare))

	assert.Empty(t, Unframe(nil))
	assert.Equal(t, []byte(`{}`), Unframe([]byte(`{}`)))
}

func TestFrameEmptyPayload(t *testing.T) {
	framed := Frame(nil)
	require.Len(t, framed, 4)
	assert.Empty(t, Unframe(framed))
}

func TestRegistryAllOrNothingSemantics(t *testing.T) {
	r := NewRegistry()
	r.Register([]*hql.CompiledQuery{
		{Name: "A"}, {Name: "B"},
	})
	_, ok := r.Lookup("A")
	assert.True(t, ok)
	_, ok = r.Lookup("B")
	assert.True(t, ok)
	_, ok = r.Lookup("C")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"A", "B"}, r.Names())

	// Re-registering a name replaces the previous compiled form.
	updated := &hql.CompiledQuery{Name: "A", Writes: true}
	r.Register([]*hql.CompiledQuery{updated})
	got, _ := r.Lookup("A")
	assert.True(t, got.Writes)
}
