package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleNode struct {
	Kind  uint8             `cbor:"k"`
	Name  string            `cbor:"n,omitempty"`
	Sizes map[string]uint64 `cbor:"s,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	node := sampleNode{
		Kind:  2,
		Name:  "dir",
		Sizes: map[string]uint64{"zeta": 1, "alpha": 2, "mid": 3},
	}

	first, err := Marshal(node)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Marshal(node)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(first, again), "encoding differs on attempt %d", i)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type wider struct {
		Kind  uint8  `cbor:"k"`
		Extra string `cbor:"x"`
	}
	data, err := Marshal(wider{Kind: 1, Extra: "future"})
	require.NoError(t, err)

	var decoded sampleNode
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, uint8(1), decoded.Kind)
}

func TestUnmarshalGarbage(t *testing.T) {
	var decoded sampleNode
	assert.Error(t, Unmarshal([]byte{0xff, 0x00, 0x13}, &decoded))
}
