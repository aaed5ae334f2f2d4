package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash512Deterministic(t *testing.T) {
	data := []byte("message content")
	h1 := Hash512(data)
	h2 := Hash512(data)
	assert.Equal(t, h1, h2)
}

func TestHash512DiffersOnDifferentInput(t *testing.T) {
	h1 := Hash512([]byte("a"))
	h2 := Hash512([]byte("b"))
	assert.NotEqual(t, h1, h2)
}

func TestHash256Deterministic(t *testing.T) {
	data := []byte("chunk content")
	assert.Equal(t, Hash256(data), Hash256(data))
}

func TestRandomBytesLength(t *testing.T) {
	b, err := RandomBytes(32)
	require.NoError(t, err)
	assert.Len(t, b, 32)
}

func TestRandomBytesAreNotConstant(t *testing.T) {
	b1, err := RandomBytes(32)
	require.NoError(t, err)
	b2, err := RandomBytes(32)
	require.NoError(t, err)
	assert.NotEqual(t, b1, b2)
}
