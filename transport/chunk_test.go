package transport

import (
	"crypto/rand"
	"testing"

	"github.com/nocdem/dna-messenger-sub001/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitReassembleRoundTripSmall(t *testing.T) {
	value := []byte("hello spillway")

	chunks, err := SplitValue(value)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	got, err := ReassembleValue(chunks)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestSplitReassembleRoundTripLarge(t *testing.T) {
	// Incompressible, so it still spans several chunks after zstd.
	value := make([]byte, 200_000)
	_, err := rand.Read(value)
	require.NoError(t, err)

	chunks, err := SplitValue(value)
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)

	got, err := ReassembleValue(chunks)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestReassembleRejectsCRCTamper(t *testing.T) {
	value := make([]byte, 200_000)
	_, err := rand.Read(value)
	require.NoError(t, err)
	chunks, err := SplitValue(value)
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)

	chunks[0][chunk0HeaderLen] ^= 0xFF

	_, err = ReassembleValue(chunks)
	require.Error(t, err)
}

func TestReassembleRejectsMissingChunk(t *testing.T) {
	value := make([]byte, 200_000)
	_, err := rand.Read(value)
	require.NoError(t, err)
	chunks, err := SplitValue(value)
	require.NoError(t, err)
	require.True(t, len(chunks) > 2)

	_, err = ReassembleValue(chunks[:len(chunks)-1])
	require.Error(t, err)
}

func TestReassembleRejectsOutOfOrder(t *testing.T) {
	value := make([]byte, 200_000)
	_, err := rand.Read(value)
	require.NoError(t, err)
	chunks, err := SplitValue(value)
	require.NoError(t, err)
	require.True(t, len(chunks) > 2)

	chunks[1], chunks[2] = chunks[2], chunks[1]

	_, err = ReassembleValue(chunks)
	require.Error(t, err)
}

func TestParseChunk0HeaderRejectsBadMagic(t *testing.T) {
	chunks, err := SplitValue([]byte("x"))
	require.NoError(t, err)
	chunks[0][0] = 'Z'

	_, err = ParseChunk0Header(chunks[0])
	require.Error(t, err)
}

func TestParseChunk0HeaderRejectsTruncated(t *testing.T) {
	_, err := ParseChunk0Header([]byte("short"))
	require.Error(t, err)
}

func TestChunkKeyIsDeterministicAndDistinctPerIndex(t *testing.T) {
	k0a := ChunkKey("basekey", 0)
	k0b := ChunkKey("basekey", 0)
	k1 := ChunkKey("basekey", 1)

	assert.Equal(t, k0a, k0b)
	assert.NotEqual(t, k0a, k1)
}

func TestSplitValueRejectsOversizedChunkCount(t *testing.T) {
	value := make([]byte, (limits.MaxChunkTotal+10)*limits.ChunkPayloadSize)
	_, err := rand.Read(value)
	require.NoError(t, err)

	_, err = SplitValue(value)
	require.Error(t, err)
}
