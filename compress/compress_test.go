package compress

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	var z Compressor
	plain := bytes.Repeat([]byte("the quick brown fox "), 512)

	packed, compressed, err := z.Compress(plain)
	require.NoError(t, err)
	require.True(t, compressed, "repetitive input should compress")
	require.Less(t, len(packed), len(plain))

	out, err := Decompress(packed, len(plain), len(plain))
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestCompressIncompressibleInputPassesThrough(t *testing.T) {
	var z Compressor
	plain := make([]byte, 4096)
	_, err := rand.Read(plain)
	require.NoError(t, err)

	packed, compressed, err := z.Compress(plain)
	require.NoError(t, err)
	assert.False(t, compressed, "random input should not compress")
	assert.Equal(t, plain, packed)
}

func TestCompressEmptyChunk(t *testing.T) {
	var z Compressor
	packed, compressed, err := z.Compress(nil)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Empty(t, packed)
}

func TestDecompressRejectsOversizeClaim(t *testing.T) {
	_, err := Decompress([]byte{0x00}, 2048, 1024)
	assert.ErrorIs(t, err, ErrDecompressedTooLarge)
}

func TestDecompressRejectsCorruptData(t *testing.T) {
	var z Compressor
	plain := bytes.Repeat([]byte("abcd1234"), 256)
	packed, compressed, err := z.Compress(plain)
	require.NoError(t, err)
	require.True(t, compressed)

	packed[0] ^= 0xFF
	_, err = Decompress(packed, len(plain), len(plain))
	assert.ErrorIs(t, err, ErrCorruptChunk)
}

func TestDecompressRejectsLengthMismatch(t *testing.T) {
	var z Compressor
	plain := bytes.Repeat([]byte("abcd1234"), 256)
	packed, compressed, err := z.Compress(plain)
	require.NoError(t, err)
	require.True(t, compressed)

	_, err = Decompress(packed, len(plain)-1, len(plain))
	assert.ErrorIs(t, err, ErrCorruptChunk)
}
