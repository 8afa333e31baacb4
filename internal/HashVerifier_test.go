package internal

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerifier_Verify(t *testing.T) {
	t.Parallel()
	data := testPattern(40, 3000)

	md5Chunk := func(payload []byte) *SophonChunk {
		chunk := NewSophonChunk()
		chunk.ChunkName = "plain-name"
		chunk.ChunkHashDecompressed = md5Of(data)
		chunk.ChunkSize = int64(len(payload))
		chunk.ChunkSizeDecompressed = int64(len(data))
		return &chunk
	}

	t.Run("md5 over raw bytes", func(t *testing.T) {
		ok, err := HashVerifier{}.Verify(md5Chunk(data), bytes.NewReader(data), false)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("md5 over decompressed bytes", func(t *testing.T) {
		packed := zstdCompress(t, data)
		ok, err := HashVerifier{IsUseCompression: true}.Verify(md5Chunk(packed), bytes.NewReader(packed), false)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("undecodable payload is a mismatch", func(t *testing.T) {
		garbage := bytes.Repeat([]byte{0xAB}, 64)
		ok, err := HashVerifier{IsUseCompression: true}.Verify(md5Chunk(garbage), bytes.NewReader(garbage), false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("short payload is a mismatch", func(t *testing.T) {
		ok, err := HashVerifier{}.Verify(md5Chunk(data), bytes.NewReader(data[:100]), false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("xxh64 from the chunk name", func(t *testing.T) {
		packed := zstdCompress(t, data)
		chunk := md5Chunk(packed)
		chunk.ChunkName = fmt.Sprintf("%016x_%s", xxhash.Sum64(packed), "deadbeef")

		ok, err := HashVerifier{IsUseCompression: true}.Verify(chunk, bytes.NewReader(packed), false)
		require.NoError(t, err)
		assert.True(t, ok)

		tampered := append([]byte{}, packed...)
		tampered[len(tampered)-1] ^= 0xFF
		ok, err = HashVerifier{IsUseCompression: true}.Verify(chunk, bytes.NewReader(tampered), false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("md5 fallback ignores the chunk name", func(t *testing.T) {
		chunk := md5Chunk(data)
		chunk.ChunkName = "0000000000000000_bogus"

		ok, err := HashVerifier{}.Verify(chunk, bytes.NewReader(data), true)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("view is rewound", func(t *testing.T) {
		view := bytes.NewReader(data)
		_, err := HashVerifier{}.Verify(md5Chunk(data), view, false)
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), int64(view.Len()))
	})
}

func TestHashVerifier_VerifyDecompressed(t *testing.T) {
	t.Parallel()
	data := testPattern(41, 512)

	chunk := NewSophonChunk()
	chunk.ChunkName = "range"
	chunk.ChunkSizeDecompressed = int64(len(data))

	chunk.ChunkHashDecompressed = md5Of(data)
	ok, err := HashVerifier{}.VerifyDecompressed(&chunk, bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, ok)

	sum := xxhash.Sum64(data)
	chunk.ChunkHashDecompressed = []byte{
		byte(sum >> 56), byte(sum >> 48), byte(sum >> 40), byte(sum >> 32),
		byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum),
	}
	ok, err = HashVerifier{}.VerifyDecompressed(&chunk, bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HashVerifier{}.VerifyDecompressed(&chunk, bytes.NewReader(testPattern(42, 512)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryGetChunkXxh64Hash(t *testing.T) {
	t.Parallel()

	hash, ok := TryGetChunkXxh64Hash("0123456789abcdef_ffeeddccbbaa99887766554433221100")
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}, hash)

	for _, name := range []string{"", "plain", "0123_abc", "0123456789abcdef", "a_b_c", "0123456789abcdeg_x"} {
		_, ok := TryGetChunkXxh64Hash(name)
		assert.False(t, ok, name)
	}
}
