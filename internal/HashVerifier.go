package internal

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"hash"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// xxh64DigestLen is the digest length that marks an XXH64 checksum, anything else is MD5
const xxh64DigestLen = 8

// HashVerifier checks chunk payloads against the digests carried by the manifest.
// It holds no state besides the compression mode of the chunk source.
type HashVerifier struct {
	IsUseCompression bool
}

// Verify checks a chunk as it was transferred (compressed when IsUseCompression is set).
// The XXH64 digest embedded in the chunk name is used over the raw bytes unless
// useFallbackMd5 is set or the name carries no digest, in which case the decompressed
// bytes are hashed with MD5 against ChunkHashDecompressed.
// The view is rewound to 0 before hashing and is left at 0 on return.
func (v HashVerifier) Verify(chunk *SophonChunk, view io.ReadSeeker, useFallbackMd5 bool) (bool, error) {
	if _, err := view.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	defer view.Seek(0, io.SeekStart)

	if xxh, ok := TryGetChunkXxh64Hash(chunk.ChunkName); ok && !useFallbackMd5 {
		h := xxhash.New()
		if _, err := io.Copy(h, view); err != nil {
			return false, fmt.Errorf("failed to hash chunk %s: %w", chunk.ChunkName, err)
		}
		return bytes.Equal(h.Sum(nil), xxh), nil
	}

	var reader io.Reader = view
	if v.IsUseCompression {
		decoder, err := zstd.NewReader(view)
		if err != nil {
			return false, err
		}
		defer decoder.Close()
		reader = decoder
	}

	h := md5.New()
	n, err := io.Copy(h, io.LimitReader(reader, chunk.ChunkSizeDecompressed))
	if err != nil {
		if v.IsUseCompression {
			// undecodable payloads are reported as a mismatch
			return false, nil
		}
		return false, fmt.Errorf("failed to hash chunk %s: %w", chunk.ChunkName, err)
	}
	if n != chunk.ChunkSizeDecompressed {
		return false, nil
	}
	return bytes.Equal(h.Sum(nil), chunk.ChunkHashDecompressed), nil
}

// VerifyDecompressed checks ChunkSizeDecompressed bytes of an already decompressed view
// (for example the destination range of the chunk) against ChunkHashDecompressed.
// The view is rewound to 0 before hashing and is left at 0 on return.
func (v HashVerifier) VerifyDecompressed(chunk *SophonChunk, view io.ReadSeeker) (bool, error) {
	if _, err := view.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	defer view.Seek(0, io.SeekStart)

	h := newDecompressedDigest(chunk)
	n, err := io.Copy(h, io.LimitReader(view, chunk.ChunkSizeDecompressed))
	if err != nil {
		return false, fmt.Errorf("failed to hash chunk %s: %w", chunk.ChunkName, err)
	}
	if n != chunk.ChunkSizeDecompressed {
		return false, nil
	}
	return bytes.Equal(h.Sum(nil), chunk.ChunkHashDecompressed), nil
}

// newDecompressedDigest picks the rolling hash matching the decompressed digest length
func newDecompressedDigest(chunk *SophonChunk) hash.Hash {
	if len(chunk.ChunkHashDecompressed) == xxh64DigestLen {
		return xxhash.New()
	}
	return md5.New()
}

// matchesDigest compares a finished rolling hash with the chunk digest
func matchesDigest(chunk *SophonChunk, h hash.Hash) bool {
	return bytes.Equal(h.Sum(nil), chunk.ChunkHashDecompressed)
}
