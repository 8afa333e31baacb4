package internal

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// BytesToHex converts a byte slice to a hexadecimal string
func BytesToHex(bytes []byte) string {
	return hex.EncodeToString(bytes)
}

// HexToBytes converts a hexadecimal string to a byte slice
func HexToBytes(hexStr string) ([]byte, error) {
	if len(hexStr) == 0 {
		return []byte{}, nil
	}
	if len(hexStr)%2 == 1 {
		return nil, fmt.Errorf("hex string must have even length: %q", hexStr)
	}
	return hex.DecodeString(hexStr)
}

// sophonPatchAssetChunkSource selects which file of a patch directive is described as a chunk
type sophonPatchAssetChunkSource int

const (
	patchChunkFromPatch sophonPatchAssetChunkSource = iota
	patchChunkFromOriginal
	patchChunkFromTarget
)

// asChunk describes one whole file of the directive as a single chunk so the
// chunk verifier can be reused on it
func (asset *SophonPatchAsset) asChunk(source sophonPatchAssetChunkSource) (*SophonChunk, error) {
	var hashStr, fileName string
	var fileSize int64

	switch source {
	case patchChunkFromOriginal:
		hashStr, fileName, fileSize = asset.OriginalFileHash, asset.OriginalFilePath, asset.OriginalFileSize
	case patchChunkFromTarget:
		hashStr, fileName, fileSize = asset.TargetFileHash, asset.TargetFilePath, asset.TargetFileSize
	default:
		hashStr, fileName, fileSize = asset.PatchHash, asset.PatchNameSource, asset.PatchSize
	}

	hash, err := HexToBytes(hashStr)
	if err != nil {
		return nil, err
	}

	chunk := NewSophonChunk()
	chunk.ChunkName = fileName
	chunk.ChunkHashDecompressed = hash
	chunk.ChunkSize = fileSize
	chunk.ChunkSizeDecompressed = fileSize
	return &chunk, nil
}

// GetChunkStagingFilenameHash generates the file name of a staged chunk
func GetChunkStagingFilenameHash(chunk *SophonChunk, asset *SophonAsset) string {
	concatName := fmt.Sprintf("%s$%s$%s", asset.AssetName, asset.AssetHash, chunk.ChunkName)
	return fmt.Sprintf("%016x", xxhash.Sum64String(concatName))
}

// TryGetChunkXxh64Hash extracts the XXH64 digest embedded as "<16 hex>_<suffix>" in a chunk name
func TryGetChunkXxh64Hash(fileName string) ([]byte, bool) {
	parts := strings.Split(fileName, "_")
	if len(parts) != 2 || len(parts[0]) != 16 {
		return nil, false
	}

	hash, err := HexToBytes(parts[0])
	if err != nil {
		return nil, false
	}

	return hash, true
}

// EnsureOrThrowOutputDirectoryExistence checks if a directory exists
func EnsureOrThrowOutputDirectoryExistence(outputDirPath string) error {
	if outputDirPath == "" {
		return fmt.Errorf("%w: directory path cannot be empty", ErrResourceMissing)
	}

	info, err := os.Stat(outputDirPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: directory path: %s does not exist", ErrResourceMissing, outputDirPath)
	}

	return nil
}

// EnsureOrThrowChunksState checks if an asset has chunks
func EnsureOrThrowChunksState(asset *SophonAsset) error {
	if asset.Chunks == nil {
		return fmt.Errorf("%w: asset %s does not have chunk(s)", ErrResourceMissing, asset.AssetName)
	}
	return nil
}

// UnassignReadOnlyFromFileInfo removes the read-only flag from a file
func UnassignReadOnlyFromFileInfo(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}

	if info.Mode()&0200 == 0 {
		return os.Chmod(filePath, info.Mode()|0200)
	}

	return nil
}

// ensureParentDir creates the parent directory of a file path
func ensureParentDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// fileExists reports whether path names an existing regular file
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ToSet converts a slice to a set (map with empty struct values)
func ToSet[T comparable](items []T) map[T]struct{} {
	set := make(map[T]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
