package internal

// DefaultBufferSize is the streaming buffer used per chunk worker
const DefaultBufferSize = 256 << 10

// SophonAsset is one logical file (or directory placeholder) of a manifest
type SophonAsset struct {
	AssetName           string
	AssetSize           int64
	AssetHash           string
	IsDirectory         bool
	IsHasPatch          bool
	Chunks              []*SophonChunk
	SophonChunksInfo    *SophonChunksInfo
	SophonChunksInfoAlt *SophonChunksInfo
}

// isUseCompression reports whether chunks of this asset are zstd-compressed on the wire
func (asset *SophonAsset) isUseCompression() bool {
	return asset.SophonChunksInfo != nil && asset.SophonChunksInfo.IsUseCompression
}
