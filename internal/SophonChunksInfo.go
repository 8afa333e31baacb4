package internal

// SophonChunksInfo describes where the chunks of a manifest are served from
type SophonChunksInfo struct {
	ChunksBaseUrl       string
	ChunksCount         int
	FilesCount          int
	TotalSize           int64
	TotalCompressedSize int64
	IsUseCompression    bool
}

// CopyWithNewBaseUrl returns a copy of SophonChunksInfo pointing at another mirror
func (s *SophonChunksInfo) CopyWithNewBaseUrl(newBaseUrl string) *SophonChunksInfo {
	info := *s
	info.ChunksBaseUrl = newBaseUrl
	return &info
}

// CreateChunksInfo creates a new SophonChunksInfo instance
// Parameters:
//   - chunksBaseUrl: From API section: chunk_download -> url_prefix
//   - chunksCount: From API section: stats -> chunk_count
//   - filesCount: From API section: stats -> file_count
//   - isUseCompression: From API section: chunk_download -> compression
//   - totalSize: From API section: stats -> uncompressed_size
//   - totalCompressedSize: From API section: stats -> compressed_size
func CreateChunksInfo(chunksBaseUrl string, chunksCount int, filesCount int, isUseCompression bool, totalSize int64, totalCompressedSize int64) *SophonChunksInfo {
	return &SophonChunksInfo{
		ChunksBaseUrl:       chunksBaseUrl,
		ChunksCount:         chunksCount,
		FilesCount:          filesCount,
		IsUseCompression:    isUseCompression,
		TotalSize:           totalSize,
		TotalCompressedSize: totalCompressedSize,
	}
}
