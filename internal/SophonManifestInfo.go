package internal

// SophonManifestInfo describes where a protobuf manifest is served from
type SophonManifestInfo struct {
	ManifestBaseUrl        string
	ManifestId             string
	ManifestChecksumMd5    string
	IsUseCompression       bool
	ManifestSize           int64
	ManifestCompressedSize int64
}

// ManifestFileUrl returns the complete URL for the manifest file
func (s *SophonManifestInfo) ManifestFileUrl() string {
	return joinUrl(s.ManifestBaseUrl, s.ManifestId)
}

// CreateManifestInfo creates a new SophonManifestInfo instance
//
// Parameters:
//   - manifestBaseUrl: See the API section: manifest_download -> url_prefix
//   - manifestChecksumMd5: See the API section: manifest -> checksum
//   - manifestId: See the API section: manifest -> id
//   - isUseCompression: See the API section: manifest_download -> compression
//   - manifestSize: See the API section: stats -> uncompressed_size
//   - manifestCompressedSize: See the API section: stats -> compressed_size
func CreateManifestInfo(
	manifestBaseUrl string,
	manifestChecksumMd5 string,
	manifestId string,
	isUseCompression bool,
	manifestSize int64,
	manifestCompressedSize int64,
) *SophonManifestInfo {
	return &SophonManifestInfo{
		ManifestBaseUrl:        manifestBaseUrl,
		ManifestChecksumMd5:    manifestChecksumMd5,
		ManifestId:             manifestId,
		IsUseCompression:       isUseCompression,
		ManifestSize:           manifestSize,
		ManifestCompressedSize: manifestCompressedSize,
	}
}
