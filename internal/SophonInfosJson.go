package internal

// SophonManifestBuildBranch is the getBuild response of the branch API
type SophonManifestBuildBranch struct {
	Data *SophonManifestBuildData `json:"data"`
	SophonManifestReturnedResponse
}

// SophonManifestBuildData lists the manifests of one build
type SophonManifestBuildData struct {
	ManifestIdentityList []SophonManifestBuildIdentity `json:"manifests"`
	SophonTaggedResponse
}

// SophonManifestBuildIdentity is one category (game, audio language...) of a build
type SophonManifestBuildIdentity struct {
	SophonManifestIdentity
	ChunkInfo             SophonManifestChunkInfo `json:"stats"`
	ChunksUrlInfo         SophonManifestUrlInfo   `json:"chunk_download"`
	DeduplicatedChunkInfo SophonManifestChunkInfo `json:"deduplicated_stats"`
}

// SophonManifestPatchBranch is the getPatchBuild response of the branch API
type SophonManifestPatchBranch struct {
	Data *SophonManifestPatchData `json:"data"`
	SophonManifestReturnedResponse
}

// SophonManifestPatchData lists the patch manifests of one build
type SophonManifestPatchData struct {
	PatchId              string                        `json:"patch_id"`
	ManifestIdentityList []SophonManifestPatchIdentity `json:"manifests"`
	SophonTaggedResponse
}

// SophonManifestPatchIdentity is one category of a patch build, stats are keyed by the source version tag
type SophonManifestPatchIdentity struct {
	SophonManifestIdentity
	DiffUrlInfo    SophonManifestUrlInfo              `json:"diff_download"`
	DiffTaggedInfo map[string]SophonManifestChunkInfo `json:"stats"`
}

type SophonManifestReturnedResponse struct {
	ReturnCode    int    `json:"retcode"`
	ReturnMessage string `json:"message"`
}

type SophonTaggedResponse struct {
	BuildId string `json:"build_id"`
	TagName string `json:"tag"`
}

type SophonManifestIdentity struct {
	CategoryId       int                    `json:"category_id,string"`
	CategoryName     string                 `json:"category_name"`
	MatchingField    string                 `json:"matching_field"`
	ManifestFileInfo SophonManifestFileInfo `json:"manifest"`
	ManifestUrlInfo  SophonManifestUrlInfo  `json:"manifest_download"`
}

type SophonManifestFileInfo struct {
	FileName         string `json:"id"`
	Checksum         string `json:"checksum"`
	CompressedSize   int64  `json:"compressed_size,string"`
	UncompressedSize int64  `json:"uncompressed_size,string"`
}

// SophonManifestUrlInfo carries a download prefix. The API encodes its flags either as
// booleans or as 0/1 numbers, hence the BoolConverter fields.
type SophonManifestUrlInfo struct {
	EncryptionPassword string        `json:"password"`
	UrlPrefix          string        `json:"url_prefix"`
	UrlSuffix          string        `json:"url_suffix"`
	IsEncrypted        BoolConverter `json:"encryption"`
	IsCompressed       BoolConverter `json:"compression"`
}

type SophonManifestChunkInfo struct {
	CompressedSize   int64 `json:"compressed_size,string"`
	UncompressedSize int64 `json:"uncompressed_size,string"`
	FileCount        int   `json:"file_count,string"`
	ChunkCount       int   `json:"chunk_count,string"`
}
