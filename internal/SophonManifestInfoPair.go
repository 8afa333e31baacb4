package internal

import (
	"fmt"
	"net/http"
)

// SophonChunkManifestInfoPair couples a manifest with the location of its chunks
type SophonChunkManifestInfoPair struct {
	ChunksInfo           *SophonChunksInfo
	ManifestInfo         *SophonManifestInfo
	OtherSophonBuildData *SophonManifestBuildData
	OtherSophonPatchData *SophonManifestPatchData
	IsFound              bool
	ReturnCode           int
	ReturnMessage        string
}

func notFoundPair(format string, args ...any) *SophonChunkManifestInfoPair {
	return &SophonChunkManifestInfoPair{
		ReturnCode:    http.StatusNotFound,
		ReturnMessage: fmt.Sprintf(format, args...),
	}
}

func manifestInfoFromIdentity(identity *SophonManifestIdentity) *SophonManifestInfo {
	return CreateManifestInfo(
		identity.ManifestUrlInfo.UrlPrefix,
		identity.ManifestFileInfo.Checksum,
		identity.ManifestFileInfo.FileName,
		bool(identity.ManifestUrlInfo.IsCompressed),
		identity.ManifestFileInfo.UncompressedSize,
		identity.ManifestFileInfo.CompressedSize,
	)
}

// GetOtherManifestInfoPair returns the build manifest of another category (e.g. an audio language)
func (p *SophonChunkManifestInfoPair) GetOtherManifestInfoPair(matchingField string) (*SophonChunkManifestInfoPair, error) {
	if p.OtherSophonBuildData == nil {
		return nil, fmt.Errorf("%w: pair carries no build data", ErrResourceMissing)
	}
	if matchingField == "" {
		matchingField = DefaultMatchingField
	}

	for i := range p.OtherSophonBuildData.ManifestIdentityList {
		identity := &p.OtherSophonBuildData.ManifestIdentityList[i]
		if identity.MatchingField != matchingField {
			continue
		}

		return &SophonChunkManifestInfoPair{
			ChunksInfo: CreateChunksInfo(
				identity.ChunksUrlInfo.UrlPrefix,
				identity.ChunkInfo.ChunkCount,
				identity.ChunkInfo.FileCount,
				bool(identity.ChunksUrlInfo.IsCompressed),
				identity.ChunkInfo.UncompressedSize,
				identity.ChunkInfo.CompressedSize,
			),
			ManifestInfo:         manifestInfoFromIdentity(&identity.SophonManifestIdentity),
			OtherSophonBuildData: p.OtherSophonBuildData,
			OtherSophonPatchData: p.OtherSophonPatchData,
			IsFound:              true,
		}, nil
	}

	return notFoundPair("Sophon manifest with matching field: %s is not found!", matchingField), nil
}

// GetOtherPatchInfoPair returns the patch manifest of a category for the given source version
func (p *SophonChunkManifestInfoPair) GetOtherPatchInfoPair(matchingField string, versionUpdateFrom string) (*SophonChunkManifestInfoPair, error) {
	if p.OtherSophonPatchData == nil {
		return nil, fmt.Errorf("%w: pair carries no patch data", ErrResourceMissing)
	}
	if matchingField == "" {
		matchingField = DefaultMatchingField
	}

	for i := range p.OtherSophonPatchData.ManifestIdentityList {
		identity := &p.OtherSophonPatchData.ManifestIdentityList[i]
		if identity.MatchingField != matchingField {
			continue
		}

		chunkInfo, ok := identity.DiffTaggedInfo[versionUpdateFrom]
		if !ok {
			return notFoundPair("Sophon patch diff tagged info with version: %s is not found!", versionUpdateFrom), nil
		}

		return &SophonChunkManifestInfoPair{
			ChunksInfo: CreateChunksInfo(
				identity.DiffUrlInfo.UrlPrefix,
				chunkInfo.ChunkCount,
				chunkInfo.FileCount,
				bool(identity.DiffUrlInfo.IsCompressed),
				chunkInfo.UncompressedSize,
				chunkInfo.CompressedSize,
			),
			ManifestInfo:         manifestInfoFromIdentity(&identity.SophonManifestIdentity),
			OtherSophonBuildData: p.OtherSophonBuildData,
			OtherSophonPatchData: p.OtherSophonPatchData,
			IsFound:              true,
		}, nil
	}

	return notFoundPair("Sophon patch with matching field: %s is not found!", matchingField), nil
}
