package internal

import (
	"context"
	"fmt"

	"github.com/riverfog7/SophonDelta/internal/protos"
)

// FetchPatchManifest downloads and decodes a patch manifest, retrying failed attempts
func FetchPatchManifest(ctx context.Context, manifestInfo *SophonManifestInfo, opts *SophonDownloadOptions) (*protos.SophonPatchProto, error) {
	opts = opts.withDefaults()
	return WaitForRetry(ctx, RetryPolicy{Logger: opts.Logger}, func(ctx context.Context) (*protos.SophonPatchProto, error) {
		var patchProto protos.SophonPatchProto
		if err := ReadProtoFromManifestInfo(ctx, opts.Client, manifestInfo, &patchProto); err != nil {
			return nil, fmt.Errorf("failed to read patch manifest proto: %w", err)
		}
		return &patchProto, nil
	})
}

// EnumeratePatch lists the directives updating an installation at versionTag to the build of
// patchPair. buildPair is optional: when given, every directive carries the full asset of the
// new build so it can fall back to DownloadOver.
func EnumeratePatch(
	ctx context.Context,
	patchPair *SophonChunkManifestInfoPair,
	versionTag string,
	buildPair *SophonChunkManifestInfoPair,
	opts *SophonDownloadOptions,
) ([]*SophonPatchAsset, error) {
	opts = opts.withDefaults()
	if patchPair == nil || !patchPair.IsFound {
		return nil, fmt.Errorf("%w: patch manifest info pair is not found", ErrResourceMissing)
	}

	patchProto, err := FetchPatchManifest(ctx, patchPair.ManifestInfo, opts)
	if err != nil {
		return nil, err
	}

	var buildAssets map[string]*SophonAsset
	if buildPair != nil && buildPair.IsFound {
		assets, err := collectAssets(ctx, buildPair, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate build manifest: %w", err)
		}
		buildAssets = make(map[string]*SophonAsset, len(assets))
		for _, asset := range assets {
			buildAssets[asset.AssetName] = asset
		}
	}

	directives := PatchProto2SophonPatchAssets(patchProto, versionTag, patchPair.ChunksInfo)
	for _, directive := range directives {
		if directive.PatchMethod == Remove {
			continue
		}
		if asset, ok := buildAssets[directive.TargetFilePath]; ok && !asset.IsDirectory {
			directive.DownloadOverAsset = asset
		}
	}

	PushLogDebug(opts.Logger, fmt.Sprintf("Patch manifest from version %s has %d directive(s)", versionTag, len(directives)))
	return directives, nil
}

// PatchProto2SophonPatchAssets converts the entries of a patch manifest for versionTag.
// Targets with a patch and an original file are patched, targets with a patch only are
// copied from the blob, targets without a patch for the version are downloaded whole and
// files retired by the version are removed unless they are also a target.
func PatchProto2SophonPatchAssets(patchProto *protos.SophonPatchProto, versionTag string, patchInfo *SophonChunksInfo) []*SophonPatchAsset {
	var directives []*SophonPatchAsset
	targets := make([]string, 0, len(patchProto.PatchAssets))

	for _, prop := range patchProto.PatchAssets {
		targets = append(targets, prop.AssetName)
		directive := &SophonPatchAsset{
			PatchInfo:      patchInfo,
			TargetFilePath: prop.AssetName,
			TargetFileHash: prop.AssetHashMd5,
			TargetFileSize: prop.AssetSize,
		}

		chunk := prop.InfoFor(versionTag)
		switch {
		case chunk == nil:
			directive.PatchMethod = DownloadOver
		case chunk.OriginalFileName != "":
			directive.PatchMethod = Patch
			directive.OriginalFilePath = chunk.OriginalFileName
			directive.OriginalFileHash = chunk.OriginalFileMd5
			directive.OriginalFileSize = chunk.OriginalFileLength
		default:
			directive.PatchMethod = CopyOver
		}

		if chunk != nil {
			directive.PatchNameSource = chunk.PatchName
			directive.PatchHash = chunk.PatchMd5
			directive.PatchOffset = chunk.PatchOffset
			directive.PatchSize = chunk.PatchSize
			directive.PatchChunkLength = chunk.PatchLength
		}
		directives = append(directives, directive)
	}

	targetSet := ToSet(targets)
	for _, unused := range patchProto.UnusedAssets {
		if unused.VersionTag != versionTag || unused.Assets == nil {
			continue
		}
		for _, file := range unused.Assets.Assets {
			if _, isTarget := targetSet[file.FileName]; isTarget {
				continue
			}
			directives = append(directives, &SophonPatchAsset{
				PatchMethod:      Remove,
				OriginalFilePath: file.FileName,
				OriginalFileHash: file.FileMd5,
				OriginalFileSize: file.FileSize,
			})
		}
	}

	return directives
}
