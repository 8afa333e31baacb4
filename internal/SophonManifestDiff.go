package internal

import (
	"context"
	"fmt"
)

// ResolveChunkDiff matches the chunks of a new file version against the old version by
// content hash and returns copies of newChunks whose ChunkOldOffset points into the old
// file where possible (-1 otherwise), together with the number of matches.
// When the old file holds the same content twice, the first occurrence wins.
func ResolveChunkDiff(oldChunks, newChunks []*SophonChunk, logger Logger) ([]*SophonChunk, int) {
	oldIndex := make(map[string]int64, len(oldChunks))
	for _, chunk := range oldChunks {
		key := string(chunk.ChunkHashDecompressed)
		if offset, exists := oldIndex[key]; exists {
			PushLogWarning(logger, fmt.Sprintf("Duplicate chunk hash %s at old offset 0x%x, keeping offset 0x%x",
				BytesToHex(chunk.ChunkHashDecompressed), chunk.ChunkOffset, offset))
			continue
		}
		oldIndex[key] = chunk.ChunkOffset
	}

	resolved := make([]*SophonChunk, len(newChunks))
	hits := 0
	for i, chunk := range newChunks {
		copied := *chunk
		copied.ChunkOldOffset = -1
		if offset, ok := oldIndex[string(chunk.ChunkHashDecompressed)]; ok {
			copied.ChunkOldOffset = offset
			hits++
		}
		resolved[i] = &copied
	}

	return resolved, hits
}

// DiffAsset returns a copy of newAsset whose chunks reference oldAsset where the content matches
func DiffAsset(oldAsset, newAsset *SophonAsset, logger Logger) *SophonAsset {
	diffed := *newAsset
	if newAsset.IsDirectory {
		return &diffed
	}

	var oldChunks []*SophonChunk
	if oldAsset != nil && !oldAsset.IsDirectory {
		oldChunks = oldAsset.Chunks
	}

	chunks, hits := ResolveChunkDiff(oldChunks, newAsset.Chunks, logger)
	diffed.Chunks = chunks
	diffed.IsHasPatch = hits > 0

	PushLogDebug(logger, fmt.Sprintf("Asset: %s | %d/%d chunk(s) reusable from the old file",
		newAsset.AssetName, hits, len(chunks)))
	return &diffed
}

// DiffAssets lists the assets of the new version that are new or changed, with their
// chunks resolved against the old version of the same file
func DiffAssets(oldAssets, newAssets []*SophonAsset, logger Logger) []*SophonAsset {
	updated, _ := SplitAssets(oldAssets, newAssets, logger)
	return updated
}

// SplitAssets partitions the assets of the new version into the ones that are new or
// changed, diffed as DiffAssets does, and the ones identical to the old version
func SplitAssets(oldAssets, newAssets []*SophonAsset, logger Logger) (updated, unchanged []*SophonAsset) {
	oldByName := make(map[string]*SophonAsset, len(oldAssets))
	for _, asset := range oldAssets {
		oldByName[asset.AssetName] = asset
	}

	for _, newAsset := range newAssets {
		oldAsset, exists := oldByName[newAsset.AssetName]
		if exists && oldAsset.IsDirectory == newAsset.IsDirectory &&
			oldAsset.AssetHash == newAsset.AssetHash && oldAsset.AssetSize == newAsset.AssetSize {
			unchanged = append(unchanged, newAsset)
			continue
		}
		updated = append(updated, DiffAsset(oldAsset, newAsset, logger))
	}
	return updated, unchanged
}

// CollectUpdate fetches the manifests of both versions and splits the new version with
// SplitAssets
func CollectUpdate(ctx context.Context, oldPair, newPair *SophonChunkManifestInfoPair, opts *SophonDownloadOptions) (updated, unchanged []*SophonAsset, err error) {
	opts = opts.withDefaults()
	if oldPair == nil || !oldPair.IsFound || newPair == nil || !newPair.IsFound {
		return nil, nil, fmt.Errorf("%w: manifest info pair is not found", ErrResourceMissing)
	}

	oldAssets, err := collectAssets(ctx, oldPair, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to enumerate old manifest: %w", err)
	}
	newAssets, err := collectAssets(ctx, newPair, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to enumerate new manifest: %w", err)
	}

	updated, unchanged = SplitAssets(oldAssets, newAssets, opts.Logger)
	return updated, unchanged, nil
}

// EnumerateUpdate fetches the manifests of both versions and yields the new or changed
// assets of the new version, ready for WriteUpdate. Unchanged assets are not yielded:
// an update into another directory needs CollectUpdate and SophonAsset.CarryOver.
//
// The channel is closed once every asset is sent or ctx is done. A consumer that stops
// receiving early must cancel ctx, or the producing goroutine is never released.
func EnumerateUpdate(ctx context.Context, oldPair, newPair *SophonChunkManifestInfoPair, opts *SophonDownloadOptions) (<-chan *SophonAsset, error) {
	updated, _, err := CollectUpdate(ctx, oldPair, newPair, opts)
	if err != nil {
		return nil, err
	}

	assetChan := make(chan *SophonAsset)
	go func() {
		defer close(assetChan)
		for _, asset := range updated {
			select {
			case <-ctx.Done():
				return
			case assetChan <- asset:
			}
		}
	}()
	return assetChan, nil
}

func collectAssets(ctx context.Context, pair *SophonChunkManifestInfoPair, opts *SophonDownloadOptions) ([]*SophonAsset, error) {
	manifest, err := FetchManifest(ctx, pair.ManifestInfo, opts)
	if err != nil {
		return nil, err
	}
	assets := make([]*SophonAsset, 0, len(manifest.Assets))
	for _, asset := range manifest.Assets {
		assets = append(assets, AssetProperty2SophonAsset(asset, pair.ChunksInfo))
	}
	return assets, nil
}
