package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	updateTempExt   = "_tempUpdate"
	verifiedMarkExt = ".verified"
)

// updatePaths are the files touched while updating one asset
type updatePaths struct {
	oldPath     string
	newPath     string
	newTempPath string
	chunkDir    string
}

// WriteUpdate rebuilds the asset in newOutputDir from its previous version in oldInputDir.
// Every chunk is taken from the old file when it has an old reference, else from a staged
// chunk in chunkDir, else from the internet. The file is assembled as <name>_tempUpdate and
// renamed once complete, so an interrupted update resumes where it stopped.
func (asset *SophonAsset) WriteUpdate(
	ctx context.Context,
	oldInputDir string,
	newOutputDir string,
	chunkDir string,
	removeChunkAfterApply bool,
	opts *SophonDownloadOptions,
) error {
	opts = opts.withDefaults()
	paths, err := asset.prepareUpdate(oldInputDir, newOutputDir, chunkDir)
	if err != nil || paths == nil {
		return err
	}

	for _, chunk := range asset.Chunks {
		if err := asset.innerWriteUpdate(ctx, paths, chunk, removeChunkAfterApply, opts); err != nil {
			return err
		}
	}

	return asset.finishUpdate(paths, opts)
}

// WriteUpdateParallel is WriteUpdate with up to maxConcurrency chunk workers
func (asset *SophonAsset) WriteUpdateParallel(
	ctx context.Context,
	oldInputDir string,
	newOutputDir string,
	chunkDir string,
	removeChunkAfterApply bool,
	maxConcurrency int,
	opts *SophonDownloadOptions,
) error {
	opts = opts.withDefaults()
	paths, err := asset.prepareUpdate(oldInputDir, newOutputDir, chunkDir)
	if err != nil || paths == nil {
		return err
	}
	if maxConcurrency <= 0 {
		maxConcurrency = opts.Concurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, chunk := range asset.Chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return asset.innerWriteUpdate(gctx, paths, chunk, removeChunkAfterApply, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return asset.finishUpdate(paths, opts)
}

// prepareUpdate validates the directories and sizes the temporary file.
// Directory assets are created and yield nil paths.
func (asset *SophonAsset) prepareUpdate(oldInputDir, newOutputDir, chunkDir string) (*updatePaths, error) {
	for _, dir := range []string{oldInputDir, newOutputDir, chunkDir} {
		if err := EnsureOrThrowOutputDirectoryExistence(dir); err != nil {
			return nil, err
		}
	}

	newPath := filepath.Join(newOutputDir, asset.AssetName)
	if asset.IsDirectory {
		return nil, os.MkdirAll(newPath, 0755)
	}
	if err := EnsureOrThrowChunksState(asset); err != nil {
		return nil, err
	}

	paths := &updatePaths{
		oldPath:     filepath.Join(oldInputDir, asset.AssetName),
		newPath:     newPath,
		newTempPath: newPath + updateTempExt,
		chunkDir:    chunkDir,
	}

	if err := ensureParentDir(paths.newPath); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	UnassignReadOnlyFromFileInfo(paths.oldPath)
	UnassignReadOnlyFromFileInfo(paths.newPath)
	UnassignReadOnlyFromFileInfo(paths.newTempPath)

	tempFile, err := os.OpenFile(paths.newTempPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	defer tempFile.Close()
	if err := asset.prepareStream(tempFile); err != nil {
		return nil, err
	}

	return paths, nil
}

func (asset *SophonAsset) finishUpdate(paths *updatePaths, opts *SophonDownloadOptions) error {
	if err := os.Rename(paths.newTempPath, paths.newPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	PushLogInfo(opts.Logger, fmt.Sprintf("Asset: %s | (Hash: %s -> %d bytes) has been completely updated!",
		asset.AssetName, asset.AssetHash, asset.AssetSize))
	if opts.Complete != nil {
		opts.Complete(asset)
	}
	return nil
}

// innerWriteUpdate picks the source of one chunk and writes it into the temporary file
func (asset *SophonAsset) innerWriteUpdate(
	ctx context.Context,
	paths *updatePaths,
	chunk *SophonChunk,
	removeChunkAfterApply bool,
	opts *SophonDownloadOptions,
) error {
	var sourceStream io.ReadSeeker
	sourceType := Internet

	if inputFile := asset.openOldReference(paths.oldPath, chunk, opts); inputFile != nil {
		defer inputFile.Close()
		sourceStream, sourceType = inputFile, OldReference
	} else if cachedFile, cachedPath := asset.openStagedChunk(paths.chunkDir, chunk, opts); cachedFile != nil {
		defer func() {
			cachedFile.Close()
			if removeChunkAfterApply {
				os.Remove(cachedPath)
			}
		}()
		sourceStream, sourceType = cachedFile, CachedLocal
	}

	outputFile, err := os.OpenFile(paths.newTempPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer outputFile.Close()

	return asset.performWriteStreamThread(ctx, sourceStream, sourceType, outputFile, chunk, opts)
}

// openOldReference opens the previous version of the file when it covers the chunk's old range
func (asset *SophonAsset) openOldReference(oldPath string, chunk *SophonChunk, opts *SophonDownloadOptions) *os.File {
	if !chunk.HasOldReference() {
		return nil
	}

	info, err := os.Stat(oldPath)
	if err != nil || info.Size() < chunk.ChunkOldOffset+chunk.ChunkSizeDecompressed {
		return nil
	}

	file, err := os.Open(oldPath)
	if err != nil {
		return nil
	}

	PushLogDebug(opts.Logger, fmt.Sprintf("Using old file as reference at offset: 0x%x -> 0x%x for: %s",
		chunk.ChunkOldOffset, chunk.ChunkSizeDecompressed, asset.AssetName))
	return file
}

// openStagedChunk opens the preloaded copy of a chunk. A staged chunk of the wrong size is deleted.
func (asset *SophonAsset) openStagedChunk(chunkDir string, chunk *SophonChunk, opts *SophonDownloadOptions) (*os.File, string) {
	cachedChunkPath := filepath.Join(chunkDir, GetChunkStagingFilenameHash(chunk, asset))

	info, err := os.Stat(cachedChunkPath)
	if err != nil {
		return nil, ""
	}
	if info.Size() != chunk.ChunkSize {
		PushLogDebug(opts.Logger, fmt.Sprintf(
			"Cached/preloaded chunk has invalid size for: %s. Expecting: 0x%x but got: 0x%x instead. Falling back to download.",
			asset.AssetName, chunk.ChunkSize, info.Size()))
		if err := os.Remove(cachedChunkPath); err != nil {
			PushLogWarning(opts.Logger, fmt.Sprintf("Failed to remove invalid cached chunk: %v", err))
		}
		return nil, ""
	}

	file, err := os.Open(cachedChunkPath)
	if err != nil {
		return nil, ""
	}
	os.Remove(cachedChunkPath + verifiedMarkExt)

	PushLogDebug(opts.Logger, fmt.Sprintf("Using cached/preloaded chunk as reference at offset: 0x%x -> 0x%x for: %s",
		chunk.ChunkOffset, chunk.ChunkSizeDecompressed, asset.AssetName))
	return file, cachedChunkPath
}

// GetDownloadedPreloadSize sums the chunks of the asset that are already staged in chunkDir,
// either by their compressed or their decompressed size. A fully downloaded asset counts as 0.
func (asset *SophonAsset) GetDownloadedPreloadSize(ctx context.Context, chunkDir string, outputDir string, useCompressedSize bool) (int64, error) {
	if len(asset.Chunks) == 0 {
		return 0, nil
	}

	var assetDownloadedSize int64
	info, err := os.Stat(filepath.Join(outputDir, asset.AssetName))
	isAssetExist := err == nil
	if isAssetExist {
		assetDownloadedSize = info.Size()
	}

	getLength := func(chunk *SophonChunk) int64 {
		cachedInfo, err := os.Stat(filepath.Join(chunkDir, GetChunkStagingFilenameHash(chunk, asset)))
		if err != nil {
			return 0
		}
		if isAssetExist && assetDownloadedSize == asset.AssetSize {
			return 0
		}
		if cachedInfo.Size() > chunk.ChunkSize {
			return 0
		}
		if useCompressedSize {
			return chunk.ChunkSize
		}
		return chunk.ChunkSizeDecompressed
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency())

	const batch = 512
	for start := 0; start < len(asset.Chunks); start += batch {
		chunks := asset.Chunks[start:min(start+batch, len(asset.Chunks))]
		g.Go(func() error {
			var subtotal int64
			for _, chunk := range chunks {
				if err := gctx.Err(); err != nil {
					return err
				}
				subtotal += getLength(chunk)
			}
			total.Add(subtotal)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total.Load(), nil
}

// CarryOver places an asset identical in both versions into newOutputDir by hard-linking
// its previous version from oldInputDir, falling back to a copy across filesystems.
// Nothing is copied when both directories are the same or the file is already in place;
// the asset is reported as written either way.
func (asset *SophonAsset) CarryOver(oldInputDir, newOutputDir string, opts *SophonDownloadOptions) error {
	opts = opts.withDefaults()
	for _, dir := range []string{oldInputDir, newOutputDir} {
		if err := EnsureOrThrowOutputDirectoryExistence(dir); err != nil {
			return err
		}
	}
	newPath := filepath.Join(newOutputDir, asset.AssetName)
	if asset.IsDirectory {
		return os.MkdirAll(newPath, 0755)
	}
	if sameDirectory(oldInputDir, newOutputDir) {
		opts.reporter().add(asset.AssetSize, false)
		return nil
	}

	oldPath := filepath.Join(oldInputDir, asset.AssetName)
	oldInfo, err := os.Stat(oldPath)
	if err != nil || oldInfo.Size() != asset.AssetSize {
		return fmt.Errorf("%w: unchanged asset %s is missing from %s", ErrResourceMissing, asset.AssetName, oldInputDir)
	}
	if newInfo, err := os.Stat(newPath); err == nil {
		if os.SameFile(oldInfo, newInfo) || newInfo.Size() == asset.AssetSize {
			opts.reporter().add(asset.AssetSize, false)
			return nil
		}
		UnassignReadOnlyFromFileInfo(newPath)
		if err := os.Remove(newPath); err != nil {
			return fmt.Errorf("%w: failed to replace %s: %w", ErrDestination, newPath, err)
		}
	}
	if err := ensureParentDir(newPath); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.Link(oldPath, newPath); err != nil {
		PushLogDebug(opts.Logger, fmt.Sprintf("Hard link of %s failed, copying instead: %v", asset.AssetName, err))
		if err := copyFileAtomic(oldPath, newPath); err != nil {
			return fmt.Errorf("%w: failed to copy %s: %w", ErrDestination, asset.AssetName, err)
		}
	}

	opts.reporter().add(asset.AssetSize, false)
	PushLogDebug(opts.Logger, fmt.Sprintf("Asset: %s is unchanged and has been carried over", asset.AssetName))
	if opts.Complete != nil {
		opts.Complete(asset)
	}
	return nil
}

func sameDirectory(a, b string) bool {
	aInfo, errA := os.Stat(a)
	bInfo, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(aInfo, bInfo)
}

// copyFileAtomic copies src to <dst>_tempUpdate and renames it over dst
func copyFileAtomic(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tempPath := dst + updateTempExt
	out, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tempPath, dst)
}
