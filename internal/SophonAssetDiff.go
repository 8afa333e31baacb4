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

// DownloadDiffChunks stages the chunks of the asset that cannot be taken from the old file
// into chunkDirOutput, for a later WriteUpdate. Staged chunks are stored compressed as served
// and marked with a .verified file once checked; marked chunks are not hashed again unless
// forceVerification is set.
func (asset *SophonAsset) DownloadDiffChunks(
	ctx context.Context,
	chunkDirOutput string,
	maxConcurrency int,
	forceVerification bool,
	opts *SophonDownloadOptions,
) error {
	opts = opts.withDefaults()
	if asset.IsDirectory {
		return nil
	}
	if err := EnsureOrThrowChunksState(asset); err != nil {
		return err
	}
	if err := EnsureOrThrowOutputDirectoryExistence(chunkDirOutput); err != nil {
		return err
	}
	if maxConcurrency <= 0 {
		maxConcurrency = opts.Concurrency
	}

	queue := &diffChunkQueue{total: len(asset.Chunks)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, chunk := range asset.Chunks {
		if chunk.HasOldReference() {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return asset.performWriteDiffChunksThread(gctx, chunkDirOutput, chunk, forceVerification, queue, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	asset.complete(opts)
	return nil
}

// diffChunkQueue counts staged chunks for log lines
type diffChunkQueue struct {
	total    int
	position atomic.Int32
	inFlight atomic.Int32
}

// performWriteDiffChunksThread stages a single chunk
func (asset *SophonAsset) performWriteDiffChunksThread(
	ctx context.Context,
	chunkDirOutput string,
	chunk *SophonChunk,
	forceVerification bool,
	queue *diffChunkQueue,
	opts *SophonDownloadOptions,
) error {
	chunkFilePathHashed := filepath.Join(chunkDirOutput, GetChunkStagingFilenameHash(chunk, asset))
	chunkFileCheckedPath := chunkFilePathHashed + verifiedMarkExt

	position := queue.position.Add(1)
	inFlight := queue.inFlight.Add(1)
	defer queue.inFlight.Add(-1)

	if info, err := os.Stat(chunkFilePathHashed); err == nil {
		UnassignReadOnlyFromFileInfo(chunkFilePathHashed)

		if !forceVerification && info.Size() == chunk.ChunkSize && fileExists(chunkFileCheckedPath) {
			PushLogDebug(opts.Logger, fmt.Sprintf("[%d/%d Queue: %d] Skipping chunk 0x%x -> L: 0x%x for: %s",
				position, queue.total, inFlight, chunk.ChunkOffset, chunk.ChunkSizeDecompressed, asset.AssetName))
			if opts.WriteInfo != nil {
				opts.WriteInfo(chunk.ChunkSize)
			}
			if opts.DownloadInfo != nil {
				opts.DownloadInfo(chunk.ChunkSize, 0)
			}
			opts.chunkSkipped(asset.AssetName, chunk)
			return nil
		}
	}
	os.Remove(chunkFileCheckedPath)

	file, err := os.OpenFile(chunkFilePathHashed, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("%w: failed to open chunk file: %v", ErrResourceMissing, err)
	}
	defer file.Close()

	verifier := HashVerifier{IsUseCompression: asset.isUseCompression()}
	verify := func(view io.ReadSeeker) (bool, error) {
		return verifier.Verify(chunk, view, false)
	}

	err = fetchRawObject(ctx, asset.SophonChunksInfo, asset.SophonChunksInfoAlt, file, chunk.ChunkName, chunk.ChunkSize, verify, opts)
	if err != nil {
		return err
	}

	marker, err := os.Create(chunkFileCheckedPath)
	if err != nil {
		PushLogWarning(opts.Logger, fmt.Sprintf("Failed to create verification marker for chunk: %s | %v", chunk.ChunkName, err))
		return nil
	}
	return marker.Close()
}
