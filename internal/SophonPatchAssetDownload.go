package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// DownloadPatch downloads the patch blob used by the directive into patchOutputDir.
// Remove and DownloadOver directives use no blob. A blob of the expected size is kept
// as is unless forceVerification is set, in which case it is hashed first.
func (asset *SophonPatchAsset) DownloadPatch(ctx context.Context, patchOutputDir string, forceVerification bool, opts *SophonPatchOptions) error {
	opts = opts.withDefaults()
	if asset.PatchMethod == Remove || asset.PatchMethod == DownloadOver {
		return nil
	}
	if asset.PatchInfo == nil {
		return fmt.Errorf("%w: directive for %s has no patch source", ErrResourceMissing, asset.TargetFilePath)
	}

	patchFilePath := filepath.Join(patchOutputDir, asset.PatchNameSource)
	if err := ensureParentDir(patchFilePath); err != nil {
		return fmt.Errorf("%w: failed to create patch directory: %v", ErrDestination, err)
	}
	UnassignReadOnlyFromFileInfo(patchFilePath)

	if info, err := os.Stat(patchFilePath); err == nil && !forceVerification && info.Size() == asset.PatchSize {
		PushLogDebug(opts.Logger, fmt.Sprintf("Skipping patch %s for: %s", asset.PatchNameSource, asset.TargetFilePath))
		opts.downloadRead(asset.PatchSize)
		return nil
	}

	file, err := os.OpenFile(patchFilePath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("%w: failed to open patch file: %v", ErrDestination, err)
	}
	defer file.Close()

	downloadOpts := opts.SophonDownloadOptions
	downloadOpts.WriteInfo = nil
	downloadOpts.DownloadInfo = func(_, diskWriteBytes int64) { opts.downloadRead(diskWriteBytes) }

	return fetchRawObject(ctx, asset.PatchInfo, nil, file, asset.PatchNameSource, asset.PatchSize, asset.verifyPatchBlob, &downloadOpts)
}

// verifyPatchBlob checks a patch blob against the XXH64 digest in its name, or its MD5
func (asset *SophonPatchAsset) verifyPatchBlob(view io.ReadSeeker) (bool, error) {
	chunk, err := asset.asChunk(patchChunkFromPatch)
	if err != nil {
		return false, err
	}
	return HashVerifier{}.Verify(chunk, view, false)
}

// DownloadPatches downloads the blobs of a batch of directives with up to maxConcurrency
// workers. Directives sharing a blob download it once.
func DownloadPatches(ctx context.Context, assets []*SophonPatchAsset, patchOutputDir string, forceVerification bool, maxConcurrency int, opts *SophonPatchOptions) error {
	opts = opts.withDefaults()
	if err := EnsureOrThrowOutputDirectoryExistence(patchOutputDir); err != nil {
		return err
	}
	if maxConcurrency <= 0 {
		maxConcurrency = opts.Concurrency
	}

	seen := make(map[string]struct{}, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, asset := range assets {
		if asset.PatchMethod == Remove || asset.PatchMethod == DownloadOver {
			continue
		}
		if _, ok := seen[asset.PatchNameSource]; ok {
			continue
		}
		seen[asset.PatchNameSource] = struct{}{}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return asset.DownloadPatch(gctx, patchOutputDir, forceVerification, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyPatchUpdates applies a batch of directives with up to maxConcurrency workers.
// Failed removals are logged and do not stop the batch.
func ApplyPatchUpdates(ctx context.Context, assets []*SophonPatchAsset, inputDir string, patchDir string, maxConcurrency int, opts *SophonPatchOptions) error {
	opts = opts.withDefaults()
	if err := EnsureOrThrowOutputDirectoryExistence(inputDir); err != nil {
		return err
	}
	if maxConcurrency <= 0 {
		maxConcurrency = opts.Concurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, asset := range assets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := asset.ApplyPatchUpdate(gctx, inputDir, patchDir, opts)
			if err != nil && asset.PatchMethod == Remove && !errors.Is(err, context.Canceled) {
				PushLogWarning(opts.Logger, fmt.Sprintf("Failed to remove %s: %v", asset.OriginalFilePath, err))
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
