package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const patchTempExt = ".temp"

// patchStep is the outcome of running one patch method
type patchStep struct {
	// redispatch asks for the directive to run again under method
	redispatch bool
	method     SophonPatchMethod
}

var patchApplied = patchStep{}

func redispatchAs(method SophonPatchMethod) patchStep {
	return patchStep{redispatch: true, method: method}
}

// ApplyPatchUpdate brings the target of the directive up to date inside inputDir, reading
// patch blobs from patchDir. A target that already matches is left untouched.
// A failing Patch or CopyOver degrades the directive to DownloadOver and restarts it, up to
// MaxPatchRetry times.
func (asset *SophonPatchAsset) ApplyPatchUpdate(ctx context.Context, inputDir string, patchDir string, opts *SophonPatchOptions) error {
	opts = opts.withDefaults()
	if err := asset.Validate(); err != nil {
		return fmt.Errorf("%w: invalid patch directive: %v", ErrResourceMissing, err)
	}

	if asset.PatchMethod == Remove {
		return asset.performPatchAssetRemove(inputDir, opts)
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		step, err := asset.applyPatchMethod(ctx, inputDir, patchDir, opts)
		if err == nil {
			if !step.redispatch {
				return nil
			}
			PushLogDebug(opts.Logger, fmt.Sprintf("[Method: %s] Redispatching %s as %s",
				asset.PatchMethod, asset.TargetFilePath, step.method))
			asset.PatchMethod = step.method
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if asset.PatchMethod == DownloadOver && IsPermanent(err) {
			return err
		}

		attempts++
		if attempts > opts.MaxPatchRetry {
			return fmt.Errorf("%w after %d patch attempts for %s: %w", ErrRetryExhausted, attempts, asset.TargetFilePath, err)
		}
		PushLogWarning(opts.Logger, fmt.Sprintf("[Method: %s] Failed to update %s, retrying as DownloadOver (%d/%d): %v",
			asset.PatchMethod, asset.TargetFilePath, attempts, opts.MaxPatchRetry, err))
		asset.PatchMethod = DownloadOver
	}
}

// applyPatchMethod runs the current method once
func (asset *SophonPatchAsset) applyPatchMethod(ctx context.Context, inputDir string, patchDir string, opts *SophonPatchOptions) (patchStep, error) {
	if ok, err := asset.isTargetPatched(inputDir); err == nil && ok {
		PushLogDebug(opts.Logger, fmt.Sprintf("[Method: %s] Skipping %s, already up to date", asset.PatchMethod, asset.TargetFilePath))
		opts.diskWrite(asset.TargetFileSize)
		return patchApplied, nil
	}

	switch asset.PatchMethod {
	case DownloadOver:
		return patchApplied, asset.performPatchDownloadOver(ctx, inputDir, opts)
	case CopyOver:
		return asset.performPatchCopyOver(inputDir, patchDir, opts)
	case Patch:
		return asset.performPatchHDiff(ctx, inputDir, patchDir, opts)
	default:
		return patchApplied, fmt.Errorf("%w: patch method %s", ErrUnsupported, asset.PatchMethod)
	}
}

// isTargetPatched reports whether the target already has the expected size and hash
func (asset *SophonPatchAsset) isTargetPatched(inputDir string) (bool, error) {
	return asset.verifyLocalFile(filepath.Join(inputDir, asset.TargetFilePath), patchChunkFromTarget)
}

func (asset *SophonPatchAsset) verifyLocalFile(path string, source sophonPatchAssetChunkSource) (bool, error) {
	chunk, err := asset.asChunk(source)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if info.Size() != chunk.ChunkSizeDecompressed {
		return false, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	return HashVerifier{}.VerifyDecompressed(chunk, file)
}

// performPatchAssetRemove deletes the retired file when old assets are removed
func (asset *SophonPatchAsset) performPatchAssetRemove(inputDir string, opts *SophonPatchOptions) error {
	if !opts.RemoveOldAssets {
		return nil
	}

	originalFilePath := filepath.Join(inputDir, asset.OriginalFilePath)
	if _, err := os.Stat(originalFilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	UnassignReadOnlyFromFileInfo(originalFilePath)
	if err := os.Remove(originalFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		PushLogError(opts.Logger, fmt.Sprintf("An error has occurred while deleting old asset: %s | %v", originalFilePath, err))
		return err
	}

	PushLogDebug(opts.Logger, fmt.Sprintf("[Method: Remove] Removing asset file: %s is completed!", asset.OriginalFilePath))
	return nil
}

// performPatchDownloadOver downloads the whole target into a temporary file and swaps it in
func (asset *SophonPatchAsset) performPatchDownloadOver(ctx context.Context, inputDir string, opts *SophonPatchOptions) error {
	targetFilePath := filepath.Join(inputDir, asset.TargetFilePath)

	// the temporary file is discarded on failure, so its progress is taken back too
	var diskWritten, networkRead int64
	downloadOpts := opts.SophonDownloadOptions
	downloadOpts.WriteInfo = func(n int64) {
		diskWritten += n
		opts.diskWrite(n)
	}
	downloadOpts.DownloadInfo = func(downloadedBytes, _ int64) {
		networkRead += downloadedBytes
		opts.downloadRead(downloadedBytes)
	}
	downloadOpts.Complete = nil

	err := asset.writeTargetAtomic(targetFilePath, opts, func(tempFile *os.File) error {
		switch {
		case asset.DownloadOverAsset != nil:
			return asset.DownloadOverAsset.WriteToStream(ctx, tempFile, &downloadOpts)

		case asset.PatchInfo != nil && asset.TargetFileDownloadOverBaseUrl != "":
			info := asset.PatchInfo.CopyWithNewBaseUrl(asset.TargetFileDownloadOverBaseUrl)
			verify := func(view io.ReadSeeker) (bool, error) {
				chunk, err := asset.asChunk(patchChunkFromTarget)
				if err != nil {
					return false, err
				}
				return HashVerifier{}.VerifyDecompressed(chunk, view)
			}
			return fetchRawObject(ctx, info, nil, tempFile, asset.TargetFilePath, asset.TargetFileSize, verify, &downloadOpts)

		default:
			return fmt.Errorf("%w: no download source for %s", ErrResourceMissing, asset.TargetFilePath)
		}
	})
	if err != nil {
		opts.diskWrite(-diskWritten)
		opts.downloadRead(-networkRead)
	}
	return err
}

// performPatchCopyOver copies the patch slice as the new target. A slice holding an HDiff
// container is redispatched as a Patch against a blank original instead.
func (asset *SophonPatchAsset) performPatchCopyOver(inputDir string, patchDir string, opts *SophonPatchOptions) (patchStep, error) {
	blobFile, slice, err := asset.openPatchSlice(patchDir)
	if err != nil {
		return patchApplied, err
	}
	defer blobFile.Close()

	signature := make([]byte, len(hdiffSignature))
	if n, _ := io.ReadFull(slice, signature); n == len(signature) && string(signature) == hdiffSignature {
		PushLogDebug(opts.Logger, fmt.Sprintf("[Method: CopyOver] Patch slice of %s is an HDiff container, applying as Patch",
			asset.TargetFilePath))
		asset.isBlankOriginal = true
		return redispatchAs(Patch), nil
	}
	if _, err := slice.Seek(0, io.SeekStart); err != nil {
		return patchApplied, err
	}

	targetFilePath := filepath.Join(inputDir, asset.TargetFilePath)
	progress := &progressWriter{report: opts.diskWrite}
	err = asset.writeTargetAtomic(targetFilePath, opts, func(tempFile *os.File) error {
		progress.w = tempFile
		if _, err := io.Copy(progress, slice); err != nil {
			return fmt.Errorf("failed to copy patch slice: %w", err)
		}
		return nil
	})
	if err != nil {
		opts.diskWrite(-progress.written)
		return patchApplied, err
	}

	PushLogDebug(opts.Logger, fmt.Sprintf(
		"[Method: CopyOver] Writing target file: %s with offset: 0x%x and length: 0x%x from %s is completed!",
		asset.TargetFilePath, asset.PatchOffset, asset.PatchChunkLength, asset.PatchNameSource))
	return patchApplied, nil
}

// performPatchHDiff applies the binary delta slice to the original file
func (asset *SophonPatchAsset) performPatchHDiff(ctx context.Context, inputDir string, patchDir string, opts *SophonPatchOptions) (patchStep, error) {
	var originalFilePath string
	if asset.isBlankOriginal {
		blankPath, err := createBlankOriginal(patchDir)
		if err != nil {
			return patchApplied, err
		}
		defer os.Remove(blankPath)
		originalFilePath = blankPath
	} else {
		originalFilePath = filepath.Join(inputDir, asset.OriginalFilePath)
		if ok, err := asset.verifyLocalFile(originalFilePath, patchChunkFromOriginal); err != nil || !ok {
			PushLogWarning(opts.Logger, fmt.Sprintf("[Method: Patch] Original file %s is missing or mismatched, downloading %s instead",
				asset.OriginalFilePath, asset.TargetFilePath))
			return redispatchAs(DownloadOver), nil
		}
	}

	if opts.Patcher == nil {
		return patchApplied, fmt.Errorf("%w: no patcher configured", ErrPatcherUnavailable)
	}

	blobFile, slice, err := asset.openPatchSlice(patchDir)
	if err != nil {
		return patchApplied, err
	}
	defer blobFile.Close()

	targetFilePath := filepath.Join(inputDir, asset.TargetFilePath)
	err = asset.writeTargetAtomic(targetFilePath, opts, func(tempFile *os.File) error {
		tempFile.Close()
		return opts.Patcher.Apply(ctx, originalFilePath, slice, tempFile.Name())
	})
	if err != nil {
		PushLogDebug(opts.Logger, fmt.Sprintf("[Method: Patch] An error occurred while trying to perform patching on: %s -> %s | %v",
			asset.OriginalFilePath, asset.TargetFilePath, err))
		return patchApplied, err
	}

	opts.diskWrite(asset.TargetFileSize)
	PushLogDebug(opts.Logger, fmt.Sprintf(
		"[Method: Patch] Writing target file: %s with offset: 0x%x and length: 0x%x from %s is completed!",
		asset.TargetFilePath, asset.PatchOffset, asset.PatchChunkLength, asset.PatchNameSource))
	return patchApplied, nil
}

// writeTargetAtomic fills a uniquely named temporary file with write, checks it against the
// target hash and renames it over targetFilePath. The temporary file is removed on failure.
func (asset *SophonPatchAsset) writeTargetAtomic(targetFilePath string, opts *SophonPatchOptions, write func(tempFile *os.File) error) (err error) {
	if err := ensureParentDir(targetFilePath); err != nil {
		return fmt.Errorf("%w: failed to create target directory: %v", ErrDestination, err)
	}

	tempPath := fmt.Sprintf("%s_%s%s", targetFilePath, uuid.NewString(), patchTempExt)
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: failed to create temporary file: %v", ErrDestination, err)
	}
	defer func() {
		tempFile.Close()
		if err != nil {
			os.Remove(tempPath)
		}
	}()

	if err := write(tempFile); err != nil {
		return err
	}
	tempFile.Close()

	if asset.TargetFileHash != "" {
		ok, err := asset.verifyLocalFile(tempPath, patchChunkFromTarget)
		if err != nil {
			return fmt.Errorf("failed to verify %s: %w", asset.TargetFilePath, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s does not match its expected hash", ErrChunkCorrupted, asset.TargetFilePath)
		}
	}

	UnassignReadOnlyFromFileInfo(targetFilePath)
	if err := os.Rename(tempPath, targetFilePath); err != nil {
		return fmt.Errorf("%w: failed to rename temporary file: %v", ErrDestination, err)
	}

	PushLogDebug(opts.Logger, fmt.Sprintf("[Method: %s] Successfully updated file: %s", asset.PatchMethod, asset.TargetFilePath))
	return nil
}

// openPatchSlice opens the patch blob and bounds it to the slice of this directive
func (asset *SophonPatchAsset) openPatchSlice(patchDir string) (*os.File, *ChunkStream, error) {
	patchFilePath, err := resolvePatchFilePath(patchDir, asset.PatchNameSource)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(patchFilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to open patch file: %v", ErrResourceMissing, err)
	}

	slice, err := NewReadOnlyChunkStream(file, asset.PatchOffset, asset.PatchOffset+asset.PatchChunkLength, false)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("%w: patch file %s is too short: %v", ErrResourceMissing, patchFilePath, err)
	}
	return file, slice, nil
}

// resolvePatchFilePath looks for the patch blob under <patchDir>/ldiff, then patchDir,
// then as a path of its own
func resolvePatchFilePath(patchDir string, patchName string) (string, error) {
	candidates := []string{
		filepath.Join(patchDir, "ldiff", patchName),
		filepath.Join(patchDir, patchName),
		patchName,
	}
	for _, candidate := range candidates {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: required patch file: %s is not found", ErrResourceMissing, patchName)
}

// createBlankOriginal creates the empty stand-in original of a patch against nothing
func createBlankOriginal(dir string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf(".%s.blank", uuid.NewString()))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create blank original: %v", ErrDestination, err)
	}
	return path, file.Close()
}

// progressWriter reports and counts every successful write
type progressWriter struct {
	w       io.Writer
	report  func(n int64)
	written int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.written += int64(n)
		p.report(int64(n))
	}
	return n, err
}
