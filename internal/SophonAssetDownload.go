package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// SourceStreamType indicates where the data of a chunk is being sourced from
type SourceStreamType int

const (
	Internet SourceStreamType = iota
	CachedLocal
	OldReference
)

func (t SourceStreamType) String() string {
	switch t {
	case Internet:
		return "Internet"
	case CachedLocal:
		return "CachedLocal"
	case OldReference:
		return "OldReference"
	default:
		return fmt.Sprintf("SourceStreamType(%d)", int(t))
	}
}

// StreamFactory opens an independent handle on the destination of an asset
type StreamFactory func() (io.ReadWriteSeeker, error)

// WriteToStream downloads the chunks of the asset one by one into outStream.
// Chunks already present and valid in outStream are skipped.
func (asset *SophonAsset) WriteToStream(ctx context.Context, outStream io.ReadWriteSeeker, opts *SophonDownloadOptions) error {
	opts = opts.withDefaults()
	if asset.IsDirectory {
		asset.complete(opts)
		return nil
	}
	if err := EnsureOrThrowChunksState(asset); err != nil {
		return err
	}
	if outStream == nil {
		return fmt.Errorf("%w: output stream cannot be nil", ErrResourceMissing)
	}

	if err := asset.prepareStream(outStream); err != nil {
		return err
	}

	for _, chunk := range asset.Chunks {
		if err := asset.performWriteStreamThread(ctx, nil, Internet, outStream, chunk, opts); err != nil {
			return err
		}
	}

	asset.complete(opts)
	return nil
}

// WriteToStreamParallel downloads the chunks of the asset with up to maxConcurrency workers.
// Every worker opens its own destination handle through streamFactory.
// The first failing chunk cancels the others and its error is returned.
func (asset *SophonAsset) WriteToStreamParallel(ctx context.Context, streamFactory StreamFactory, maxConcurrency int, opts *SophonDownloadOptions) error {
	opts = opts.withDefaults()
	if asset.IsDirectory {
		asset.complete(opts)
		return nil
	}
	if err := EnsureOrThrowChunksState(asset); err != nil {
		return err
	}
	if maxConcurrency <= 0 {
		maxConcurrency = opts.Concurrency
	}

	initStream, err := streamFactory()
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	err = asset.prepareStream(initStream)
	closeStream(initStream)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, chunk := range asset.Chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			stream, err := streamFactory()
			if err != nil {
				return fmt.Errorf("failed to open output stream: %w", err)
			}
			defer closeStream(stream)

			return asset.performWriteStreamThread(gctx, nil, Internet, stream, chunk, opts)
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

func (asset *SophonAsset) complete(opts *SophonDownloadOptions) {
	PushLogInfo(opts.Logger, fmt.Sprintf("Asset: %s | (Hash: %s -> %d bytes) has been completely downloaded!",
		asset.AssetName, asset.AssetHash, asset.AssetSize))
	if opts.Complete != nil {
		opts.Complete(asset)
	}
}

// prepareStream cuts a destination that is larger than the asset
func (asset *SophonAsset) prepareStream(outStream io.ReadWriteSeeker) error {
	currentSize, err := outStream.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to determine stream size: %w", err)
	}
	if currentSize > asset.AssetSize {
		return setStreamLength(outStream, asset.AssetSize)
	}
	return nil
}

// performWriteStreamThread writes a single chunk unless the destination already holds it.
// The destination range of the chunk is locked while it is checked and written.
func (asset *SophonAsset) performWriteStreamThread(
	ctx context.Context,
	sourceStream io.ReadSeeker,
	sourceType SourceStreamType,
	outStream io.ReadWriteSeeker,
	chunk *SophonChunk,
	opts *SophonDownloadOptions,
) error {
	if file, ok := outStream.(*os.File); ok && chunk.ChunkSizeDecompressed > 0 {
		unlock, err := lockFileRange(ctx, file, chunk.ChunkOffset, chunk.ChunkSizeDecompressed)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return asset.chunkError(chunk, fmt.Errorf("%w: failed to lock range: %v", ErrDestination, err))
		}
		defer unlock()
	}

	isSkipChunk, err := asset.isChunkWritten(outStream, chunk)
	if err != nil {
		return asset.chunkError(chunk, err)
	}

	if isSkipChunk {
		PushLogDebug(opts.Logger, fmt.Sprintf("Skipping chunk 0x%x -> L: 0x%x for: %s",
			chunk.ChunkOffset, chunk.ChunkSizeDecompressed, asset.AssetName))

		if opts.WriteInfo != nil {
			opts.WriteInfo(chunk.ChunkSizeDecompressed)
		}
		if opts.DownloadInfo != nil {
			var fromNetwork int64
			if !chunk.HasOldReference() {
				fromNetwork = chunk.ChunkSizeDecompressed
			}
			opts.DownloadInfo(fromNetwork, chunk.ChunkSizeDecompressed)
		}
		opts.chunkSkipped(asset.AssetName, chunk)
		return nil
	}

	return asset.innerWriteStreamTo(ctx, sourceStream, sourceType, outStream, chunk, opts)
}

// isChunkWritten reports whether the destination range already holds the chunk
func (asset *SophonAsset) isChunkWritten(outStream io.ReadWriteSeeker, chunk *SophonChunk) (bool, error) {
	currentSize, err := outStream.Seek(0, io.SeekEnd)
	if err != nil {
		return false, fmt.Errorf("%w: failed to seek: %v", ErrDestination, err)
	}
	if currentSize < chunk.end() {
		return false, nil
	}

	view, err := NewChunkStream(outStream, chunk.ChunkOffset, chunk.end(), false)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDestination, err)
	}
	return HashVerifier{}.VerifyDecompressed(chunk, view)
}

// innerWriteStreamTo runs the fetch state machine of one chunk: every attempt streams the
// chunk from its source into the destination range, hashing it on the fly.
// A corrupted or truncated attempt is retried from the internet at once, a failing one
// after RetryDelay. Progress reported by a failed attempt is rolled back exactly.
func (asset *SophonAsset) innerWriteStreamTo(
	ctx context.Context,
	sourceStream io.ReadSeeker,
	sourceType SourceStreamType,
	outStream io.ReadWriteSeeker,
	chunk *SophonChunk,
	opts *SophonDownloadOptions,
) error {
	if sourceType != Internet && sourceStream == nil {
		return asset.chunkError(chunk, fmt.Errorf("%w: source stream cannot be nil under %s mode", ErrResourceMissing, sourceType))
	}
	if sourceType == OldReference && !chunk.HasOldReference() {
		return asset.chunkError(chunk, fmt.Errorf("%w: OldReference cannot be used if chunk does not have chunk old offset reference", ErrResourceMissing))
	}
	if sourceType == Internet && asset.SophonChunksInfo == nil {
		return asset.chunkError(chunk, fmt.Errorf("%w: asset has no chunk source", ErrResourceMissing))
	}

	fetch := &chunkFetch{
		asset:    asset,
		chunk:    chunk,
		opts:     opts,
		progress: opts.reporter(),
		buffer:   make([]byte, min(int64(opts.BufferSize), max(chunk.ChunkSizeDecompressed, 1))),
	}
	return fetch.run(ctx, sourceType, sourceStream, outStream)
}

func (asset *SophonAsset) chunkError(chunk *SophonChunk, err error) error {
	return &ChunkError{
		AssetName: asset.AssetName,
		ChunkName: chunk.ChunkName,
		Offset:    chunk.ChunkOffset,
		Size:      chunk.ChunkSizeDecompressed,
		Err:       err,
	}
}

// chunkFetch holds the state shared by the attempts of one chunk
type chunkFetch struct {
	asset    *SophonAsset
	chunk    *SophonChunk
	opts     *SophonDownloadOptions
	progress *progressReporter
	limiter  RateLimiter
	buffer   []byte

	// verify replaces the rolling digest check for objects stored as served
	verify func(view io.ReadSeeker) (bool, error)
}

// run retries attempts until the chunk is written or a budget is exhausted
func (f *chunkFetch) run(ctx context.Context, sourceType SourceStreamType, sourceStream io.ReadSeeker, outStream io.ReadWriteSeeker) error {
	asset, chunk, opts := f.asset, f.chunk, f.opts
	defer f.closeLimiter()

	currentRetry, currentCorrupt := 0, 0
	for {
		PushLogDebug(opts.Logger, fmt.Sprintf("Init. by offset: 0x%x -> L: 0x%x for chunk: %s from: %s",
			chunk.ChunkOffset, chunk.ChunkSizeDecompressed, chunk.ChunkName, sourceType))

		err := f.attempt(ctx, sourceType, sourceStream, outStream)
		if err == nil {
			PushLogDebug(opts.Logger, fmt.Sprintf("Download completed! Chunk: %s | 0x%x -> L: 0x%x for: %s",
				chunk.ChunkName, chunk.ChunkOffset, chunk.ChunkSizeDecompressed, asset.AssetName))
			opts.chunkCompleted(asset.AssetName, chunk, sourceType)
			return nil
		}

		f.progress.rollback()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		switch {
		case errors.Is(err, ErrChunkCorrupted), errors.Is(err, ErrChunkTruncated):
			currentCorrupt++
			opts.chunkCorrupted(asset.AssetName, chunk, sourceType)
			if currentCorrupt > opts.CorruptRetryCount {
				return asset.chunkError(chunk, fmt.Errorf("%w after %d corrupted attempts: %w", ErrRetryExhausted, currentCorrupt, err))
			}
			PushLogWarning(opts.Logger, fmt.Sprintf("Source data from type: %s is corrupted. Retrying for chunk: %s | %v",
				sourceType, chunk.ChunkName, err))

		case IsPermanent(err):
			return asset.chunkError(chunk, err)

		default:
			currentRetry++
			if currentRetry > opts.RetryCount {
				return asset.chunkError(chunk, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, opts.RetryCount, err))
			}
			opts.chunkRetried(asset.AssetName, chunk, err)
			PushLogWarning(opts.Logger, fmt.Sprintf("Error downloading chunk: %s | Retry %d/%d: %v",
				chunk.ChunkName, currentRetry, opts.RetryCount, err))

			if err := sleepContext(ctx, opts.RetryDelay); err != nil {
				return err
			}
		}

		sourceType = Internet
	}
}

func (f *chunkFetch) closeLimiter() {
	if f.limiter != nil {
		f.limiter.Close()
	}
}

// attempt performs one complete read of the chunk. The read timeout slides: it is
// re-armed after every successful read and paused while throttled.
func (f *chunkFetch) attempt(ctx context.Context, sourceType SourceStreamType, sourceStream io.ReadSeeker, outStream io.ReadWriteSeeker) error {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timer := time.AfterFunc(f.opts.ReadTimeout, func() { cancel(ErrReadTimeout) })
	defer timer.Stop()

	reader, closeSource, err := f.openSource(attemptCtx, sourceType, sourceStream)
	if err != nil {
		return attemptError(attemptCtx, err)
	}
	defer closeSource()

	if sourceType == Internet && f.limiter == nil {
		f.limiter = f.opts.chunkLimiter()
	}

	dst, err := NewChunkStream(outStream, f.chunk.ChunkOffset, f.chunk.end(), false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDestination, err)
	}

	hash := newDecompressedDigest(f.chunk)
	remain := f.chunk.ChunkSizeDecompressed
	for remain > 0 {
		if attemptCtx.Err() != nil {
			return attemptError(attemptCtx, attemptCtx.Err())
		}

		toRead := min(remain, int64(len(f.buffer)))
		read, readErr := io.ReadFull(reader, f.buffer[:toRead])
		if read > 0 {
			timer.Reset(f.opts.ReadTimeout)

			written, err := dst.Write(f.buffer[:read])
			if err == nil && written < read {
				err = io.ErrShortWrite
			}
			if err != nil {
				return fmt.Errorf("%w: failed to write to output stream: %v", ErrDestination, err)
			}

			hash.Write(f.buffer[:read])
			remain -= int64(read)
			f.progress.add(int64(read), sourceType == Internet)

			if f.limiter != nil && sourceType == Internet {
				if wait := f.limiter.TryConsume(int64(read)); wait > 0 {
					timer.Stop()
					if err := sleepContext(ctx, wait); err != nil {
						return err
					}
					timer.Reset(f.opts.ReadTimeout)
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				if remain > 0 {
					return fmt.Errorf("%w: chunk has remained data while read is 0: %d bytes left", ErrChunkTruncated, remain)
				}
				break
			}
			return attemptError(attemptCtx, readErr)
		}
	}

	if f.verify != nil {
		ok, err := f.verify(dst)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDestination, err)
		}
		if !ok {
			return ErrChunkCorrupted
		}
		return nil
	}
	if !matchesDigest(f.chunk, hash) {
		return ErrChunkCorrupted
	}
	return nil
}

// openSource positions the chunk source and wraps it with a decompressor when needed
func (f *chunkFetch) openSource(ctx context.Context, sourceType SourceStreamType, sourceStream io.ReadSeeker) (io.Reader, func(), error) {
	var reader io.Reader
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch sourceType {
	case Internet:
		stream, err := openChunkSource(ctx, f.opts.Client, f.chunk.ChunkName, f.asset.SophonChunksInfo, f.asset.SophonChunksInfoAlt)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { stream.Close() })
		reader = stream

	case CachedLocal:
		if _, err := sourceStream.Seek(0, io.SeekStart); err != nil {
			return nil, nil, fmt.Errorf("%w: failed to seek cached chunk: %v", ErrResourceMissing, err)
		}
		reader = sourceStream

	case OldReference:
		if _, err := sourceStream.Seek(f.chunk.ChunkOldOffset, io.SeekStart); err != nil {
			return nil, nil, fmt.Errorf("%w: failed to seek old file: %v", ErrResourceMissing, err)
		}
		return sourceStream, closeAll, nil
	}

	if f.asset.isUseCompression() {
		decoder, err := zstd.NewReader(reader, zstd.WithDecoderConcurrency(1))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		closers = append(closers, decoder.Close)
		reader = decoder
	}

	return reader, closeAll, nil
}

// fetchRawObject downloads the object name from info into outStream exactly as served,
// without decompression, and checks it with verify. A destination already holding a
// valid copy is left untouched.
func fetchRawObject(
	ctx context.Context,
	info, altInfo *SophonChunksInfo,
	outStream io.ReadWriteSeeker,
	name string,
	size int64,
	verify func(view io.ReadSeeker) (bool, error),
	opts *SophonDownloadOptions,
) error {
	rawInfo := info.CopyWithNewBaseUrl(info.ChunksBaseUrl)
	rawInfo.IsUseCompression = false
	object := &SophonAsset{AssetName: name, AssetSize: size, SophonChunksInfo: rawInfo}
	if altInfo != nil {
		object.SophonChunksInfoAlt = altInfo.CopyWithNewBaseUrl(altInfo.ChunksBaseUrl)
		object.SophonChunksInfoAlt.IsUseCompression = false
	}

	chunk := NewSophonChunk()
	chunk.ChunkName = name
	chunk.ChunkSize = size
	chunk.ChunkSizeDecompressed = size

	if err := object.prepareStream(outStream); err != nil {
		return err
	}

	currentSize, err := outStream.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("%w: failed to seek: %v", ErrDestination, err)
	}
	if currentSize == size {
		view, err := NewChunkStream(outStream, 0, size, false)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDestination, err)
		}
		if ok, err := verify(view); err == nil && ok {
			PushLogDebug(opts.Logger, fmt.Sprintf("Skipping object %s, already verified", name))
			if opts.WriteInfo != nil {
				opts.WriteInfo(size)
			}
			if opts.DownloadInfo != nil {
				opts.DownloadInfo(size, size)
			}
			opts.chunkSkipped(name, &chunk)
			return nil
		}
	}

	fetch := &chunkFetch{
		asset:    object,
		chunk:    &chunk,
		opts:     opts,
		progress: opts.reporter(),
		buffer:   make([]byte, min(int64(opts.BufferSize), max(size, 1))),
		verify:   verify,
	}
	return fetch.run(ctx, Internet, nil, outStream)
}

// attemptError turns the cancellation of a timed out attempt into ErrReadTimeout
func attemptError(attemptCtx context.Context, err error) error {
	if errors.Is(context.Cause(attemptCtx), ErrReadTimeout) {
		return fmt.Errorf("%w: %v", ErrReadTimeout, err)
	}
	return err
}

// setStreamLength truncates the destination when it supports it
func setStreamLength(stream io.ReadWriteSeeker, length int64) error {
	truncater, ok := stream.(interface{ Truncate(size int64) error })
	if !ok {
		return nil
	}
	if err := truncater.Truncate(length); err != nil {
		return fmt.Errorf("%w: failed to truncate output stream: %v", ErrDestination, err)
	}
	return nil
}

func closeStream(stream io.ReadWriteSeeker) {
	if closer, ok := stream.(io.Closer); ok {
		closer.Close()
	}
}
