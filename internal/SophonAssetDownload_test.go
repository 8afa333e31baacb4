package internal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openOutput(t *testing.T, path string) *os.File {
	t.Helper()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	return file
}

func TestWriteToStream(t *testing.T) {
	t.Parallel()

	t.Run("downloads every chunk", func(t *testing.T) {
		t.Parallel()
		srv := newTestObjectServer(t)
		asset, content := testAsset(t, srv, "plain", false, testPattern(1, 4096), testPattern(2, 1000))

		progress := &progressRecorder{}
		observer := newCountingObserver()
		path := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(progress, observer)))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)

		written, downloaded, negative := progress.totals()
		assert.Equal(t, asset.AssetSize, written)
		assert.Equal(t, asset.AssetSize, downloaded)
		assert.Zero(t, negative)
		assert.Equal(t, 2, observer.completed[Internet])
	})

	t.Run("decompresses zstd chunks", func(t *testing.T) {
		t.Parallel()
		srv := newTestObjectServer(t)
		asset, content := testAsset(t, srv, "packed", true, testPattern(3, 70000), testPattern(4, 12))

		path := filepath.Join(t.TempDir(), "packed")
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(nil, nil)))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("skips chunks already in place", func(t *testing.T) {
		t.Parallel()
		srv := newTestObjectServer(t)
		partA, partB := testPattern(5, 2048), testPattern(6, 2048)
		asset, content := testAsset(t, srv, "resume", false, partA, partB)

		path := filepath.Join(t.TempDir(), "resume")
		stale := append(append([]byte{}, partA...), make([]byte, len(partB))...)
		require.NoError(t, os.WriteFile(path, stale, 0o644))

		progress := &progressRecorder{}
		observer := newCountingObserver()
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(progress, observer)))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)
		assert.Zero(t, srv.hits("resume-chunk-0"))
		assert.Equal(t, 1, srv.hits("resume-chunk-1"))
		assert.Equal(t, 1, observer.skipped)

		written, _, _ := progress.totals()
		assert.Equal(t, asset.AssetSize, written)
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		t.Parallel()
		srv := newTestObjectServer(t)
		asset, _ := testAsset(t, srv, "twice", false, testPattern(7, 512), testPattern(8, 512), testPattern(9, 3))

		path := filepath.Join(t.TempDir(), "twice")
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(nil, nil)))
		requests := srv.totalHits()

		progress := &progressRecorder{}
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(progress, nil)))
		assert.Equal(t, requests, srv.totalHits())

		written, _, _ := progress.totals()
		assert.Equal(t, asset.AssetSize, written)
	})

	t.Run("cuts an oversized destination", func(t *testing.T) {
		t.Parallel()
		srv := newTestObjectServer(t)
		asset, content := testAsset(t, srv, "shrink", false, testPattern(10, 100))

		path := filepath.Join(t.TempDir(), "shrink")
		require.NoError(t, os.WriteFile(path, make([]byte, 500), 0o644))
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(nil, nil)))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})
}

func TestWriteToStream_Retries(t *testing.T) {
	t.Parallel()

	t.Run("truncated source is retried and rolled back", func(t *testing.T) {
		t.Parallel()
		srv := newTestObjectServer(t)
		asset, content := testAsset(t, srv, "cut", false, testPattern(11, 4096))
		srv.fail("cut-chunk-0", serveTruncated)

		progress := &progressRecorder{}
		observer := newCountingObserver()
		path := filepath.Join(t.TempDir(), "cut")
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(progress, observer)))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)
		assert.Equal(t, 2, srv.hits("cut-chunk-0"))
		assert.Equal(t, 1, observer.corrupted)

		written, downloaded, negative := progress.totals()
		assert.Equal(t, asset.AssetSize, written)
		assert.Equal(t, asset.AssetSize, downloaded)
		assert.Positive(t, negative)
	})

	t.Run("server error is retried after a delay", func(t *testing.T) {
		t.Parallel()
		srv := newTestObjectServer(t)
		asset, content := testAsset(t, srv, "flaky", false, testPattern(12, 300))
		srv.fail("flaky-chunk-0", serveStatus500, serveStatus500)

		observer := newCountingObserver()
		path := filepath.Join(t.TempDir(), "flaky")
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(nil, observer)))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, got)
		assert.Equal(t, 3, srv.hits("flaky-chunk-0"))
		assert.Equal(t, 2, observer.retried)

		var statusErr *HttpStatusError
		require.ErrorAs(t, observer.lastRetry, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	})

	t.Run("persistent corruption exhausts the budget", func(t *testing.T) {
		t.Parallel()
		srv := newTestObjectServer(t)
		asset, _ := testAsset(t, srv, "bad", false, testPattern(13, 256))
		srv.fail("bad-chunk-0", serveGarbage, serveGarbage, serveGarbage, serveGarbage)

		progress := &progressRecorder{}
		path := filepath.Join(t.TempDir(), "bad")
		err := asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(progress, nil))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetryExhausted)
		assert.ErrorIs(t, err, ErrChunkCorrupted)

		var chunkErr *ChunkError
		require.ErrorAs(t, err, &chunkErr)
		assert.Equal(t, "bad-chunk-0", chunkErr.ChunkName)
		assert.Equal(t, 4, srv.hits("bad-chunk-0"))

		written, downloaded, _ := progress.totals()
		assert.Zero(t, written)
		assert.Zero(t, downloaded)
	})

	t.Run("transient failures exhaust the budget", func(t *testing.T) {
		t.Parallel()
		srv := newTestObjectServer(t)
		asset, _ := testAsset(t, srv, "down", false, testPattern(14, 64))
		srv.fail("down-chunk-0", serveStatus500, serveStatus500, serveStatus500, serveStatus500)

		path := filepath.Join(t.TempDir(), "down")
		err := asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(nil, nil))
		assert.ErrorIs(t, err, ErrRetryExhausted)
		assert.Equal(t, 4, srv.hits("down-chunk-0"))
	})

	t.Run("stalled read times out", func(t *testing.T) {
		t.Parallel()
		payload := testPattern(15, 1024)
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			if requests.Add(1) == 1 {
				w.WriteHeader(http.StatusOK)
				w.(http.Flusher).Flush()
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
				return
			}
			w.Write(payload)
		}))
		t.Cleanup(srv.Close)

		chunk := NewSophonChunk()
		chunk.ChunkName = "stall"
		chunk.ChunkHashDecompressed = md5Of(payload)
		chunk.ChunkSize = int64(len(payload))
		chunk.ChunkSizeDecompressed = int64(len(payload))
		asset := &SophonAsset{
			AssetName:        "stall",
			AssetSize:        int64(len(payload)),
			Chunks:           []*SophonChunk{&chunk},
			SophonChunksInfo: &SophonChunksInfo{ChunksBaseUrl: srv.URL},
		}

		observer := newCountingObserver()
		opts := testOptions(nil, observer)
		opts.ReadTimeout = 100 * time.Millisecond

		path := filepath.Join(t.TempDir(), "stall")
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), opts))
		assert.Equal(t, int32(2), requests.Load())
		assert.Equal(t, 1, observer.retried)
		assert.ErrorIs(t, observer.lastRetry, ErrReadTimeout)
	})

	t.Run("stall after partial progress is rolled back", func(t *testing.T) {
		t.Parallel()
		payload := testPattern(16, 600<<10)
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.WriteHeader(http.StatusOK)
			if requests.Add(1) == 1 {
				w.Write(payload[:300<<10])
				w.(http.Flusher).Flush()
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
				return
			}
			w.Write(payload)
		}))
		t.Cleanup(srv.Close)

		chunk := NewSophonChunk()
		chunk.ChunkName = "partial"
		chunk.ChunkHashDecompressed = md5Of(payload)
		chunk.ChunkSize = int64(len(payload))
		chunk.ChunkSizeDecompressed = int64(len(payload))
		asset := &SophonAsset{
			AssetName:        "partial",
			AssetSize:        int64(len(payload)),
			Chunks:           []*SophonChunk{&chunk},
			SophonChunksInfo: &SophonChunksInfo{ChunksBaseUrl: srv.URL},
		}

		progress := &progressRecorder{}
		observer := newCountingObserver()
		opts := testOptions(progress, observer)
		opts.ReadTimeout = 200 * time.Millisecond

		path := filepath.Join(t.TempDir(), "partial")
		require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), opts))

		assert.Equal(t, int32(2), requests.Load())
		assert.Equal(t, 1, observer.retried)
		assert.Zero(t, observer.corrupted)
		assert.ErrorIs(t, observer.lastRetry, ErrReadTimeout)

		written, downloaded, negative := progress.totals()
		assert.Equal(t, int64(len(payload)), written)
		assert.Equal(t, int64(len(payload)), downloaded)
		assert.Equal(t, 1, negative, "the partial attempt is rolled back once")

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})
}

func TestWriteToStream_Cancelled(t *testing.T) {
	t.Parallel()
	srv := newTestObjectServer(t)
	asset, _ := testAsset(t, srv, "stop", false, testPattern(16, 128))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "stop")
	err := asset.WriteToStream(ctx, openOutput(t, path), testOptions(nil, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteToStream_AltSource(t *testing.T) {
	t.Parallel()
	srv := newTestObjectServer(t)
	asset, content := testAsset(t, srv, "mirror", false, testPattern(17, 777))
	asset.SophonChunksInfoAlt = asset.SophonChunksInfo
	asset.SophonChunksInfo = asset.SophonChunksInfo.CopyWithNewBaseUrl(srv.URL + "/gone")

	path := filepath.Join(t.TempDir(), "mirror")
	require.NoError(t, asset.WriteToStream(context.Background(), openOutput(t, path), testOptions(nil, nil)))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, 1, srv.hits("gone/mirror-chunk-0"))
	assert.Equal(t, 1, srv.hits("mirror-chunk-0"))
}

func TestWriteToStream_Directory(t *testing.T) {
	t.Parallel()
	var completed *SophonAsset
	opts := testOptions(nil, nil)
	opts.Complete = func(asset *SophonAsset) { completed = asset }

	asset := &SophonAsset{AssetName: "dir", IsDirectory: true}
	require.NoError(t, asset.WriteToStream(context.Background(), nil, opts))
	assert.Same(t, asset, completed)
}

func TestWriteToStream_MissingChunks(t *testing.T) {
	t.Parallel()
	asset := &SophonAsset{AssetName: "empty", SophonChunksInfo: &SophonChunksInfo{}}
	path := filepath.Join(t.TempDir(), "empty")
	err := asset.WriteToStream(context.Background(), openOutput(t, path), nil)
	assert.ErrorIs(t, err, ErrResourceMissing)
}

func TestWriteToStreamParallel(t *testing.T) {
	t.Parallel()
	srv := newTestObjectServer(t)

	var parts [][]byte
	for i := range 12 {
		parts = append(parts, testPattern(byte(i), 1500+i*31))
	}
	asset, content := testAsset(t, srv, "wide", true, parts...)
	srv.fail("wide-chunk-3", serveTruncated)
	srv.fail("wide-chunk-7", serveStatus500)

	progress := &progressRecorder{}
	path := filepath.Join(t.TempDir(), "wide")
	factory := func() (io.ReadWriteSeeker, error) {
		return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	}
	require.NoError(t, asset.WriteToStreamParallel(context.Background(), factory, 4, testOptions(progress, nil)))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	written, downloaded, _ := progress.totals()
	assert.Equal(t, asset.AssetSize, written)
	assert.Equal(t, asset.AssetSize, downloaded)
}

func TestWriteToStreamParallel_FirstErrorWins(t *testing.T) {
	t.Parallel()
	srv := newTestObjectServer(t)
	asset, _ := testAsset(t, srv, "broken", false, testPattern(20, 100), testPattern(21, 100))
	srv.fail("broken-chunk-1", serveGarbage, serveGarbage, serveGarbage, serveGarbage)

	path := filepath.Join(t.TempDir(), "broken")
	factory := func() (io.ReadWriteSeeker, error) {
		return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	}
	err := asset.WriteToStreamParallel(context.Background(), factory, 2, testOptions(nil, nil))
	assert.ErrorIs(t, err, ErrChunkCorrupted)
}
