package internal

import (
	"bytes"
	"crypto/md5"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// failureMode selects how the test server answers a request
type failureMode int

const (
	serveOK failureMode = iota
	serveStatus500
	serveTruncated
	serveGarbage
)

// testObjectServer serves named objects and records how often each was requested.
// Failures queued for a name are consumed one request at a time.
type testObjectServer struct {
	*httptest.Server

	mu       sync.Mutex
	objects  map[string][]byte
	requests map[string]int
	failures map[string][]failureMode
}

func newTestObjectServer(t *testing.T) *testObjectServer {
	t.Helper()

	s := &testObjectServer{
		objects:  make(map[string][]byte),
		requests: make(map[string]int),
		failures: make(map[string][]failureMode),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *testObjectServer) handle(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")

	s.mu.Lock()
	s.requests[name]++
	data, ok := s.objects[name]
	mode := serveOK
	if queue := s.failures[name]; len(queue) > 0 {
		mode = queue[0]
		s.failures[name] = queue[1:]
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	switch mode {
	case serveStatus500:
		http.Error(w, "injected failure", http.StatusInternalServerError)
	case serveTruncated:
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data[:len(data)/2])
	case serveGarbage:
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(bytes.Repeat([]byte{0xAB}, len(data)))
	default:
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func (s *testObjectServer) put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = data
}

func (s *testObjectServer) fail(name string, modes ...failureMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = append(s.failures[name], modes...)
}

func (s *testObjectServer) hits(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[name]
}

func (s *testObjectServer) totalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

func md5Of(data []byte) []byte {
	sum := md5.Sum(data)
	return sum[:]
}

func zstdCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	encoder, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer encoder.Close()
	return encoder.EncodeAll(data, nil)
}

// testPattern returns size deterministic bytes derived from seed
func testPattern(seed byte, size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i*7) + byte(i>>8)
	}
	return data
}

// testAsset builds an asset out of parts laid out back to back, serving every part
// from srv (zstd-compressed when compressed is set)
func testAsset(t *testing.T, srv *testObjectServer, name string, compressed bool, parts ...[]byte) (*SophonAsset, []byte) {
	t.Helper()

	var content []byte
	asset := &SophonAsset{
		AssetName: name,
		SophonChunksInfo: &SophonChunksInfo{
			ChunksBaseUrl:    srv.URL,
			IsUseCompression: compressed,
		},
	}

	for i, part := range parts {
		chunkName := name + "-chunk-" + strconv.Itoa(i)
		payload := part
		if compressed {
			payload = zstdCompress(t, part)
		}
		srv.put(chunkName, payload)

		chunk := NewSophonChunk()
		chunk.ChunkName = chunkName
		chunk.ChunkHashDecompressed = md5Of(part)
		chunk.ChunkOffset = int64(len(content))
		chunk.ChunkSize = int64(len(payload))
		chunk.ChunkSizeDecompressed = int64(len(part))
		asset.Chunks = append(asset.Chunks, &chunk)

		content = append(content, part...)
	}

	asset.AssetSize = int64(len(content))
	asset.AssetHash = BytesToHex(md5Of(content))
	return asset, content
}

// progressRecorder sums the deltas reported through the delegates
type progressRecorder struct {
	mu         sync.Mutex
	written    int64
	downloaded int64
	negative   int
}

func (p *progressRecorder) writeInfo(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written += n
	if n < 0 {
		p.negative++
	}
}

func (p *progressRecorder) downloadInfo(downloaded, _ int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloaded += downloaded
}

func (p *progressRecorder) totals() (written, downloaded int64, negative int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written, p.downloaded, p.negative
}

// countingObserver counts chunk lifecycle events
type countingObserver struct {
	mu        sync.Mutex
	completed map[SourceStreamType]int
	skipped   int
	retried   int
	corrupted int
	lastRetry error
}

func newCountingObserver() *countingObserver {
	return &countingObserver{completed: make(map[SourceStreamType]int)}
}

func (o *countingObserver) ChunkCompleted(_ string, _ *SophonChunk, source SourceStreamType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed[source]++
}

func (o *countingObserver) ChunkSkipped(string, *SophonChunk) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped++
}

func (o *countingObserver) ChunkRetried(_ string, _ *SophonChunk, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retried++
	o.lastRetry = err
}

func (o *countingObserver) ChunkCorrupted(string, *SophonChunk, SourceStreamType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.corrupted++
}

// testOptions returns fast-retrying options reporting into progress
func testOptions(progress *progressRecorder, observer SophonObserver) *SophonDownloadOptions {
	opts := &SophonDownloadOptions{
		RetryDelay:        time.Millisecond,
		ReadTimeout:       5 * time.Second,
		RetryCount:        3,
		CorruptRetryCount: 3,
	}
	if progress != nil {
		opts.WriteInfo = progress.writeInfo
		opts.DownloadInfo = progress.downloadInfo
	}
	if observer != nil {
		opts.Observer = observer
	}
	return opts
}
