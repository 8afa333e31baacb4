package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HttpRangeStream is a read-only view over the body of a ranged GET request.
// Every Read fills the buffer completely unless the body really ends.
type HttpRangeStream struct {
	resp     *http.Response
	length   int64
	position int64
}

var _ io.ReadCloser = (*HttpRangeStream)(nil)

// OpenHttpRangeStream requests bytes [start, end] of url. A negative end requests the
// rest of the object. Only the response headers are read before returning.
// An unsatisfiable range (HTTP 416) yields a nil stream and a nil error.
func OpenHttpRangeStream(ctx context.Context, client *http.Client, url string, start, end int64) (*HttpRangeStream, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, nil
	case resp.StatusCode == http.StatusOK && start > 0:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: server ignored range request for %s", ErrUnsupported, url)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, &HttpStatusError{Url: url, StatusCode: resp.StatusCode}
	}

	return &HttpRangeStream{resp: resp, length: resp.ContentLength}, nil
}

// Length is the declared Content-Length of the response, -1 when unknown
func (s *HttpRangeStream) Length() int64 {
	return s.length
}

// Position is the number of body bytes consumed so far
func (s *HttpRangeStream) Position() int64 {
	return s.position
}

// Read fills p from the body, looping over short network reads
func (s *HttpRangeStream) Read(p []byte) (int, error) {
	if s.length >= 0 {
		remain := s.length - s.position
		if remain <= 0 {
			return 0, io.EOF
		}
		if int64(len(p)) > remain {
			p = p[:remain]
		}
	}

	n, err := io.ReadFull(s.resp.Body, p)
	s.position += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	if n > 0 && errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// Close releases the response body
func (s *HttpRangeStream) Close() error {
	return s.resp.Body.Close()
}

// HttpStatusError reports a non-success HTTP status
type HttpStatusError struct {
	Url        string
	StatusCode int
}

func (e *HttpStatusError) Error() string {
	return fmt.Sprintf("HTTP request to %s failed with status: %d", e.Url, e.StatusCode)
}

// joinUrl appends a name to a base url
func joinUrl(baseUrl, name string) string {
	return strings.TrimRight(baseUrl, "/") + "/" + name
}

// openChunkSource fetches a chunk object from the primary chunk source and retries
// once against the alternate source when the primary fails.
func openChunkSource(ctx context.Context, client *http.Client, chunkName string,
	current, alt *SophonChunksInfo) (*HttpRangeStream, error) {

	stream, err := OpenHttpRangeStream(ctx, client, joinUrl(current.ChunksBaseUrl, chunkName), 0, -1)
	if err == nil && stream == nil {
		err = fmt.Errorf("%w: range not satisfiable for chunk %s", ErrUnsupported, chunkName)
	}
	if err == nil {
		return stream, nil
	}
	if alt == nil || ctx.Err() != nil {
		return nil, err
	}
	return openChunkSource(ctx, client, chunkName, alt, nil)
}
