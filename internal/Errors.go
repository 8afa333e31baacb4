package internal

import (
	"errors"
	"fmt"
)

var (
	// ErrChunkCorrupted is reported when streamed data does not match the chunk digest
	ErrChunkCorrupted = errors.New("chunk data is corrupted")
	// ErrChunkTruncated is reported when a source ends before the chunk is complete
	ErrChunkTruncated = errors.New("chunk source ended before the chunk was complete")
	// ErrReadTimeout is the cancel cause used when a source stalls longer than the read timeout
	ErrReadTimeout = errors.New("chunk read timed out")
	// ErrRetryExhausted wraps the last error once the retry budget is used up
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrResourceMissing marks missing or invalid local files and directories
	ErrResourceMissing = errors.New("required local resource is missing")
	// ErrUnsupported marks protocol-level failures such as an unsupported range request
	ErrUnsupported = errors.New("unsupported operation")
	// ErrDestination marks failures to seek, lock or write the destination stream
	ErrDestination = errors.New("destination stream failure")
	// ErrPatcherUnavailable is returned when no binary patcher can handle a patch payload
	ErrPatcherUnavailable = errors.New("no binary patcher is available for this patch")
)

// ChunkError carries the chunk context of an unrecoverable chunk failure
type ChunkError struct {
	AssetName string
	ChunkName string
	Offset    int64
	Size      int64
	Err       error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk: %s | 0x%x -> L: 0x%x for: %s: %v",
		e.ChunkName, e.Offset, e.Size, e.AssetName, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err must be propagated without retrying or degrading.
// Cancellation is not covered: callers check their own context first.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrResourceMissing) ||
		errors.Is(err, ErrDestination) ||
		errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrPatcherUnavailable)
}
