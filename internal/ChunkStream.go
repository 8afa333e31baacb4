package internal

import (
	"errors"
	"fmt"
	"io"
)

// ErrOutOfRange is returned when a position falls outside of a ChunkStream window
var ErrOutOfRange = errors.New("position is out of the chunk stream range")

// ChunkStream provides a view over the [start, end) portion of an underlying stream.
// Positions exposed by the view are relative to start.
type ChunkStream struct {
	stream      io.ReadWriteSeeker
	start       int64
	end         int64
	curPos      int64
	isDisposing bool
}

var _ io.ReadWriteSeeker = (*ChunkStream)(nil)
var _ io.Closer = (*ChunkStream)(nil)

// NewChunkStream creates a new ChunkStream that represents a segment of the underlying stream.
// When isDisposing is set, closing the view also closes the underlying stream.
// The window may extend past the current end of the stream so destination ranges of a file
// that is still being written can be exposed.
func NewChunkStream(stream io.ReadWriteSeeker, start, end int64, isDisposing bool) (*ChunkStream, error) {
	if stream == nil {
		return nil, errors.New("underlying stream cannot be null")
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: start=%d, end=%d", ErrOutOfRange, start, end)
	}

	if _, err := stream.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to start position: %w", err)
	}

	return &ChunkStream{
		stream:      stream,
		start:       start,
		end:         end,
		isDisposing: isDisposing,
	}, nil
}

// NewReadOnlyChunkStream slices [start, end) out of a read-only stream such as a patch blob.
// The window must lie inside the stream.
func NewReadOnlyChunkStream(stream io.ReadSeeker, start, end int64, isDisposing bool) (*ChunkStream, error) {
	streamLen, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream length: %w", err)
	}
	if end > streamLen {
		return nil, fmt.Errorf("%w: start=%d, end=%d, stream length=%d", ErrOutOfRange, start, end, streamLen)
	}
	return NewChunkStream(readOnlySeeker{stream}, start, end, isDisposing)
}

// size returns the size of the chunk
func (cs *ChunkStream) size() int64 {
	return cs.end - cs.start
}

// remain returns the remaining bytes in the chunk
func (cs *ChunkStream) remain() int64 {
	return cs.size() - cs.curPos
}

// Read reads up to len(p) bytes into p from the chunk. Reading at the end of the
// window yields 0 bytes and io.EOF.
func (cs *ChunkStream) Read(p []byte) (n int, err error) {
	if cs.remain() <= 0 {
		return 0, io.EOF
	}

	toRead := min(int64(len(p)), cs.remain())

	if _, err = cs.stream.Seek(cs.start+cs.curPos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek: %w", err)
	}

	read, err := cs.stream.Read(p[:toRead])
	cs.curPos += int64(read)

	return read, err
}

// Write writes p into the chunk. Writes are clamped to the remaining window: the
// returned count is the only signal of a clamped write, so callers must check it.
func (cs *ChunkStream) Write(p []byte) (n int, err error) {
	toWrite := min(int64(len(p)), cs.remain())
	if toWrite <= 0 {
		return 0, nil
	}

	if _, err = cs.stream.Seek(cs.start+cs.curPos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek: %w", err)
	}

	written, err := cs.stream.Write(p[:toWrite])
	cs.curPos += int64(written)

	return written, err
}

// Seek sets the position for the next Read or Write on the chunk
func (cs *ChunkStream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64

	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = cs.curPos + offset
	case io.SeekEnd:
		newPos = cs.size() + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}

	if err := cs.SetPosition(newPos); err != nil {
		return 0, err
	}
	return newPos, nil
}

// Close closes the ChunkStream and optionally the underlying stream
func (cs *ChunkStream) Close() error {
	if cs.isDisposing {
		if closer, ok := cs.stream.(io.Closer); ok {
			return closer.Close()
		}
	}
	return nil
}

// Length returns the length of the chunk
func (cs *ChunkStream) Length() int64 {
	return cs.size()
}

// Position returns the current position within the chunk
func (cs *ChunkStream) Position() int64 {
	return cs.curPos
}

// SetPosition sets the current position within the chunk
func (cs *ChunkStream) SetPosition(position int64) error {
	if position < 0 || position > cs.size() {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, position, cs.size())
	}
	cs.curPos = position
	_, err := cs.stream.Seek(cs.start+position, io.SeekStart)
	return err
}

// readOnlySeeker lets a read-only stream back a ChunkStream
type readOnlySeeker struct {
	io.ReadSeeker
}

func (readOnlySeeker) Write([]byte) (int, error) {
	return 0, errors.New("stream is read-only")
}

func (r readOnlySeeker) Close() error {
	if closer, ok := r.ReadSeeker.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
