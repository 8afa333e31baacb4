package internal

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lockPollMin = time.Millisecond
	lockPollMax = 50 * time.Millisecond
)

// lockFileRange takes an exclusive open-file-description lock on [offset, offset+length).
// Locks taken through different handles of the same file exclude each other. A contended
// range is polled until it frees up or ctx is done.
func lockFileRange(ctx context.Context, file *os.File, offset, length int64) (func() error, error) {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: io.SeekStart,
		Start:  offset,
		Len:    length,
	}

	wait := lockPollMin
	for {
		err := unix.FcntlFlock(file.Fd(), unix.F_OFD_SETLK, &lk)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EACCES) {
			return nil, err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, lockPollMax)
	}

	return func() error {
		unlock := lk
		unlock.Type = unix.F_UNLCK
		return unix.FcntlFlock(file.Fd(), unix.F_OFD_SETLK, &unlock)
	}, nil
}
