//go:build linux || darwin || freebsd

package strata

import (
	"fmt"

	"golang.org/x/sys/unix"
)


//============================================= LockFile (unix fcntl byte-range locks)


func (lf *LockFile) lockFD(region int64, exclusive bool) error {
	typ := int16(unix.F_RDLCK)
	if exclusive {
		typ = unix.F_WRLCK
	}

	flk := unix.Flock_t{Type: typ, Whence: 0, Start: region, Len: 1}

	if err := unix.FcntlFlock(lf.fm.file.Fd(), unix.F_SETLKW, &flk); err != nil {
		return fmt.Errorf("%w: fcntl lock region %d: %v", ErrIo, region, err)
	}

	return nil
}

func (lf *LockFile) unlockFD(region int64) error {
	flk := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: region, Len: 1}

	if err := unix.FcntlFlock(lf.fm.file.Fd(), unix.F_SETLK, &flk); err != nil {
		return fmt.Errorf("%w: fcntl unlock region %d: %v", ErrIo, region, err)
	}

	return nil
}
