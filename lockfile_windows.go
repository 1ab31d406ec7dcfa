//go:build windows

package strata

import (
	"fmt"

	"golang.org/x/sys/windows"
)


//============================================= LockFile (windows byte-range locks)


func (lf *LockFile) lockFD(region int64, exclusive bool) error {
	var flags uint32
	if exclusive {
		flags = windows.LOCKFILE_EXCLUSIVE_LOCK
	}

	ol := &windows.Overlapped{Offset: uint32(region), OffsetHigh: uint32(region >> 32)}

	if err := windows.LockFileEx(windows.Handle(lf.fm.file.Fd()), flags, 0, 1, 0, ol); err != nil {
		return fmt.Errorf("%w: LockFileEx region %d: %v", ErrIo, region, err)
	}

	return nil
}

func (lf *LockFile) unlockFD(region int64) error {
	ol := &windows.Overlapped{Offset: uint32(region), OffsetHigh: uint32(region >> 32)}

	if err := windows.UnlockFileEx(windows.Handle(lf.fm.file.Fd()), 0, 1, 0, ol); err != nil {
		return fmt.Errorf("%w: UnlockFileEx region %d: %v", ErrIo, region, err)
	}

	return nil
}
