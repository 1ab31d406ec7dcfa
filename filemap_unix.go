//go:build linux || darwin || freebsd

package strata

import (
	"fmt"

	"golang.org/x/sys/unix"
)


//============================================= FileMap (unix mmap)


func (fm *FileMap) mapFile(size uint64) error {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if fm.readOnly {
		prot = unix.PROT_READ
	}

	data, err := unix.Mmap(int(fm.file.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%w: mmap: %v", ErrIo, err)
	}

	fm.data = data

	return nil
}

func (fm *FileMap) unmapFile() error {
	if fm.data == nil {
		return nil
	}

	if err := unix.Munmap(fm.data); err != nil {
		return fmt.Errorf("%w: munmap: %v", ErrIo, err)
	}

	fm.data = nil

	return nil
}

// flush flushes the whole mapping with msync; Sync then calls the file's
// own fsync. There is no per-region flush.
func (fm *FileMap) flush() error {
	if fm.data == nil {
		return nil
	}

	if err := unix.Msync(fm.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync: %v", ErrIo, err)
	}

	return nil
}
