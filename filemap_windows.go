//go:build windows

package strata

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)


//============================================= FileMap (windows mmap)


// handle mapping state kept alongside FileMap.data for windows, since
// UnmapViewOfFile needs the original view pointer and CloseHandle needs
// the mapping handle.
type windowsMapping struct {
	handle windows.Handle
	addr   uintptr
}

var windowsMaps = map[*FileMap]*windowsMapping{}

func (fm *FileMap) mapFile(size uint64) error {
	protect := uint32(windows.PAGE_READWRITE)
	access := uint32(windows.FILE_MAP_WRITE)
	if fm.readOnly {
		protect = windows.PAGE_READONLY
		access = windows.FILE_MAP_READ
	}

	h, err := windows.CreateFileMapping(windows.Handle(fm.file.Fd()), nil, protect, uint32(size>>32), uint32(size), nil)
	if err != nil {
		return fmt.Errorf("%w: CreateFileMapping: %v", ErrIo, err)
	}

	addr, err := windows.MapViewOfFile(h, access, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return fmt.Errorf("%w: MapViewOfFile: %v", ErrIo, err)
	}

	fm.data = unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	windowsMaps[fm] = &windowsMapping{handle: h, addr: addr}

	return nil
}

func (fm *FileMap) unmapFile() error {
	m, ok := windowsMaps[fm]
	if !ok {
		return nil
	}

	if err := windows.UnmapViewOfFile(m.addr); err != nil {
		return fmt.Errorf("%w: UnmapViewOfFile: %v", ErrIo, err)
	}

	if err := windows.CloseHandle(m.handle); err != nil {
		return fmt.Errorf("%w: CloseHandle: %v", ErrIo, err)
	}

	delete(windowsMaps, fm)
	fm.data = nil

	return nil
}

func (fm *FileMap) flush() error {
	m, ok := windowsMaps[fm]
	if !ok || fm.data == nil {
		return nil
	}

	if err := windows.FlushViewOfFile(m.addr, uintptr(len(fm.data))); err != nil {
		return fmt.Errorf("%w: FlushViewOfFile: %v", ErrIo, err)
	}

	return nil
}
