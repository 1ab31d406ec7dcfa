package strata

import (
	"fmt"
	"os"
)


//============================================= FileMap


// FileMap presents a database file (or a caller-supplied in-memory
// buffer) as a contiguous byte range, per spec.md §4.1.
type FileMap struct {
	file     *os.File
	data     []byte
	readOnly bool
	isBuffer bool
}

// OpenFileMap opens path for mapping. On the first write-open of a
// zero-length file it writes the 16-byte header (two 8-byte zero words:
// current top ref, previous top ref) before mapping.
func OpenFileMap(path string, readOnly bool) (*FileMap, error) {
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
			}

			return nil, fmt.Errorf("%w: %v", ErrIo, err)
		}
	}

	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	} else {
		flag |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIo, err)
	}

	fm := &FileMap{file: f, readOnly: readOnly}

	size, err := fm.fileSize()
	if err != nil {
		return nil, err
	}

	if size == 0 {
		if readOnly {
			return nil, fmt.Errorf("%w: empty database", ErrCorrupt)
		}

		if err := f.Truncate(16); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIo, err)
		}

		size = 16
	}

	if err := fm.mapFile(size); err != nil {
		return nil, err
	}

	return fm, nil
}

// OpenBufferMap wraps an immutable byte range with the same layout as the
// file format; commit is disallowed on the result.
func OpenBufferMap(buf []byte) *FileMap {
	return &FileMap{data: buf, readOnly: true, isBuffer: true}
}

func (fm *FileMap) fileSize() (uint64, error) {
	st, err := fm.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIo, err)
	}

	return uint64(st.Size()), nil
}

// Remap extends the file to newSize and refreshes the mapping. Must be
// called with no outstanding writable borrows into the old mapping.
func (fm *FileMap) Remap(newSize uint64) error {
	if fm.isBuffer {
		return fmt.Errorf("%w: cannot remap a buffer-backed map", ErrInvalid)
	}

	if err := fm.unmapFile(); err != nil {
		return err
	}

	if err := fm.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("%w: %v", ErrIo, err)
	}

	return fm.mapFile(newSize)
}

// Base returns the mapped byte range; indices [0, Len()) are valid to read.
func (fm *FileMap) Base() []byte { return fm.data }

// Len returns the current mapped length.
func (fm *FileMap) Len() uint64 { return uint64(len(fm.data)) }

// ReadOnly reports whether this mapping disallows commit.
func (fm *FileMap) ReadOnly() bool { return fm.readOnly }

// Sync flushes dirty pages to disk. A no-op for buffer-backed maps.
func (fm *FileMap) Sync() error {
	if fm.isBuffer {
		return nil
	}

	if err := fm.flush(); err != nil {
		return err
	}

	if err := fm.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIo, err)
	}

	return nil
}

// Close unmaps and closes the underlying file, if any.
func (fm *FileMap) Close() error {
	if fm.isBuffer {
		return nil
	}

	if err := fm.unmapFile(); err != nil {
		return err
	}

	return fm.file.Close()
}
