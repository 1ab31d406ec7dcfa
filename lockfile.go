package strata

import (
	"encoding/binary"
	"os"
)


//============================================= LockFile


// lockRingSize bounds the number of concurrent readers a single lock file
// can track, per spec.md §4.5's ReadCount ring buffer.
const lockRingSize = 128

// lockFileMagic identifies a strata lock file so a stale or foreign file
// at the same path is rejected rather than silently reinterpreted.
const lockFileMagic = uint32(0x53_74_72_61) // "Stra"

// lockHeaderSize: magic(4) + pad(4) + version(8) + ringHead(8) + ringTail(8),
// followed by lockRingSize * lockEntrySize ring slots.
const lockHeaderSize = 32

// lockEntrySize: version(8) + count(8).
const lockEntrySize = 16

// Two disjoint byte ranges of the lock file are used as independent
// advisory locks (via fcntl/LockFileEx byte-range locking), so that
// readers updating the ReadCount ring never block on a writer's
// long-held transaction lock, per spec.md §4.5.
const (
	regionWriter = int64(0) // held for the duration of a write transaction
	regionRing   = int64(1) // held only while mutating the ring buffer
)

// LockFile is the memory-mapped coordination file SharedGroup instances
// across processes attach to. It carries no Node data — only the current
// version counter and the ReadCount ring.
type LockFile struct {
	fm   *FileMap
	path string
}

// OpenLockFile opens (creating if absent) the lock file alongside a
// database at dbPath, formatting it on first use.
func OpenLockFile(dbPath string) (*LockFile, error) {
	path := dbPath + ".lock"

	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	fm, err := OpenFileMap(path, false)
	if err != nil {
		return nil, err
	}

	lf := &LockFile{fm: fm, path: path}

	if fresh || lf.magic() != lockFileMagic {
		if err := lf.format(); err != nil {
			return nil, err
		}
	}

	return lf, nil
}

func (lf *LockFile) base() []byte {
	base := lf.fm.Base()
	want := lockHeaderSize + lockRingSize*lockEntrySize
	if len(base) < want {
		if err := lf.fm.Remap(uint64(want)); err == nil {
			base = lf.fm.Base()
		}
	}
	return base
}

func (lf *LockFile) format() error {
	want := uint64(lockHeaderSize + lockRingSize*lockEntrySize)
	if err := lf.fm.Remap(want); err != nil {
		return err
	}

	base := lf.fm.Base()
	binary.LittleEndian.PutUint32(base[0:4], lockFileMagic)
	binary.LittleEndian.PutUint64(base[8:16], 0)  // version
	binary.LittleEndian.PutUint64(base[16:24], 0) // ringHead
	binary.LittleEndian.PutUint64(base[24:32], 0) // ringTail

	return lf.fm.Sync()
}

func (lf *LockFile) magic() uint32 {
	base := lf.fm.Base()
	if len(base) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(base[0:4])
}

// LockWriter blocks until the exclusive write-transaction lock is held.
func (lf *LockFile) LockWriter() error { return lf.lockFD(regionWriter, true) }

// UnlockWriter releases the write-transaction lock.
func (lf *LockFile) UnlockWriter() error { return lf.unlockFD(regionWriter) }

// lockRing/unlockRing guard the ReadCount ring for the short duration of a
// begin_read/end_read/reclaim bookkeeping update.
func (lf *LockFile) lockRing() error   { return lf.lockFD(regionRing, true) }
func (lf *LockFile) unlockRing() error { return lf.unlockFD(regionRing) }

func (lf *LockFile) version() uint64 { return binary.LittleEndian.Uint64(lf.base()[8:16]) }
func (lf *LockFile) setVersion(v uint64) {
	binary.LittleEndian.PutUint64(lf.base()[8:16], v)
}

func (lf *LockFile) ringHead() uint64 { return binary.LittleEndian.Uint64(lf.base()[16:24]) }
func (lf *LockFile) setRingHead(v uint64) {
	binary.LittleEndian.PutUint64(lf.base()[16:24], v)
}

func (lf *LockFile) ringTail() uint64 { return binary.LittleEndian.Uint64(lf.base()[24:32]) }
func (lf *LockFile) setRingTail(v uint64) {
	binary.LittleEndian.PutUint64(lf.base()[24:32], v)
}

func (lf *LockFile) entryOffset(slot uint64) int {
	return lockHeaderSize + int((slot%lockRingSize)*lockEntrySize)
}

func (lf *LockFile) readEntry(slot uint64) (version uint64, count uint64) {
	off := lf.entryOffset(slot)
	base := lf.base()
	return binary.LittleEndian.Uint64(base[off : off+8]), binary.LittleEndian.Uint64(base[off+8 : off+16])
}

func (lf *LockFile) writeEntry(slot uint64, version, count uint64) {
	off := lf.entryOffset(slot)
	base := lf.base()
	binary.LittleEndian.PutUint64(base[off:off+8], version)
	binary.LittleEndian.PutUint64(base[off+8:off+16], count)
}

func (lf *LockFile) sync() error { return lf.fm.Sync() }

// Close unmaps and closes the lock file.
func (lf *LockFile) Close() error {
	if lf.fm == nil {
		return nil
	}
	return lf.fm.Close()
}
