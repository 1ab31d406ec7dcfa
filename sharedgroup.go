package strata

import (
	"fmt"
	"sync"
)


//============================================= SharedGroup


// ReadHandle identifies one outstanding read transaction's ring slot, so
// EndRead knows which ReadCount entry to release.
type ReadHandle struct {
	slot    uint64
	version uint64
}

// SharedGroup coordinates one multi-process, single-writer/multi-reader
// database, per spec.md §4.5: BeginRead/EndRead hand out isolated
// snapshots tracked in a ReadCount ring inside a shared lock file;
// BeginWrite/Commit/Rollback serialize writers and tag freed extents
// with a release version so a concurrently-active reader's snapshot is
// never invalidated out from under it.
type SharedGroup struct {
	path string
	opts Options

	lock *LockFile

	mu           sync.Mutex
	interrupted  bool
	writerOpen   bool
}

// OpenSharedGroup attaches to (creating if necessary) the lock file
// alongside path and prepares to coordinate access to it.
func OpenSharedGroup(path string, opts Options) (*SharedGroup, error) {
	lock, err := OpenLockFile(path)
	if err != nil {
		return nil, err
	}

	return &SharedGroup{path: path, opts: opts, lock: lock}, nil
}

// BeginRead opens a read-only Group pinned to the database's current
// committed version and registers a ReadCount entry for it.
func (sg *SharedGroup) BeginRead() (*Group, ReadHandle, error) {
	if err := sg.lock.lockRing(); err != nil {
		return nil, ReadHandle{}, err
	}

	version := sg.lock.version()
	slot, err := sg.ringAcquire(version)
	unlockErr := sg.lock.unlockRing()

	if err != nil {
		return nil, ReadHandle{}, err
	}
	if unlockErr != nil {
		return nil, ReadHandle{}, unlockErr
	}

	g, err := OpenFile(sg.path, true, sg.opts)
	if err != nil {
		_ = sg.releaseRingSlot(slot)
		return nil, ReadHandle{}, err
	}

	return g, ReadHandle{slot: slot, version: version}, nil
}

// EndRead releases the ReadCount entry a prior BeginRead registered,
// possibly making some pending free extents eligible for reuse.
func (sg *SharedGroup) EndRead(h ReadHandle) error {
	return sg.releaseRingSlot(h.slot)
}

// ringAcquire finds the existing ring entry for version (if the previous
// reader to arrive at this version is still active) or appends a new
// one at the head, and increments its count. Must be called with the
// ring region locked.
func (sg *SharedGroup) ringAcquire(version uint64) (uint64, error) {
	head := sg.lock.ringHead()
	tail := sg.lock.ringTail()

	for slot := tail; slot != head; slot++ {
		v, c := sg.lock.readEntry(slot)
		if v == version && c > 0 {
			sg.lock.writeEntry(slot, v, c+1)
			return slot, nil
		}
	}

	if head-tail >= lockRingSize {
		return 0, fmt.Errorf("%w: reader ring full", ErrOutOfSpace)
	}

	slot := head
	sg.lock.writeEntry(slot, version, 1)
	sg.lock.setRingHead(head + 1)

	return slot, nil
}

// releaseRingSlot decrements the count at slot and advances the ring
// tail past any now-empty entries. A zero-count entry may only be
// dropped from the tail, never from the middle, so the ring stays a
// contiguous window of live versions.
func (sg *SharedGroup) releaseRingSlot(slot uint64) error {
	if err := sg.lock.lockRing(); err != nil {
		return err
	}
	defer sg.lock.unlockRing()

	v, c := sg.lock.readEntry(slot)
	if c == 0 {
		return fmt.Errorf("%w: double release of reader slot", ErrInvalid)
	}

	sg.lock.writeEntry(slot, v, c-1)

	tail := sg.lock.ringTail()
	head := sg.lock.ringHead()

	for tail != head {
		_, c := sg.lock.readEntry(tail)
		if c != 0 {
			break
		}
		tail++
	}

	sg.lock.setRingTail(tail)

	return nil
}

// minLiveVersion returns the lowest version any active reader currently
// holds, and whether the ring is empty. Must be called with the ring
// region locked.
func (sg *SharedGroup) minLiveVersion() (uint64, bool) {
	head := sg.lock.ringHead()
	tail := sg.lock.ringTail()

	for slot := tail; slot != head; slot++ {
		v, c := sg.lock.readEntry(slot)
		if c > 0 {
			return v, false
		}
	}

	return 0, true
}

// BeginWrite blocks until the exclusive writer lock is available and
// returns a fresh Group over the database's current committed state,
// configured to defer its frees until no reader can still see them.
// Before returning it clears the release tag of every loaded free extent
// that no live reader can still see, so the commit may reuse it.
func (sg *SharedGroup) BeginWrite() (*Group, error) {
	sg.mu.Lock()
	if sg.interrupted {
		sg.mu.Unlock()
		return nil, fmt.Errorf("%w: write transaction interrupted", ErrInterrupted)
	}
	sg.mu.Unlock()

	if err := sg.lock.LockWriter(); err != nil {
		return nil, err
	}

	g, err := OpenFile(sg.path, false, sg.opts)
	if err != nil {
		_ = sg.lock.UnlockWriter()
		return nil, err
	}

	g.alloc.versioned = true
	g.alloc.releaseVersion = sg.lock.version() + 1

	if err := sg.lock.lockRing(); err != nil {
		_ = sg.lock.UnlockWriter()
		return nil, err
	}
	minLive, empty := sg.minLiveVersion()
	g.alloc.Reclaim(minLive, empty)
	if err := sg.lock.unlockRing(); err != nil {
		_ = sg.lock.UnlockWriter()
		return nil, err
	}

	sg.mu.Lock()
	sg.writerOpen = true
	sg.mu.Unlock()

	return g, nil
}

// Commit finalizes the write transaction g (opened by BeginWrite),
// advances the shared version counter, reclaims any now-unreferenced
// pending extents, and releases the writer lock.
func (sg *SharedGroup) Commit(g *Group) error {
	defer sg.endWrite()

	if err := g.Commit(); err != nil {
		return err
	}

	if err := sg.lock.lockRing(); err != nil {
		return err
	}

	sg.lock.setVersion(g.alloc.releaseVersion)
	if err := sg.lock.sync(); err != nil {
		sg.lock.unlockRing()
		return err
	}

	minLive, empty := sg.minLiveVersion()
	g.alloc.Reclaim(minLive, empty)

	return sg.lock.unlockRing()
}

// Rollback discards an uncommitted write transaction's in-memory state
// (its slab bytes are simply never linked into the committed tree) and
// releases the writer lock.
func (sg *SharedGroup) Rollback(g *Group) error {
	defer sg.endWrite()
	return nil
}

func (sg *SharedGroup) endWrite() {
	sg.mu.Lock()
	sg.writerOpen = false
	sg.mu.Unlock()

	_ = sg.lock.UnlockWriter()
}

// Interrupt makes every later BeginWrite fail with ErrInterrupted until
// ClearInterrupt is called. The flag is checked once, before BeginWrite
// waits for the writer lock: a BeginWrite already waiting for or holding
// that lock is not aborted, and an open write transaction is unaffected.
// It works whatever the value of Options.EnableReplication.
func (sg *SharedGroup) Interrupt() {
	sg.mu.Lock()
	sg.interrupted = true
	sg.mu.Unlock()
}

// ClearInterrupt re-enables BeginWrite after a prior Interrupt.
func (sg *SharedGroup) ClearInterrupt() {
	sg.mu.Lock()
	sg.interrupted = false
	sg.mu.Unlock()
}

// Close releases the underlying lock file.
func (sg *SharedGroup) Close() error {
	return sg.lock.Close()
}
