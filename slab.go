package strata

import (
	"fmt"
	"sort"
)


//============================================= SlabAllocator


// slab is a contiguous in-memory arena holding uncommitted Nodes. Refs
// inside a slab are never touched by the file's own offsets: ref_start is
// always >= the allocator's file boundary F, and slab i+1's ref_start
// equals slab i's ref_start + length.
type slab struct {
	refStart Ref
	length   uint64
	buffer   []byte
}

// freeExtent is one (position, length, release_version) triple in the
// file's free-space database; position and length are always multiples
// of 8. version == 0 means the extent is unconditionally reusable;
// version > 0 means it was freed producing that version and stays
// withheld until no live reader's snapshot can still reference it
// (spec.md §4.5) — this is what the top array's free_versions Node
// persists alongside free_positions/free_lengths.
type freeExtent struct {
	position uint64
	length   uint64
	version  uint64
}

// SlabAllocator hands out Refs addressing Nodes, straddling the file
// address space and a transient slab address space, per spec.md §4.2.
type SlabAllocator struct {
	nodes *nodePool

	fileBase []byte // mmap'd file bytes, offset 0 is the file header
	fileLen  uint64 // F: updated only at commit or remap

	slabs      []*slab
	slabTail   uint64 // bytes used in the last slab
	growChunk  uint64 // grow_heuristic

	free []freeExtent // sorted by position, non-overlapping

	// committing is set by the Writer for the duration of commit, routing
	// Alloc through the file's free list instead of slab space.
	committing bool

	// growFile is invoked by Alloc when committing and the free list
	// cannot satisfy a request; it must extend fileBase/fileLen and
	// return the (possibly relocated) backing slice.
	growFile func(newLen uint64) ([]byte, error)

	// versioned tags every extent Free() releases with releaseVersion
	// instead of marking it immediately reusable, per spec.md §4.5's
	// reader-isolation rule. Only SharedGroup turns this on.
	versioned      bool
	releaseVersion uint64
}

// NewSlabAllocator wraps an existing file-backed byte slice (or nil for a
// brand-new, empty database) with a fresh slab arena.
func NewSlabAllocator(fileBase []byte, fileLen uint64, nodePoolSize int64) *SlabAllocator {
	return &SlabAllocator{
		nodes:     newNodePool(nodePoolSize),
		fileBase:  fileBase,
		fileLen:   fileLen,
		growChunk: 1 << 16,
	}
}

func (a *SlabAllocator) isSlabRef(ref Ref) bool { return uint64(ref) >= a.fileLen }

// Alloc rounds bytes up to a multiple of 8 and returns a fresh ref plus a
// writable buffer of exactly that length.
func (a *SlabAllocator) Alloc(bytes uint32) (Ref, []byte, error) {
	n := uint64(roundUp8(bytes))

	if a.committing {
		return a.allocFromFreeList(n)
	}

	return a.allocFromSlab(n)
}

func (a *SlabAllocator) allocFromSlab(n uint64) (Ref, []byte, error) {
	if len(a.slabs) == 0 || a.slabTail+n > a.slabs[len(a.slabs)-1].length {
		size := n
		if a.growChunk > size {
			size = a.growChunk
		}

		newSlab := &slab{
			refStart: Ref(a.fileLen + a.slabsTotalLength()),
			length:   size,
			buffer:   make([]byte, size),
		}

		a.slabs = append(a.slabs, newSlab)
		a.slabTail = 0
	}

	last := a.slabs[len(a.slabs)-1]
	ref := Ref(uint64(last.refStart) + a.slabTail)
	buf := last.buffer[a.slabTail : a.slabTail+n]
	a.slabTail += n

	return ref, buf, nil
}

func (a *SlabAllocator) slabsTotalLength() uint64 {
	var total uint64
	for _, s := range a.slabs {
		total += s.length
	}

	return total
}

// allocFromFreeList satisfies a request from the file's free-space
// database (best fit), falling back to extending the file. Only called
// during commit. The returned buffer is a detached heap copy, not a
// slice into the live mapping: a later request in the same commit may
// remap the file (invalidating any slice taken from the old mapping),
// so callers copy relocated Node bytes into the mapping themselves
// without keeping a slice across allocations: writeDirtyBytes after
// every allocation for the commit is done, and relocateNameRefs right
// after each of its own allocations.
func (a *SlabAllocator) allocFromFreeList(n uint64) (Ref, []byte, error) {
	bestIdx := -1

	for i, e := range a.free {
		if e.version != 0 || e.length < n {
			continue
		}

		if bestIdx == -1 || e.length < a.free[bestIdx].length {
			bestIdx = i
		}
	}

	if bestIdx >= 0 {
		e := a.free[bestIdx]
		pos := e.position

		if e.length == n {
			a.free = append(a.free[:bestIdx], a.free[bestIdx+1:]...)
		} else {
			a.free[bestIdx] = freeExtent{position: e.position + n, length: e.length - n}
		}

		return Ref(pos), make([]byte, n), nil
	}

	pos := a.fileLen
	newLen := pos + n

	if a.growFile == nil {
		return RefNull, nil, fmt.Errorf("%w: cannot extend file", ErrOutOfSpace)
	}

	newBase, err := a.growFile(newLen)
	if err != nil {
		return RefNull, nil, err
	}

	a.fileBase = newBase
	a.fileLen = newLen

	return Ref(pos), make([]byte, n), nil
}

func (a *SlabAllocator) fileSlice(pos, n uint64) ([]byte, error) {
	if pos+n > uint64(len(a.fileBase)) {
		return nil, fmt.Errorf("%w: file slice [%d:%d] exceeds mapped length %d", ErrCorrupt, pos, pos+n, len(a.fileBase))
	}

	return a.fileBase[pos : pos+n], nil
}

// Free releases a ref. Slab refs are simply discarded (arena semantics);
// file refs are inserted into the free-space database tagged with
// releaseVersion (0, unconditionally reusable, unless a.versioned is
// set), coalesced with touching neighbors released at the same version.
func (a *SlabAllocator) Free(ref Ref, bytes uint32) error {
	if a.isSlabRef(ref) {
		return nil
	}

	n := uint64(roundUp8(bytes))

	version := uint64(0)
	if a.versioned {
		version = a.releaseVersion
	}

	a.insertFree(freeExtent{position: uint64(ref), length: n, version: version})

	return nil
}

// Reclaim marks every extent released at a version no live reader can
// still observe as unconditionally reusable (version 0), then
// re-coalesces. An extent released while producing version V remains
// withheld as long as any ReadCount entry with version <= V is live
// (spec.md §4.5); noReaders short-circuits this when the ring is
// currently empty.
func (a *SlabAllocator) Reclaim(minLiveVersion uint64, noReaders bool) {
	changed := false

	for i := range a.free {
		if a.free[i].version != 0 && (noReaders || minLiveVersion > a.free[i].version) {
			a.free[i].version = 0
			changed = true
		}
	}

	if !changed {
		return
	}

	sort.Slice(a.free, func(i, j int) bool { return a.free[i].position < a.free[j].position })

	merged := a.free[:0]
	for _, e := range a.free {
		if n := len(merged); n > 0 && merged[n-1].version == 0 && e.version == 0 && merged[n-1].position+merged[n-1].length == e.position {
			merged[n-1].length += e.length
			continue
		}
		merged = append(merged, e)
	}

	a.free = merged
}

func (a *SlabAllocator) insertFree(e freeExtent) {
	idx := sort.Search(len(a.free), func(i int) bool { return a.free[i].position >= e.position })

	a.free = append(a.free, freeExtent{})
	copy(a.free[idx+1:], a.free[idx:])
	a.free[idx] = e

	// Coalesce with the following neighbor first so index idx stays valid.
	// Extents released at different versions are kept distinct so a
	// pending extent's release version is never lost to a merge.
	if idx+1 < len(a.free) && a.free[idx].version == a.free[idx+1].version &&
		a.free[idx].position+a.free[idx].length == a.free[idx+1].position {
		a.free[idx].length += a.free[idx+1].length
		a.free = append(a.free[:idx+1], a.free[idx+2:]...)
	}

	if idx > 0 && a.free[idx-1].version == a.free[idx].version &&
		a.free[idx-1].position+a.free[idx-1].length == a.free[idx].position {
		a.free[idx-1].length += a.free[idx].length
		a.free = append(a.free[:idx], a.free[idx+1:]...)
	}
}

// Translate resolves a ref to a readable/writable slice of at least
// `length` bytes: a direct pointer add for file refs, a binary search
// over the slab table for slab refs.
func (a *SlabAllocator) Translate(ref Ref, length uint32) ([]byte, error) {
	if !a.isSlabRef(ref) {
		return a.fileSlice(uint64(ref), uint64(length))
	}

	idx := sort.Search(len(a.slabs), func(i int) bool {
		return uint64(a.slabs[i].refStart)+a.slabs[i].length > uint64(ref)
	})

	if idx >= len(a.slabs) {
		return nil, fmt.Errorf("%w: ref %d not found in any slab", ErrCorrupt, ref)
	}

	s := a.slabs[idx]
	off := uint64(ref) - uint64(s.refStart)

	if off+uint64(length) > s.length {
		return nil, fmt.Errorf("%w: ref %d length %d exceeds slab bounds", ErrCorrupt, ref, length)
	}

	return s.buffer[off : off+uint64(length)], nil
}

// Realloc allocates a fresh extent, copies the old bytes over, and frees
// the old extent. It never extends in place, preserving the invariant
// that any observable Node change produces a new ref.
func (a *SlabAllocator) Realloc(ref Ref, oldBytes, newBytes uint32) (Ref, []byte, error) {
	newRef, newBuf, err := a.Alloc(newBytes)
	if err != nil {
		return RefNull, nil, err
	}

	oldBuf, err := a.Translate(ref, oldBytes)
	if err != nil {
		return RefNull, nil, err
	}

	n := oldBytes
	if newBytes < n {
		n = newBytes
	}

	copy(newBuf[:n], oldBuf[:n])

	if err := a.Free(ref, oldBytes); err != nil {
		return RefNull, nil, err
	}

	return newRef, newBuf, nil
}

// resetSlabs drops every slab at once (arena semantics): called after a
// successful commit (their bytes are now reachable through file refs) or
// on rollback (their bytes are simply discarded).
func (a *SlabAllocator) resetSlabs() {
	a.slabs = nil
	a.slabTail = 0
}

// FreeListSize reports the number of tracked extents, used by the
// free-list conservation check in tests.
func (a *SlabAllocator) FreeListSize() int { return len(a.free) }

// FreeBytes sums every tracked free extent's length.
func (a *SlabAllocator) FreeBytes() uint64 {
	var total uint64
	for _, e := range a.free {
		total += e.length
	}

	return total
}
