package strata

import (
	"encoding/binary"
	"fmt"
)


//============================================= Writer


// relocateNameRefs moves every slab-resident byte-blob name Node
// referenced from names (created by appendName/newBytesNode in
// bytesnode.go) into file space, updating names' own slot in place.
// Name nodes are write-once and carry no parent binder — unlike every
// other Node in a table/group's subtree, their ref isn't reachable from
// a live Go handle walk, so without this pass a relocated/slab-resident
// name would be committed as a dangling ref once resetSlabs() drops the
// slab that held it. Mirrors export.go's post-order reachable-ref walk,
// but relocates in place instead of rebuilding a fresh image. Nothing
// later in the commit holds these nodes, so their bytes are copied
// straight into the current file mapping here rather than in
// writeDirtyBytes.
func relocateNameRefs(alloc *SlabAllocator, names *Node) error {
	for i := uint32(0); i < names.Size(); i++ {
		ref := names.GetRef(i)
		if ref == RefNull || !alloc.isSlabRef(ref) {
			continue
		}

		nd, err := Open(alloc, ref)
		if err != nil {
			return err
		}

		newRef, _, err := alloc.Alloc(nd.capacity())
		if err != nil {
			return err
		}

		dst, err := alloc.fileSlice(uint64(newRef), uint64(nd.capacity()))
		if err != nil {
			return err
		}

		copy(dst, nd.data)

		if err := names.SetRef(i, newRef); err != nil {
			return err
		}
	}

	return nil
}

// collectTableDirty appends every Node in t's subtree whose ref currently
// lives in slab space, children before the table's own top Node, per
// spec.md §9's parent-binding order. Nested subtable rows are recursed
// into only through already-materialized (cached) handles — an
// un-materialized row cannot have been mutated.
func collectTableDirty(t *Table, out *[]*Node) error {
	for _, c := range t.intCols {
		if c.node.Dirty() {
			*out = append(*out, c.node)
		}
	}

	for _, c := range t.subCols {
		if c.cache != nil {
			for _, nested := range c.cache {
				if err := collectTableDirty(nested, out); err != nil {
					return err
				}
			}
		}

		if c.node.Dirty() {
			*out = append(*out, c.node)
		}
	}

	if err := relocateNameRefs(t.alloc, t.names); err != nil {
		return err
	}

	if t.names.Dirty() {
		*out = append(*out, t.names)
	}
	if t.kinds.Dirty() {
		*out = append(*out, t.kinds)
	}
	if t.columns.Dirty() {
		*out = append(*out, t.columns)
	}
	if t.top.Dirty() {
		*out = append(*out, t.top)
	}

	return nil
}

// collectDirty returns the Group's dirty spine: every Node whose ref
// currently lives in slab space, in an order where every child precedes
// its parent (required so relocating a child can update its
// already-collected parent's in-memory slot before the parent itself is
// relocated and written out).
func (g *Group) collectDirty() ([]*Node, error) {
	var out []*Node

	for _, t := range g.tables {
		if err := collectTableDirty(t, &out); err != nil {
			return nil, err
		}
	}

	if err := relocateNameRefs(g.alloc, g.names); err != nil {
		return nil, err
	}

	if g.names.Dirty() {
		out = append(out, g.names)
	}
	if g.tableRefs.Dirty() {
		out = append(out, g.tableRefs)
	}
	if g.freePositions.Dirty() {
		out = append(out, g.freePositions)
	}
	if g.freeLengths.Dirty() {
		out = append(out, g.freeLengths)
	}
	if g.freeVersions.Dirty() {
		out = append(out, g.freeVersions)
	}
	if g.top.Dirty() {
		out = append(out, g.top)
	}

	return out, nil
}

// Commit implements spec.md §4.4's Writer algorithm: relocate every dirty
// Node into the file's free space (extending the file if needed), update
// each relocated Node's parent slot in place, serialize the free list,
// and finally install the new top ref with the previous one preserved at
// offset 8 for crash recovery.
func (g *Group) Commit() error {
	if g.isBuffer {
		return fmt.Errorf("%w: cannot commit a buffer-backed Group", ErrInvalid)
	}

	if g.readOnly {
		return fmt.Errorf("%w: cannot commit a read-only Group", ErrInvalid)
	}

	g.alloc.committing = true
	defer func() { g.alloc.committing = false }()

	// relocateNameRefs (inside collectDirty/collectTableDirty) allocates
	// file-backed space for any slab-resident name node, so it must run
	// with committing already set to route through the free list rather
	// than the transient slab.
	dirty, err := g.collectDirty()
	if err != nil {
		return fmt.Errorf("commit: relocate name nodes: %w", err)
	}
	if len(dirty) == 0 {
		return nil
	}

	for _, nd := range dirty {
		size := nd.capacity()

		newRef, buf, err := g.alloc.Alloc(size)
		if err != nil {
			return fmt.Errorf("commit: relocate node: %w", err)
		}

		copy(buf, nd.data)
		nd.ref = newRef
		nd.data = buf
		nd.state = nodeImmutableMapped

		if err := nd.notifyParent(); err != nil {
			return fmt.Errorf("commit: update parent ref: %w", err)
		}
	}

	if err := g.serializeFreeList(); err != nil {
		return fmt.Errorf("commit: serialize free list: %w", err)
	}

	// Writing the free list itself may have dirtied free_positions/
	// free_lengths/free_versions (and, transitively, top) beyond the
	// spine collected above; those already carry their final ref/bytes
	// (rebuildWith/reencode allocated them directly), they just still
	// need marking clean and queuing for the write pass below.
	rest, err := g.collectDirty()
	if err != nil {
		return fmt.Errorf("commit: re-collect after free list serialization: %w", err)
	}
	for _, nd := range rest {
		nd.state = nodeImmutableMapped
		dirty = append(dirty, nd)
	}

	newTopRef := g.top.Ref()

	if err := g.writeDirtyBytes(dirty); err != nil {
		return fmt.Errorf("commit: flush relocated nodes: %w", err)
	}

	if err := g.installTopRef(newTopRef); err != nil {
		return fmt.Errorf("commit: install top ref: %w", err)
	}

	g.alloc.resetSlabs()

	// Every outstanding Table/Column handle may be holding bytes from a
	// mapping a mid-commit file growth has since replaced; re-derive the
	// Group's own top-level handles against the current mapping. Callers
	// must re-fetch any Table/Column handle they held before Commit, per
	// the ownership rule in spec.md §3.
	g.tables = map[string]*Table{}

	return g.attachTop(newTopRef)
}

// serializeFreeList rewrites free_positions/free_lengths/free_versions
// from the allocator's current in-memory free-space database. Writing
// these arrays can itself consume (or grow) space tracked in that same
// database, which would make the snapshot just written stale — so this
// repeats until a round changes nothing, which converges in a handful
// of iterations (each of the three arrays can only grow its own
// capacity so many times).
func (g *Group) serializeFreeList() error {
	for attempt := 0; attempt < 16; attempt++ {
		snapshot := append([]freeExtent(nil), g.alloc.free...)

		same := g.freePositions.Size() == uint32(len(snapshot))
		for i := 0; same && i < len(snapshot); i++ {
			e := snapshot[i]
			same = g.freePositions.Get(uint32(i)) == e.position && g.freeLengths.Get(uint32(i)) == e.length && g.freeVersions.Get(uint32(i)) == e.version
		}
		if same {
			return nil
		}

		if err := g.freePositions.Resize(0); err != nil {
			return err
		}
		if err := g.freeLengths.Resize(0); err != nil {
			return err
		}
		if err := g.freeVersions.Resize(0); err != nil {
			return err
		}

		for _, e := range snapshot {
			if err := g.freePositions.Add(e.position); err != nil {
				return err
			}
			if err := g.freeLengths.Add(e.length); err != nil {
				return err
			}
			if err := g.freeVersions.Add(e.version); err != nil {
				return err
			}
		}

		if freeListsEqual(snapshot, g.alloc.free) {
			return nil
		}
	}

	return fmt.Errorf("%w: free list serialization did not converge", ErrCorrupt)
}

func freeListsEqual(a, b []freeExtent) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// writeDirtyBytes copies every relocated Node's bytes into the file
// mapping and flushes the whole mapping to disk.
func (g *Group) writeDirtyBytes(dirty []*Node) error {
	base := g.fm.Base()

	for _, nd := range dirty {
		pos := uint64(nd.ref)
		end := pos + uint64(len(nd.data))

		if end > uint64(len(base)) {
			return fmt.Errorf("%w: node write [%d:%d] exceeds mapped length %d", ErrCorrupt, pos, end, len(base))
		}

		copy(base[pos:end], nd.data)
	}

	return g.fm.Sync()
}

// installTopRef is the commit point (spec.md §4.4 step 4): the new top
// ref is first written at offset 8 (the "previous" slot) and fsync'd,
// then offset 0 is overwritten — so a crash between the two leaves a
// self-consistent, recoverable file (spec.md §8 scenario F).
func (g *Group) installTopRef(newTopRef Ref) error {
	base := g.fm.Base()

	binary.LittleEndian.PutUint64(base[8:16], uint64(newTopRef))

	if err := g.fm.Sync(); err != nil {
		return err
	}

	binary.LittleEndian.PutUint64(base[0:8], uint64(newTopRef))

	return g.fm.Sync()
}
