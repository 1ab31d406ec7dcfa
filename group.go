package strata

import (
	"encoding/binary"
	"fmt"
)


//============================================= Group


// Group top array slot indices, per spec.md §3.
const (
	topSlotNames         = 0
	topSlotTableRefs     = 1
	topSlotFreePositions = 2
	topSlotFreeLengths   = 3
	topSlotFreeVersions  = 4
	topArraySize         = 5
)

// Group is the top-level container mapping table names to table roots.
type Group struct {
	alloc *SlabAllocator
	fm    *FileMap

	top           *Node
	names         *Node
	tableRefs     *Node
	freePositions *Node
	freeLengths   *Node
	freeVersions  *Node

	tables map[string]*Table

	valid    bool
	readOnly bool
	isBuffer bool

	options Options
}

func logf(opts Options, format string, args ...interface{}) {
	if opts.Logger != nil {
		opts.Logger(format, args...)
	}
}

// groupTopBinder routes child-ref updates for the 5 direct children of the
// top array back into Group.top.
type groupTopBinder struct{ g *Group }

func (b groupTopBinder) UpdateChildRef(slot int, newRef Ref) error {
	return b.g.top.SetRef(uint32(slot), newRef)
}

func (b groupTopBinder) GetChildRef(slot int) Ref {
	return b.g.top.GetRef(uint32(slot))
}

// groupTableBinder routes a table's top-node ref updates back into the
// Group's table_refs list at a fixed slot.
type groupTableBinder struct{ g *Group }

func (b groupTableBinder) UpdateChildRef(slot int, newRef Ref) error {
	return b.g.tableRefs.SetRef(uint32(slot), newRef)
}

func (b groupTableBinder) GetChildRef(slot int) Ref {
	return b.g.tableRefs.GetRef(uint32(slot))
}

// OpenEmpty constructs a minimal Group backed by a fresh slab allocator — no file, no lock-file participation.
func OpenEmpty(opts Options) (*Group, error) {
	alloc := NewSlabAllocator(nil, 16, opts.NodePoolSize)

	g := &Group{alloc: alloc, tables: map[string]*Table{}, valid: true, options: opts}

	if err := g.buildEmptyTop(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Group) buildEmptyTop() error {
	var err error

	if g.names, err = newRefListNode(g.alloc); err != nil {
		return err
	}

	if g.tableRefs, err = newRefListNode(g.alloc); err != nil {
		return err
	}

	if g.freePositions, err = newIntListNode(g.alloc); err != nil {
		return err
	}

	if g.freeLengths, err = newIntListNode(g.alloc); err != nil {
		return err
	}

	if g.freeVersions, err = newIntListNode(g.alloc); err != nil {
		return err
	}

	top, err := WithCapacity(g.alloc, 4, true, true)
	if err != nil {
		return err
	}

	for range make([]int, topArraySize) {
		if err := top.Add(0); err != nil {
			return err
		}
	}

	g.top = top
	binder := groupTopBinder{g}
	g.names.SetParent(binder, topSlotNames)
	g.tableRefs.SetParent(binder, topSlotTableRefs)
	g.freePositions.SetParent(binder, topSlotFreePositions)
	g.freeLengths.SetParent(binder, topSlotFreeLengths)
	g.freeVersions.SetParent(binder, topSlotFreeVersions)

	if err := g.top.SetRef(topSlotNames, g.names.Ref()); err != nil {
		return err
	}
	if err := g.top.SetRef(topSlotTableRefs, g.tableRefs.Ref()); err != nil {
		return err
	}
	if err := g.top.SetRef(topSlotFreePositions, g.freePositions.Ref()); err != nil {
		return err
	}
	if err := g.top.SetRef(topSlotFreeLengths, g.freeLengths.Ref()); err != nil {
		return err
	}
	if err := g.top.SetRef(topSlotFreeVersions, g.freeVersions.Ref()); err != nil {
		return err
	}

	return nil
}

// readTopRef reads the 8-byte current top ref at file offset 0, falling
// back to the previous top ref at offset 8 per spec.md's crash-recovery
// rule (§4.4 step 4, §8 scenario F).
func readTopRef(fm *FileMap) (Ref, error) {
	base := fm.Base()
	if len(base) < 16 {
		return RefNull, fmt.Errorf("%w: header shorter than 16 bytes", ErrCorrupt)
	}

	cur := binary.LittleEndian.Uint64(base[0:8])
	if cur != 0 && cur+headerSize <= uint64(len(base)) {
		if _, _, _, _, _, capacity := decodeHeader(base[cur : cur+8]); capacity >= headerSize && cur+uint64(capacity) <= uint64(len(base)) {
			return Ref(cur), nil
		}
	}

	prev := binary.LittleEndian.Uint64(base[8:16])
	return Ref(prev), nil
}

// OpenFile opens (or creates) a file-backed Group.
func OpenFile(path string, readOnly bool, opts Options) (*Group, error) {
	fm, err := OpenFileMap(path, readOnly)
	if err != nil {
		return nil, err
	}

	return openFromFileMap(fm, readOnly, false, opts)
}

// OpenBuffer attaches a Group over an immutable byte range; commit is disallowed on the result.
func OpenBuffer(buf []byte, opts Options) (*Group, error) {
	fm := OpenBufferMap(buf)
	return openFromFileMap(fm, true, true, opts)
}

func openFromFileMap(fm *FileMap, readOnly, isBuffer bool, opts Options) (*Group, error) {
	alloc := NewSlabAllocator(fm.Base(), fm.Len(), opts.NodePoolSize)
	alloc.growFile = func(newLen uint64) ([]byte, error) {
		if err := fm.Remap(newLen); err != nil {
			return nil, err
		}
		return fm.Base(), nil
	}

	g := &Group{alloc: alloc, fm: fm, tables: map[string]*Table{}, readOnly: readOnly, isBuffer: isBuffer, options: opts}

	topRef, err := readTopRef(fm)
	if err != nil {
		return nil, err
	}

	if topRef == RefNull {
		if err := g.buildEmptyTop(); err != nil {
			return nil, err
		}
	} else {
		if err := g.attachTop(topRef); err != nil {
			return nil, err
		}
	}

	g.valid = true

	return g, nil
}

// attachTop opens an existing top array and validates its shape per spec.md §3/§9.
func (g *Group) attachTop(ref Ref) error {
	top, err := Open(g.alloc, ref)
	if err != nil {
		return err
	}

	if !top.IsInner() || !top.HasChildRefs() || top.Size() != topArraySize {
		return fmt.Errorf("%w: top array shape mismatch", ErrCorrupt)
	}

	binder := groupTopBinder{g}

	open := func(slot int) (*Node, error) {
		r := top.GetRef(uint32(slot))
		if r == RefNull {
			return nil, fmt.Errorf("%w: top slot %d is null", ErrCorrupt, slot)
		}

		nd, err := Open(g.alloc, r)
		if err != nil {
			return nil, err
		}

		nd.SetParent(binder, slot)
		return nd, nil
	}

	g.top = top

	if g.names, err = open(topSlotNames); err != nil {
		return err
	}
	if g.tableRefs, err = open(topSlotTableRefs); err != nil {
		return err
	}
	if g.freePositions, err = open(topSlotFreePositions); err != nil {
		return err
	}
	if g.freeLengths, err = open(topSlotFreeLengths); err != nil {
		return err
	}
	if g.freeVersions, err = open(topSlotFreeVersions); err != nil {
		return err
	}

	if g.names.Size() != g.tableRefs.Size() {
		return fmt.Errorf("%w: names/table_refs size mismatch", ErrCorrupt)
	}

	if g.freePositions.Size() != g.freeLengths.Size() {
		return fmt.Errorf("%w: free_positions/free_lengths size mismatch", ErrCorrupt)
	}

	if g.freePositions.Size() != g.freeVersions.Size() {
		return fmt.Errorf("%w: free_positions/free_versions size mismatch", ErrCorrupt)
	}

	alloc := g.alloc
	alloc.free = nil
	for i := uint32(0); i < g.freePositions.Size(); i++ {
		alloc.free = append(alloc.free, freeExtent{
			position: g.freePositions.Get(i),
			length:   g.freeLengths.Get(i),
			version:  g.freeVersions.Get(i),
		})
	}

	return nil
}

// IsValid reports false on any construction-time failure.
func (g *Group) IsValid() bool { return g.valid }

// TableCount returns the number of tables currently in the Group.
func (g *Group) TableCount() int { return int(g.names.Size()) }

// TableName returns the name of the table at position idx, in insertion order.
func (g *Group) TableName(idx int) (string, error) {
	return readBytesNode(g.alloc, g.names.GetRef(uint32(idx)))
}

// HasTable reports whether name exists.
func (g *Group) HasTable(name string) (bool, error) {
	idx, err := findNameIndex(g.alloc, g.names, name)
	if err != nil {
		return false, err
	}

	return idx >= 0, nil
}

// GetTable finds name in the names list, returning a cached handle if
// materialized, or creating a fresh empty table on first reference.
func (g *Group) GetTable(name string) (*Table, error) {
	if t, ok := g.tables[name]; ok {
		return t, nil
	}

	idx, err := findNameIndex(g.alloc, g.names, name)
	if err != nil {
		return nil, err
	}

	if idx >= 0 {
		t, err := openTable(g, idx, g.tableRefs.GetRef(uint32(idx)))
		if err != nil {
			return nil, err
		}

		g.tables[name] = t
		return t, nil
	}

	if g.readOnly {
		return nil, fmt.Errorf("%w: table %q does not exist in a read-only Group", ErrNotFound, name)
	}

	t, err := newEmptyTable(g.alloc)
	if err != nil {
		return nil, err
	}

	newIdx := int(g.names.Size())
	if err := appendName(g.alloc, g.names, name); err != nil {
		return nil, err
	}

	if err := g.tableRefs.AddRef(t.top.Ref()); err != nil {
		return nil, err
	}

	t.bindToGroup(g, newIdx)
	g.tables[name] = t

	return t, nil
}
