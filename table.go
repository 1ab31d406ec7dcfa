package strata

import "fmt"


//============================================= Table


// ColumnKind enumerates the two minimal column clients this engine ships
// to exercise the core's invariants. Concrete column implementations
// beyond these are out of scope per spec.md §1.
type ColumnKind uint8

const (
	ColumnKindInt ColumnKind = iota
	ColumnKindSubtable
)

const (
	tableSlotNames   = 0
	tableSlotKinds   = 1
	tableSlotColumns = 2
	tableArraySize   = 3
)

// Table is a handle over a persistent Node subtree, owned by its Group;
// callers hold non-owning references (spec.md §3 "Ownership").
type Table struct {
	alloc *SlabAllocator

	top     *Node
	names   *Node
	kinds   *Node
	columns *Node

	intCols   map[int]*IntColumn
	subCols   map[int]*SubtableColumn

	group *Group
	index int
}

type tableTopBinder struct{ t *Table }

func (b tableTopBinder) UpdateChildRef(slot int, newRef Ref) error {
	return b.t.top.SetRef(uint32(slot), newRef)
}

func (b tableTopBinder) GetChildRef(slot int) Ref {
	return b.t.top.GetRef(uint32(slot))
}

type tableColumnBinder struct{ t *Table }

func (b tableColumnBinder) UpdateChildRef(slot int, newRef Ref) error {
	return b.t.columns.SetRef(uint32(slot), newRef)
}

func (b tableColumnBinder) GetChildRef(slot int) Ref {
	return b.t.columns.GetRef(uint32(slot))
}

func newEmptyTable(alloc *SlabAllocator) (*Table, error) {
	t := &Table{alloc: alloc, intCols: map[int]*IntColumn{}, subCols: map[int]*SubtableColumn{}}

	var err error
	if t.names, err = newRefListNode(alloc); err != nil {
		return nil, err
	}
	if t.kinds, err = newIntListNode(alloc); err != nil {
		return nil, err
	}
	if t.columns, err = newRefListNode(alloc); err != nil {
		return nil, err
	}

	top, err := WithCapacity(alloc, 4, true, true)
	if err != nil {
		return nil, err
	}

	for range make([]int, tableArraySize) {
		if err := top.Add(0); err != nil {
			return nil, err
		}
	}

	t.top = top
	binder := tableTopBinder{t}
	t.names.SetParent(binder, tableSlotNames)
	t.kinds.SetParent(binder, tableSlotKinds)
	t.columns.SetParent(binder, tableSlotColumns)

	if err := t.top.SetRef(tableSlotNames, t.names.Ref()); err != nil {
		return nil, err
	}
	if err := t.top.SetRef(tableSlotKinds, t.kinds.Ref()); err != nil {
		return nil, err
	}
	if err := t.top.SetRef(tableSlotColumns, t.columns.Ref()); err != nil {
		return nil, err
	}

	return t, nil
}

// bindToGroup installs the up-notification binding from this table's top
// Node back into its owning Group's table_refs slot.
func (t *Table) bindToGroup(g *Group, index int) {
	t.group = g
	t.index = index
	t.top.SetParent(groupTableBinder{g}, index)
}

func openTable(g *Group, index int, ref Ref) (*Table, error) {
	alloc := g.alloc

	top, err := Open(alloc, ref)
	if err != nil {
		return nil, err
	}

	if !top.IsInner() || !top.HasChildRefs() || top.Size() != tableArraySize {
		return nil, fmt.Errorf("%w: table top array shape mismatch", ErrCorrupt)
	}

	t := &Table{alloc: alloc, top: top, group: g, index: index, intCols: map[int]*IntColumn{}, subCols: map[int]*SubtableColumn{}}
	t.top.SetParent(groupTableBinder{g}, index)

	binder := tableTopBinder{t}

	open := func(slot int) (*Node, error) {
		r := top.GetRef(uint32(slot))
		if r == RefNull {
			return nil, fmt.Errorf("%w: table top slot %d is null", ErrCorrupt, slot)
		}

		nd, err := Open(alloc, r)
		if err != nil {
			return nil, err
		}

		nd.SetParent(binder, slot)
		return nd, nil
	}

	if t.names, err = open(tableSlotNames); err != nil {
		return nil, err
	}
	if t.kinds, err = open(tableSlotKinds); err != nil {
		return nil, err
	}
	if t.columns, err = open(tableSlotColumns); err != nil {
		return nil, err
	}

	if t.names.Size() != t.kinds.Size() || t.names.Size() != t.columns.Size() {
		return nil, fmt.Errorf("%w: column arrays size mismatch", ErrCorrupt)
	}

	return t, nil
}

// ColumnCount returns the number of columns in this table's spec.
func (t *Table) ColumnCount() int { return int(t.names.Size()) }

// ColumnName returns the name of the column at position idx.
func (t *Table) ColumnName(idx int) (string, error) {
	return readBytesNode(t.alloc, t.names.GetRef(uint32(idx)))
}

func (t *Table) columnIndex(name string) (int, error) {
	return findNameIndex(t.alloc, t.names, name)
}

// AddColumn appends a new, empty column of the given kind.
func (t *Table) AddColumn(name string, kind ColumnKind) error {
	if err := ensureDistinctName(t.alloc, t.names, name); err != nil {
		return err
	}

	idx := int(t.names.Size())

	var dataRef Ref

	switch kind {
	case ColumnKindInt:
		nd, err := WithCapacity(t.alloc, 0, false, false)
		if err != nil {
			return err
		}
		dataRef = nd.Ref()
		t.intCols[idx] = &IntColumn{node: nd}
	case ColumnKindSubtable:
		nd, err := newRefListNode(t.alloc)
		if err != nil {
			return err
		}
		dataRef = nd.Ref()
		t.subCols[idx] = &SubtableColumn{node: nd, alloc: t.alloc}
	default:
		return fmt.Errorf("%w: unknown column kind %d", ErrInvalid, kind)
	}

	if err := appendName(t.alloc, t.names, name); err != nil {
		return err
	}

	if err := t.kinds.Add(uint64(kind)); err != nil {
		return err
	}

	if err := t.columns.AddRef(dataRef); err != nil {
		return err
	}

	if kind == ColumnKindInt {
		t.intCols[idx].node.SetParent(tableColumnBinder{t}, idx)
	} else {
		t.subCols[idx].node.SetParent(tableColumnBinder{t}, idx)
	}

	return nil
}

// IntColumn returns the typed accessor for an existing integer column.
func (t *Table) IntColumn(name string) (*IntColumn, error) {
	idx, err := t.requireColumn(name, ColumnKindInt)
	if err != nil {
		return nil, err
	}

	if c, ok := t.intCols[idx]; ok {
		return c, nil
	}

	nd, err := Open(t.alloc, t.columns.GetRef(uint32(idx)))
	if err != nil {
		return nil, err
	}

	nd.SetParent(tableColumnBinder{t}, idx)
	c := &IntColumn{node: nd}
	t.intCols[idx] = c

	return c, nil
}

// SubtableColumn returns the typed accessor for an existing subtable column.
func (t *Table) SubtableColumn(name string) (*SubtableColumn, error) {
	idx, err := t.requireColumn(name, ColumnKindSubtable)
	if err != nil {
		return nil, err
	}

	if c, ok := t.subCols[idx]; ok {
		return c, nil
	}

	nd, err := Open(t.alloc, t.columns.GetRef(uint32(idx)))
	if err != nil {
		return nil, err
	}

	nd.SetParent(tableColumnBinder{t}, idx)
	c := &SubtableColumn{node: nd, alloc: t.alloc}
	t.subCols[idx] = c

	return c, nil
}

func (t *Table) requireColumn(name string, want ColumnKind) (int, error) {
	idx, err := t.columnIndex(name)
	if err != nil {
		return -1, err
	}

	if idx < 0 {
		return -1, fmt.Errorf("%w: no column %q", ErrInvalid, name)
	}

	if ColumnKind(t.kinds.Get(uint32(idx))) != want {
		return -1, fmt.Errorf("%w: column %q is not the requested kind", ErrInvalid, name)
	}

	return idx, nil
}

// Dirty reports whether any part of this table's subtree changed since the last commit.
func (t *Table) Dirty() bool { return t.top.Dirty() }
