package strata

import "fmt"


//============================================= SubtableColumn


// SubtableColumn is a ref-list Node whose elements are nested Table top
// refs, materialized and cached lazily exactly like Group.GetTable, per
// spec.md §9's "table cache" note generalized one level down. It supports
// spec.md §8 scenario D's three-level nesting.
type SubtableColumn struct {
	node  *Node
	alloc *SlabAllocator

	cache map[int]*Table
}

// Size returns the number of nested-table rows.
func (c *SubtableColumn) Size() int { return int(c.node.Size()) }

// Get materializes (or returns the cached handle for) the nested table at row.
//
// The handle becomes invalid, per spec.md §3's ownership rule, once its
// enclosing commit completes or its row is erased — callers must re-fetch
// after either event.
func (c *SubtableColumn) Get(row int) (*Table, error) {
	if row < 0 || uint32(row) >= c.node.Size() {
		return nil, fmt.Errorf("%w: row %d out of range (n=%d)", ErrInvalid, row, c.node.Size())
	}

	if c.cache == nil {
		c.cache = map[int]*Table{}
	}

	if t, ok := c.cache[row]; ok {
		return t, nil
	}

	ref := c.node.GetRef(uint32(row))
	if ref == RefNull {
		return nil, fmt.Errorf("%w: row %d has no nested table", ErrCorrupt, row)
	}

	t, err := openNestedTable(c.alloc, ref, c, row)
	if err != nil {
		return nil, err
	}

	c.cache[row] = t

	return t, nil
}

// Add appends a new, empty nested table and returns its handle.
func (c *SubtableColumn) Add() (*Table, error) {
	t, err := newEmptyTable(c.alloc)
	if err != nil {
		return nil, err
	}

	row := int(c.node.Size())

	if err := c.node.AddRef(t.top.Ref()); err != nil {
		return nil, err
	}

	t.top.SetParent(subtableColumnBinder{c}, row)

	if c.cache == nil {
		c.cache = map[int]*Table{}
	}
	c.cache[row] = t

	return t, nil
}

// subtableColumnBinder routes a nested table's top-ref updates back into
// its owning SubtableColumn's ref-list at a fixed row.
type subtableColumnBinder struct{ c *SubtableColumn }

func (b subtableColumnBinder) UpdateChildRef(slot int, newRef Ref) error {
	return b.c.node.SetRef(uint32(slot), newRef)
}

func (b subtableColumnBinder) GetChildRef(slot int) Ref {
	return b.c.node.GetRef(uint32(slot))
}

// openNestedTable is like openTable but for a table whose parent is a
// SubtableColumn row rather than a Group's table_refs slot.
func openNestedTable(alloc *SlabAllocator, ref Ref, c *SubtableColumn, row int) (*Table, error) {
	top, err := Open(alloc, ref)
	if err != nil {
		return nil, err
	}

	if !top.IsInner() || !top.HasChildRefs() || top.Size() != tableArraySize {
		return nil, fmt.Errorf("%w: nested table top array shape mismatch", ErrCorrupt)
	}

	t := &Table{alloc: alloc, top: top, intCols: map[int]*IntColumn{}, subCols: map[int]*SubtableColumn{}}
	t.top.SetParent(subtableColumnBinder{c}, row)

	binder := tableTopBinder{t}

	open := func(slot int) (*Node, error) {
		r := top.GetRef(uint32(slot))
		if r == RefNull {
			return nil, fmt.Errorf("%w: nested table top slot %d is null", ErrCorrupt, slot)
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

	return t, nil
}
