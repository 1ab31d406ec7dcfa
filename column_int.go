package strata

import "fmt"


//============================================= IntColumn


// IntColumn is a Node-backed fixed-width integer array: a minimal client
// of the core engine used to exercise the COW/commit invariants from
// spec.md §8 (scenarios B, C). It does not implement the branching
// threshold from spec.md §3 — a full column would split into a B+-tree
// once it exceeds it; this reference column stays a single growing leaf,
// which is sufficient for everything it is used to test here.
type IntColumn struct {
	node *Node
}

// Size returns the number of rows.
func (c *IntColumn) Size() int { return int(c.node.Size()) }

// Get returns the value at row, or an error if row is out of range.
func (c *IntColumn) Get(row int) (int64, error) {
	if row < 0 || uint32(row) >= c.node.Size() {
		return 0, fmt.Errorf("%w: row %d out of range (n=%d)", ErrInvalid, row, c.node.Size())
	}

	return unzigzag(c.node.Get(uint32(row))), nil
}

// Set overwrites the value at row, growing the column's width if needed.
func (c *IntColumn) Set(row int, v int64) error {
	if row < 0 || uint32(row) >= c.node.Size() {
		return fmt.Errorf("%w: row %d out of range (n=%d)", ErrInvalid, row, c.node.Size())
	}

	return c.node.Set(uint32(row), zigzag(v))
}

// Add appends a new row.
func (c *IntColumn) Add(v int64) error {
	return c.node.Add(zigzag(v))
}

// Insert inserts v at row, shifting subsequent rows right.
func (c *IntColumn) Insert(row int, v int64) error {
	return c.node.Insert(uint32(row), zigzag(v))
}

// Erase removes the row at the given index.
func (c *IntColumn) Erase(row int) error {
	return c.node.Erase(uint32(row))
}

// zigzag/unzigzag map signed values onto the unsigned packed Node
// representation without losing sign information at any width.
func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
