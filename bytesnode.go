package strata

import "fmt"


//============================================= Byte-blob Nodes


// newBytesNode creates a width-8 leaf Node holding raw bytes, the building
// block used for table/column names: spec.md's "string-node" reduced to
// what this engine's minimal clients need — one Node per name, referenced
// by a parent ref-list.
func newBytesNode(alloc *SlabAllocator, data []byte) (*Node, error) {
	nd, err := WithCapacity(alloc, 4 /* width 8 */, false, false)
	if err != nil {
		return nil, err
	}

	for _, b := range data {
		if err := nd.Add(uint64(b)); err != nil {
			return nil, err
		}
	}

	return nd, nil
}

func readBytesNode(alloc *SlabAllocator, ref Ref) (string, error) {
	if ref == RefNull {
		return "", nil
	}

	nd, err := Open(alloc, ref)
	if err != nil {
		return "", err
	}

	buf := make([]byte, nd.Size())
	for i := uint32(0); i < nd.Size(); i++ {
		buf[i] = byte(nd.Get(i))
	}

	return string(buf), nil
}

// newRefListNode creates an empty, flat ref-list Node (hasChildRefs set,
// is_inner clear — these are plain arrays of refs, not B+-tree inner
// nodes with an offset vector).
func newRefListNode(alloc *SlabAllocator) (*Node, error) {
	return WithCapacity(alloc, 4 /* width 8, grows as refs are added */, true, false)
}

// newIntListNode creates an empty, flat Node of plain (non-ref) integers.
func newIntListNode(alloc *SlabAllocator) (*Node, error) {
	return WithCapacity(alloc, 0, false, false)
}

// findNameIndex implements spec.md §4.4's "tie-break for equal prefixes:
// exact byte equality" lookup over a names ref-list.
func findNameIndex(alloc *SlabAllocator, names *Node, name string) (int, error) {
	for i := uint32(0); i < names.Size(); i++ {
		s, err := readBytesNode(alloc, names.GetRef(i))
		if err != nil {
			return -1, err
		}

		if s == name {
			return int(i), nil
		}
	}

	return -1, nil
}

func appendName(alloc *SlabAllocator, names *Node, name string) error {
	nameNode, err := newBytesNode(alloc, []byte(name))
	if err != nil {
		return err
	}

	return names.AddRef(nameNode.Ref())
}

func ensureDistinctName(alloc *SlabAllocator, names *Node, name string) error {
	idx, err := findNameIndex(alloc, names, name)
	if err != nil {
		return err
	}

	if idx >= 0 {
		return fmt.Errorf("%w: duplicate name %q", ErrInvalid, name)
	}

	return nil
}
