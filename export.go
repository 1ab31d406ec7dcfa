package strata

import (
	"encoding/binary"
	"fmt"
	"os"
)


//============================================= Export


// exporter compacts a Group's reachable node tree into a brand-new,
// contiguous byte image, ignoring the source allocator's free list
// entirely (a fresh export starts with none), per spec.md §4.4/§6. It
// walks the tree post-order: every child is written, and so already has
// its final offset, before its parent's payload is encoded.
type exporter struct {
	src *SlabAllocator
	out []byte
}

// write recursively compacts the subtree rooted at ref and returns ref's
// offset in the output image. RefNull maps to itself.
func (ex *exporter) write(ref Ref) (uint64, error) {
	if ref == RefNull {
		return 0, nil
	}

	nd, err := Open(ex.src, ref)
	if err != nil {
		return 0, err
	}

	if !nd.hasChildRefs {
		values := make([]uint64, nd.n)
		for i := uint32(0); i < nd.n; i++ {
			values[i] = nd.Get(i)
		}

		return ex.emit(nd.isInner, nd.hasChildRefs, nd.isIndex, nd.widthCode, values)
	}

	newRefs := make([]uint64, nd.n)
	for i := uint32(0); i < nd.n; i++ {
		off, err := ex.write(nd.GetRef(i))
		if err != nil {
			return 0, err
		}

		newRefs[i] = off
	}

	widthCode := nd.widthCode
	for _, v := range newRefs {
		if c := widthCodeFor(v); c > widthCode {
			widthCode = c
		}
	}

	return ex.emit(nd.isInner, nd.hasChildRefs, nd.isIndex, widthCode, newRefs)
}

// emit appends one freshly encoded Node to the output image and returns
// its offset.
func (ex *exporter) emit(isInner, hasChildRefs, isIndex bool, widthCode uint8, values []uint64) (uint64, error) {
	payloadBytes := (uint64(widthBitsTable[widthCode])*uint64(len(values)) + 7) / 8
	capacity := roundUp8(headerSize + uint32(payloadBytes))

	offset := uint64(len(ex.out))
	buf := make([]byte, capacity)

	tmp := &Node{isInner: isInner, hasChildRefs: hasChildRefs, isIndex: isIndex, widthCode: widthCode, n: uint32(len(values)), data: buf}
	tmp.encodeHeader()

	payload := buf[headerSize:]
	for i, v := range values {
		putBits(payload, uint32(i), widthBitsTable[widthCode], v)
	}

	ex.out = append(ex.out, buf...)

	return offset, nil
}

// WriteToMem produces a minimal, self-contained byte image of the
// Group's current in-memory content: every table/column/row reachable
// from the Group's names and table_refs Nodes is copied into fresh,
// tightly packed positions and the free list is reset to empty, matching
// a brand-new database's layout (spec.md §4.4/§6). Uncommitted
// (slab-resident) changes are included, since the walk resolves slab refs
// through the allocator like file refs.
func (g *Group) WriteToMem() ([]byte, error) {
	ex := &exporter{src: g.alloc, out: make([]byte, headerSize*2)}

	namesOff, err := ex.write(g.names.Ref())
	if err != nil {
		return nil, fmt.Errorf("export names: %w", err)
	}

	tableRefsOff, err := ex.write(g.tableRefs.Ref())
	if err != nil {
		return nil, fmt.Errorf("export table refs: %w", err)
	}

	freePosOff, err := ex.emit(false, false, false, 0, nil)
	if err != nil {
		return nil, err
	}

	freeLenOff, err := ex.emit(false, false, false, 0, nil)
	if err != nil {
		return nil, err
	}

	freeVerOff, err := ex.emit(false, false, false, 0, nil)
	if err != nil {
		return nil, err
	}

	children := []uint64{namesOff, tableRefsOff, freePosOff, freeLenOff, freeVerOff}

	topWidth := uint8(0)
	for _, v := range children {
		if c := widthCodeFor(v); c > topWidth {
			topWidth = c
		}
	}

	topOff, err := ex.emit(true, true, false, topWidth, children)
	if err != nil {
		return nil, fmt.Errorf("export top array: %w", err)
	}

	binary.LittleEndian.PutUint64(ex.out[0:8], topOff)
	binary.LittleEndian.PutUint64(ex.out[8:16], topOff)

	return ex.out, nil
}

// Write exports the Group to a brand-new file at path, via a temp file
// swapped into place once fully and durably written — the same
// write-then-rename shape the teacher's compaction handler uses to
// replace a live database file without ever exposing a partially
// written one.
func (g *Group) Write(path string) error {
	data, err := g.WriteToMem()
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIo, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrIo, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrIo, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrIo, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: %v", ErrIo, err)
	}

	return nil
}
