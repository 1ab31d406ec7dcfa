package strata

import (
	"path/filepath"
	"testing"
)


//============================================= Writer Tests


func TestCommitIsIdempotentWithNoMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotent.strata")

	g, err := OpenFile(path, false, Options{})
	if err != nil { t.Fatalf("open: %v", err) }

	tbl, err := g.GetTable("t")
	if err != nil { t.Fatalf("get table: %v", err) }

	if err := tbl.AddColumn("v", ColumnKindInt); err != nil { t.Fatalf("add column: %v", err) }

	col, err := tbl.IntColumn("v")
	if err != nil { t.Fatalf("int column: %v", err) }

	if err := col.Add(1); err != nil { t.Fatalf("add row: %v", err) }

	if err := g.Commit(); err != nil { t.Fatalf("first commit: %v", err) }

	sizeAfterFirst := g.fm.Len()

	// No mutation since the first commit: collectDirty finds nothing and
	// the second commit must be a true no-op, not grow the file again.
	if err := g.Commit(); err != nil { t.Fatalf("second commit: %v", err) }

	if g.fm.Len() != sizeAfterFirst {
		t.Fatalf("second no-op commit changed file size: %d -> %d", sizeAfterFirst, g.fm.Len())
	}
}

func TestFreeListConservationAfterRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conserve.strata")

	g, err := OpenFile(path, false, Options{})
	if err != nil { t.Fatalf("open: %v", err) }

	tbl, err := g.GetTable("t")
	if err != nil { t.Fatalf("get table: %v", err) }

	if err := tbl.AddColumn("v", ColumnKindInt); err != nil { t.Fatalf("add column: %v", err) }

	col, err := tbl.IntColumn("v")
	if err != nil { t.Fatalf("int column: %v", err) }

	if err := col.Add(1); err != nil { t.Fatalf("add row 1: %v", err) }

	if err := g.Commit(); err != nil { t.Fatalf("commit 1: %v", err) }

	// Handles from before a commit must not be reused — Commit() clears the
	// Group's table cache and may have remapped the file out from under any
	// stale *Node.data slice. Re-fetch fresh handles instead.
	tbl, err = g.GetTable("t")
	if err != nil { t.Fatalf("re-get table: %v", err) }

	col2, err := tbl.IntColumn("v")
	if err != nil { t.Fatalf("int column 2: %v", err) }

	// Mutate the same column again: its first-commit extent is now
	// superseded and must appear in the free-space database, fully
	// accounted for against the file length (no space is lost or
	// double-counted).
	if err := col2.Add(2); err != nil { t.Fatalf("add row 2: %v", err) }

	if err := g.Commit(); err != nil { t.Fatalf("commit 2: %v", err) }

	if g.alloc.FreeListSize() == 0 {
		t.Fatal("expected at least one free extent after superseding a committed node")
	}

	if g.alloc.FreeBytes() >= g.fm.Len() {
		t.Fatalf("free bytes %d should be smaller than the whole file %d", g.alloc.FreeBytes(), g.fm.Len())
	}

	for _, e := range g.alloc.free {
		if e.position+e.length > g.fm.Len() {
			t.Fatalf("free extent [%d,%d) exceeds file length %d", e.position, e.position+e.length, g.fm.Len())
		}
	}
}

func TestCOWDoesNotMutateCommittedBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cow.strata")

	g, err := OpenFile(path, false, Options{})
	if err != nil { t.Fatalf("open: %v", err) }

	tbl, err := g.GetTable("t")
	if err != nil { t.Fatalf("get table: %v", err) }

	if err := tbl.AddColumn("v", ColumnKindInt); err != nil { t.Fatalf("add column: %v", err) }

	col, err := tbl.IntColumn("v")
	if err != nil { t.Fatalf("int column: %v", err) }

	if err := col.Add(111); err != nil { t.Fatalf("add row: %v", err) }

	if err := g.Commit(); err != nil { t.Fatalf("commit: %v", err) }

	// Re-fetch after the commit boundary: a handle held across Commit() is
	// not safe to reuse (the Group's table cache is cleared and a growing
	// commit may have remapped the file), so the COW check below must start
	// from a freshly opened column, not the pre-commit one.
	tbl, err = g.GetTable("t")
	if err != nil { t.Fatalf("re-get table: %v", err) }

	col, err = tbl.IntColumn("v")
	if err != nil { t.Fatalf("re-get column: %v", err) }

	committedRef := col.node.Ref()
	committedBytes := append([]byte(nil), col.node.Bytes()...)

	// Mutating after commit must copy-on-write: the committed ref's bytes
	// must not change even though the live handle now points elsewhere.
	if err := col.Set(0, 222); err != nil { t.Fatalf("set: %v", err) }

	if col.node.Ref() == committedRef {
		t.Fatal("expected copy-on-write to allocate a new ref")
	}

	stillThere, err := g.alloc.Translate(committedRef, uint32(len(committedBytes)))
	if err != nil { t.Fatalf("translate old ref: %v", err) }

	for i := range committedBytes {
		if stillThere[i] != committedBytes[i] {
			t.Fatalf("byte %d of the old committed node changed: %d -> %d", i, committedBytes[i], stillThere[i])
		}
	}
}
