package strata

import (
	"encoding/binary"
	"path/filepath"
	"testing"
)


//============================================= Recovery Tests


// TestRecoveryFallsBackToPreviousTopRef simulates a crash between
// installTopRef's two writes: offset 0 (the "current" slot) is left
// holding garbage, but offset 8 (the "previous" slot, synced first)
// still names a valid, fully-written top array. Reopening the database
// must recover via that fallback rather than surfacing corruption.
func TestRecoveryFallsBackToPreviousTopRef(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovery.strata")

	g, err := OpenFile(path, false, Options{})
	if err != nil { t.Fatalf("open: %v", err) }

	tbl, err := g.GetTable("t")
	if err != nil { t.Fatalf("get table: %v", err) }

	if err := tbl.AddColumn("v", ColumnKindInt); err != nil { t.Fatalf("add column: %v", err) }

	col, err := tbl.IntColumn("v")
	if err != nil { t.Fatalf("int column: %v", err) }

	if err := col.Add(5); err != nil { t.Fatalf("add row: %v", err) }

	if err := g.Commit(); err != nil { t.Fatalf("commit: %v", err) }

	if err := g.fm.Close(); err != nil { t.Fatalf("close: %v", err) }

	fm, err := OpenFileMap(path, false)
	if err != nil { t.Fatalf("reopen filemap: %v", err) }

	base := fm.Base()
	prev := binary.LittleEndian.Uint64(base[8:16])
	if prev == 0 { t.Fatal("expected a non-null previous top ref after a commit") }

	// Corrupt the current slot only; the previous slot is untouched.
	binary.LittleEndian.PutUint64(base[0:8], 0xdeadbeef)
	if err := fm.Sync(); err != nil { t.Fatalf("sync corruption: %v", err) }
	if err := fm.Close(); err != nil { t.Fatalf("close filemap: %v", err) }

	g2, err := OpenFile(path, true, Options{})
	if err != nil { t.Fatalf("recover: %v", err) }

	tbl2, err := g2.GetTable("t")
	if err != nil { t.Fatalf("recovered get table: %v", err) }

	col2, err := tbl2.IntColumn("v")
	if err != nil { t.Fatalf("recovered int column: %v", err) }

	v, err := col2.Get(0)
	if err != nil { t.Fatalf("recovered get row 0: %v", err) }
	if v != 5 { t.Fatalf("expected recovered value 5, got %d", v) }
}
