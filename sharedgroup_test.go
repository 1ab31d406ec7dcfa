package strata

import (
	"path/filepath"
	"testing"
)


//============================================= SharedGroup Tests


func mustWriteRow(t *testing.T, sg *SharedGroup, table, column string, v int64) {
	t.Helper()

	g, err := sg.BeginWrite()
	if err != nil { t.Fatalf("begin write: %v", err) }

	tbl, err := g.GetTable(table)
	if err != nil { t.Fatalf("get table: %v", err) }

	if _, err := tbl.IntColumn(column); err != nil {
		if err := tbl.AddColumn(column, ColumnKindInt); err != nil { t.Fatalf("add column: %v", err) }
	}

	col, err := tbl.IntColumn(column)
	if err != nil { t.Fatalf("int column: %v", err) }

	if err := col.Add(v); err != nil { t.Fatalf("add row: %v", err) }

	if err := sg.Commit(g); err != nil { t.Fatalf("commit: %v", err) }
}

func TestSharedGroupReaderIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isolation.strata")

	sg, err := OpenSharedGroup(path, Options{})
	if err != nil { t.Fatalf("open shared group: %v", err) }
	defer sg.Close()

	mustWriteRow(t, sg, "t", "v", 1)

	r, h, err := sg.BeginRead()
	if err != nil { t.Fatalf("begin read: %v", err) }

	mustWriteRow(t, sg, "t", "v", 2)

	// The reader's snapshot was taken before the second write and must
	// still see exactly one row.
	tbl, err := r.GetTable("t")
	if err != nil { t.Fatalf("reader get table: %v", err) }

	col, err := tbl.IntColumn("v")
	if err != nil { t.Fatalf("reader int column: %v", err) }

	if col.Size() != 1 { t.Fatalf("expected reader to see 1 row, got %d", col.Size()) }

	if err := sg.EndRead(h); err != nil { t.Fatalf("end read: %v", err) }

	r2, h2, err := sg.BeginRead()
	if err != nil { t.Fatalf("begin read 2: %v", err) }
	defer sg.EndRead(h2)

	tbl2, err := r2.GetTable("t")
	if err != nil { t.Fatalf("reader2 get table: %v", err) }

	col2, err := tbl2.IntColumn("v")
	if err != nil { t.Fatalf("reader2 int column: %v", err) }

	if col2.Size() != 2 { t.Fatalf("expected new reader to see 2 rows, got %d", col2.Size()) }
}

func TestSharedGroupReclaimsOnlyAfterReaderIsDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reclaim.strata")

	sg, err := OpenSharedGroup(path, Options{})
	if err != nil { t.Fatalf("open shared group: %v", err) }
	defer sg.Close()

	mustWriteRow(t, sg, "t", "v", 1)

	// A reader pins the version produced by the write above.
	_, h, err := sg.BeginRead()
	if err != nil { t.Fatalf("begin read: %v", err) }

	// A second write supersedes the column the reader's snapshot depends
	// on; the extent it frees must be tagged, not immediately reusable.
	mustWriteRow(t, sg, "t", "v", 2)

	g3, err := sg.BeginWrite()
	if err != nil { t.Fatalf("begin write 3: %v", err) }

	taggedBefore := 0
	for _, e := range g3.alloc.free {
		if e.version != 0 {
			taggedBefore++
		}
	}
	if taggedBefore == 0 {
		t.Fatal("expected at least one version-tagged free extent while a reader is active")
	}
	if err := sg.Rollback(g3); err != nil { t.Fatalf("rollback 3: %v", err) }

	if err := sg.EndRead(h); err != nil { t.Fatalf("end read: %v", err) }

	// With the reader gone, the next write's reclaim pass must clear
	// every previously withheld extent back to unconditionally reusable.
	mustWriteRow(t, sg, "t", "v", 3)

	g5, err := sg.BeginWrite()
	if err != nil { t.Fatalf("begin write 5: %v", err) }
	defer sg.Rollback(g5)

	for _, e := range g5.alloc.free {
		if e.version != 0 {
			t.Fatalf("extent at %d still tagged version %d after last reader ended", e.position, e.version)
		}
	}
}

func TestSharedGroupInterrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interrupt.strata")

	sg, err := OpenSharedGroup(path, Options{})
	if err != nil { t.Fatalf("open shared group: %v", err) }
	defer sg.Close()

	sg.Interrupt()

	if _, err := sg.BeginWrite(); err == nil {
		t.Fatal("expected BeginWrite to fail after Interrupt")
	}

	sg.ClearInterrupt()

	g, err := sg.BeginWrite()
	if err != nil { t.Fatalf("begin write after clear: %v", err) }
	if err := sg.Rollback(g); err != nil { t.Fatalf("rollback: %v", err) }
}
