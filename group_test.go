package strata

import (
	"errors"
	"path/filepath"
	"testing"
)


//============================================= Group Tests


func TestGroupEmptyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.strata")

	g, err := OpenFile(path, false, Options{})
	if err != nil { t.Fatalf("open: %v", err) }

	if err := g.Commit(); err != nil { t.Fatalf("commit: %v", err) }

	if n := g.TableCount(); n != 0 { t.Fatalf("expected 0 tables, got %d", n) }

	g2, err := OpenFile(path, true, Options{})
	if err != nil { t.Fatalf("reopen: %v", err) }

	if n := g2.TableCount(); n != 0 { t.Fatalf("expected 0 tables after reopen, got %d", n) }
}

func TestGroupSingleTableSingleRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "single.strata")

	g, err := OpenFile(path, false, Options{})
	if err != nil { t.Fatalf("open: %v", err) }

	tbl, err := g.GetTable("people")
	if err != nil { t.Fatalf("get table: %v", err) }

	if err := tbl.AddColumn("age", ColumnKindInt); err != nil { t.Fatalf("add column: %v", err) }

	age, err := tbl.IntColumn("age")
	if err != nil { t.Fatalf("int column: %v", err) }

	if err := age.Add(42); err != nil { t.Fatalf("add row: %v", err) }

	if err := g.Commit(); err != nil { t.Fatalf("commit: %v", err) }

	g2, err := OpenFile(path, true, Options{})
	if err != nil { t.Fatalf("reopen: %v", err) }

	tbl2, err := g2.GetTable("people")
	if err != nil { t.Fatalf("reopen get table: %v", err) }

	age2, err := tbl2.IntColumn("age")
	if err != nil { t.Fatalf("reopen int column: %v", err) }

	if age2.Size() != 1 { t.Fatalf("expected 1 row, got %d", age2.Size()) }

	v, err := age2.Get(0)
	if err != nil { t.Fatalf("get row 0: %v", err) }
	if v != 42 { t.Fatalf("expected 42, got %d", v) }
}

func TestGroupGrowthAcrossWidth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growth.strata")

	g, err := OpenFile(path, false, Options{})
	if err != nil { t.Fatalf("open: %v", err) }

	tbl, err := g.GetTable("counters")
	if err != nil { t.Fatalf("get table: %v", err) }

	if err := tbl.AddColumn("n", ColumnKindInt); err != nil { t.Fatalf("add column: %v", err) }

	col, err := tbl.IntColumn("n")
	if err != nil { t.Fatalf("int column: %v", err) }

	// Crosses several width_code boundaries. IntColumn stores zigzag
	// values (2*v for v >= 0), so these need element widths of 0, 2, 8,
	// 16 and 32 bits, and finally one that forces a 64-bit element.
	values := []int64{0, 1, 15, 200, 70000, 1 << 40}
	for _, v := range values {
		if err := col.Add(v); err != nil { t.Fatalf("add %d: %v", v, err) }
	}

	if err := g.Commit(); err != nil { t.Fatalf("commit: %v", err) }

	g2, err := OpenFile(path, true, Options{})
	if err != nil { t.Fatalf("reopen: %v", err) }

	tbl2, err := g2.GetTable("counters")
	if err != nil { t.Fatalf("reopen get table: %v", err) }

	col2, err := tbl2.IntColumn("n")
	if err != nil { t.Fatalf("reopen int column: %v", err) }

	if col2.Size() != len(values) { t.Fatalf("expected %d rows, got %d", len(values), col2.Size()) }

	for i, want := range values {
		got, err := col2.Get(i)
		if err != nil { t.Fatalf("get row %d: %v", i, err) }
		if got != want { t.Fatalf("row %d: expected %d, got %d", i, want, got) }
	}

	// g2 is read-only: committing it must be rejected outright.
	if err := g2.Commit(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid committing a read-only Group, got %v", err)
	}
}

func TestGroupNestedSubtables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested.strata")

	g, err := OpenFile(path, false, Options{})
	if err != nil { t.Fatalf("open: %v", err) }

	top, err := g.GetTable("accounts")
	if err != nil { t.Fatalf("get table: %v", err) }

	if err := top.AddColumn("orders", ColumnKindSubtable); err != nil { t.Fatalf("add column: %v", err) }

	orders, err := top.SubtableColumn("orders")
	if err != nil { t.Fatalf("subtable column: %v", err) }

	order, err := orders.Add()
	if err != nil { t.Fatalf("add order row: %v", err) }

	if err := order.AddColumn("items", ColumnKindSubtable); err != nil { t.Fatalf("add items column: %v", err) }

	items, err := order.SubtableColumn("items")
	if err != nil { t.Fatalf("items column: %v", err) }

	item, err := items.Add()
	if err != nil { t.Fatalf("add item row: %v", err) }

	if err := item.AddColumn("qty", ColumnKindInt); err != nil { t.Fatalf("add qty column: %v", err) }

	qty, err := item.IntColumn("qty")
	if err != nil { t.Fatalf("qty column: %v", err) }

	if err := qty.Add(7); err != nil { t.Fatalf("add qty: %v", err) }

	if err := g.Commit(); err != nil { t.Fatalf("commit: %v", err) }

	g2, err := OpenFile(path, true, Options{})
	if err != nil { t.Fatalf("reopen: %v", err) }

	top2, err := g2.GetTable("accounts")
	if err != nil { t.Fatalf("reopen get table: %v", err) }

	orders2, err := top2.SubtableColumn("orders")
	if err != nil { t.Fatalf("reopen orders column: %v", err) }

	if orders2.Size() != 1 { t.Fatalf("expected 1 order row, got %d", orders2.Size()) }

	order2, err := orders2.Get(0)
	if err != nil { t.Fatalf("get order row: %v", err) }

	items2, err := order2.SubtableColumn("items")
	if err != nil { t.Fatalf("reopen items column: %v", err) }

	item2, err := items2.Get(0)
	if err != nil { t.Fatalf("get item row: %v", err) }

	qty2, err := item2.IntColumn("qty")
	if err != nil { t.Fatalf("reopen qty column: %v", err) }

	v, err := qty2.Get(0)
	if err != nil { t.Fatalf("get qty: %v", err) }
	if v != 7 { t.Fatalf("expected qty 7, got %d", v) }
}

func TestGroupBufferModeIsImmutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.strata")

	g, err := OpenFile(path, false, Options{})
	if err != nil { t.Fatalf("open: %v", err) }

	tbl, err := g.GetTable("t")
	if err != nil { t.Fatalf("get table: %v", err) }

	if err := tbl.AddColumn("v", ColumnKindInt); err != nil { t.Fatalf("add column: %v", err) }

	col, err := tbl.IntColumn("v")
	if err != nil { t.Fatalf("int column: %v", err) }

	if err := col.Add(9); err != nil { t.Fatalf("add row: %v", err) }

	if err := g.Commit(); err != nil { t.Fatalf("commit: %v", err) }

	buf, err := g.WriteToMem()
	if err != nil { t.Fatalf("write to mem: %v", err) }

	bg, err := OpenBuffer(buf, Options{})
	if err != nil { t.Fatalf("open buffer: %v", err) }

	if err := bg.Commit(); err == nil {
		t.Fatal("expected commit on a buffer-backed Group to fail")
	}

	btbl, err := bg.GetTable("t")
	if err != nil { t.Fatalf("buffer get table: %v", err) }

	bcol, err := btbl.IntColumn("v")
	if err != nil { t.Fatalf("buffer int column: %v", err) }

	v, err := bcol.Get(0)
	if err != nil { t.Fatalf("buffer get row 0: %v", err) }
	if v != 9 { t.Fatalf("expected 9, got %d", v) }

	if _, err := bg.GetTable("does-not-exist"); err == nil {
		t.Fatal("expected error fetching a nonexistent table from a read-only Group")
	}
}
