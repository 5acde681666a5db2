package scan

import (
	"testing"

	"github.com/brimdb/regiondb/internal/rowkey"
)

func edit(row, col string, ts int64, value string, del bool) rowkey.Edit {
	var v []byte
	if del {
		v = rowkey.DeleteMarker
	} else {
		v = []byte(value)
	}
	return rowkey.Edit{Key: rowkey.Key{Row: []byte(row), Column: []byte(col), Timestamp: ts}, Value: v, Delete: del}
}

func TestStoreScannerFirstValuePerColumnWins(t *testing.T) {
	cells := []rowkey.Edit{
		edit("r1", "cf:a", 200, "newest", false),
		edit("r1", "cf:a", 100, "older", false),
		edit("r1", "cf:b", 150, "b1", false),
		edit("r2", "cf:a", 100, "r2a", false),
	}
	sc := NewStoreScanner(cells)

	row, ok := sc.Take()
	if !ok {
		t.Fatal("expected first row")
	}
	if string(row.Row) != "r1" {
		t.Fatalf("row = %q, want r1", row.Row)
	}
	if string(row.Columns["cf:a"].Value) != "newest" {
		t.Fatalf("cf:a = %q, want newest (first-wins)", row.Columns["cf:a"].Value)
	}
	if string(row.Columns["cf:b"].Value) != "b1" {
		t.Fatalf("cf:b = %q", row.Columns["cf:b"].Value)
	}

	row, ok = sc.Take()
	if !ok || string(row.Row) != "r2" {
		t.Fatalf("expected r2, got %+v ok=%v", row, ok)
	}

	if _, ok := sc.Take(); ok {
		t.Fatal("expected exhausted scanner")
	}
}

func TestStoreScannerTombstoneOccludesOlderValue(t *testing.T) {
	cells := []rowkey.Edit{
		edit("r1", "cf:a", 200, "", true),
		edit("r1", "cf:a", 100, "older", false),
	}
	sc := NewStoreScanner(cells)
	row, ok := sc.Take()
	if !ok {
		t.Fatal("expected a row")
	}
	e, ok := row.Columns["cf:a"]
	if !ok {
		t.Fatal("expected cf:a present (as tombstone)")
	}
	if !e.Delete {
		t.Fatalf("expected cf:a to be the tombstone, got %+v", e)
	}
}

func TestRegionScannerMergesAcrossFamiliesByRow(t *testing.T) {
	famA := NewStoreScanner([]rowkey.Edit{
		edit("r1", "cf:a", 100, "a1", false),
		edit("r3", "cf:a", 100, "a3", false),
	})
	famB := NewStoreScanner([]rowkey.Edit{
		edit("r1", "cf:b", 100, "b1", false),
		edit("r2", "cf:b", 100, "b2", false),
	})
	rs := NewRegionScanner([]*StoreScanner{famA, famB}, nil)

	var rows []*Row
	for {
		row, ok, err := rs.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if string(rows[0].Row) != "r1" || string(rows[1].Row) != "r2" || string(rows[2].Row) != "r3" {
		t.Fatalf("rows out of order: %q %q %q", rows[0].Row, rows[1].Row, rows[2].Row)
	}
	if string(rows[0].Columns["cf:a"].Value) != "a1" || string(rows[0].Columns["cf:b"].Value) != "b1" {
		t.Fatalf("r1 merge wrong: %+v", rows[0].Columns)
	}
}

type dropColumnFilter struct {
	dropRow    string
	dropColumn string
	stopAfter  int
	seen       int
}

func (f *dropColumnFilter) FilterRow(row []byte) bool {
	return string(row) != f.dropRow
}

func (f *dropColumnFilter) FilterCell(row, column, value []byte) bool {
	return string(column) != f.dropColumn
}

func (f *dropColumnFilter) FilterAllRemaining() bool {
	if f.stopAfter == 0 {
		return false
	}
	f.seen++
	return f.seen > f.stopAfter
}

func TestRegionScannerRowFilterDropsRowAndColumn(t *testing.T) {
	fam := NewStoreScanner([]rowkey.Edit{
		edit("r1", "cf:a", 100, "a1", false),
		edit("r1", "cf:b", 100, "b1", false),
		edit("r2", "cf:a", 100, "a2", false),
	})
	filter := &dropColumnFilter{dropRow: "r2", dropColumn: "cf:b"}
	rs := NewRegionScanner([]*StoreScanner{fam}, filter)

	row, ok, err := rs.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(row.Row) != "r1" {
		t.Fatalf("expected r1, got %+v ok=%v", row, ok)
	}
	if _, present := row.Columns["cf:b"]; present {
		t.Fatal("cf:b should have been dropped by FilterCell")
	}
	if _, present := row.Columns["cf:a"]; !present {
		t.Fatal("cf:a should have survived")
	}

	_, ok, err = rs.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("r2 should have been dropped by FilterRow")
	}
}

func TestRegionScannerFilterAllRemainingStopsScan(t *testing.T) {
	fam := NewStoreScanner([]rowkey.Edit{
		edit("r1", "cf:a", 100, "a1", false),
		edit("r2", "cf:a", 100, "a2", false),
		edit("r3", "cf:a", 100, "a3", false),
	})
	filter := &dropColumnFilter{stopAfter: 1}
	rs := NewRegionScanner([]*StoreScanner{fam}, filter)

	row, ok, err := rs.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(row.Row) != "r1" {
		t.Fatalf("expected r1, got %+v ok=%v", row, ok)
	}

	_, ok, err = rs.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected scan to stop after FilterAllRemaining reported true")
	}
}
