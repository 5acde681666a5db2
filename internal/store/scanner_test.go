package store

import (
	"testing"

	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/rowkey"
)

func TestScannerMergesMemcacheAndFlushedFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(fsx.NewOSFilesystem(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	s.Add(key("r1", "cf:a", 100), []byte("flushed"))
	s.SnapshotMemcache()
	if err := s.FlushCache(1); err != nil {
		t.Fatal(err)
	}
	s.Add(key("r1", "cf:b", 50), []byte("live"))
	s.Add(key("r2", "cf:a", 10), []byte("row2"))

	cells, err := s.Scanner(1000, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 3 {
		t.Fatalf("got %d cells, want 3: %+v", len(cells), cells)
	}
	for i := 1; i < len(cells); i++ {
		if !rowkey.Less(cells[i-1].Key, cells[i].Key) && rowkey.Compare(cells[i-1].Key, cells[i].Key) != 0 {
			t.Fatalf("cells not ascending at %d: %+v then %+v", i, cells[i-1], cells[i])
		}
	}
}

func TestScannerRespectsTimestampAndColumnMatcher(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(fsx.NewOSFilesystem(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	s.Add(key("r1", "cf:a", 100), []byte("a"))
	s.Add(key("r1", "cf:b", 200), []byte("b"))

	matcher, err := rowkey.ParseColumnSpec([]byte("cf:a"))
	if err != nil {
		t.Fatal(err)
	}
	cells, err := s.Scanner(1000, []rowkey.ColumnMatcher{matcher}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 1 || string(cells[0].Value) != "a" {
		t.Fatalf("column-filtered scan = %+v", cells)
	}

	cells, err = s.Scanner(150, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 1 || string(cells[0].Value) != "a" {
		t.Fatalf("timestamp-bounded scan = %+v", cells)
	}
}

func TestScannerFirstRowSkipsEarlierRows(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(fsx.NewOSFilesystem(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	s.Add(key("r1", "cf:a", 100), []byte("v1"))
	s.Add(key("r2", "cf:a", 100), []byte("v2"))
	s.SnapshotMemcache()
	if err := s.FlushCache(1); err != nil {
		t.Fatal(err)
	}

	cells, err := s.Scanner(1000, nil, []byte("r2"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 1 || string(cells[0].Key.Row) != "r2" {
		t.Fatalf("firstRow-filtered scan = %+v", cells)
	}
}
