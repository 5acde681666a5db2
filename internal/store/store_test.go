package store

import (
	"testing"

	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/rowkey"
)

func key(row, col string, ts int64) rowkey.Key {
	return rowkey.Key{Row: []byte(row), Column: []byte(col), Timestamp: ts}
}

func TestFlushCacheThenGetReadsFromFile(t *testing.T) {
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

	vals, err := s.Get(key("r1", "cf:a", 100), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 1 || string(vals[0]) != "v1" {
		t.Fatalf("Get after flush = %v", vals)
	}
}

func TestNeedsCompactionByFileCount(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(fsx.NewOSFilesystem(), dir, Options{CompactionThreshold: 2})
	if err != nil {
		t.Fatal(err)
	}
	if s.NeedsCompaction() {
		t.Fatal("empty store should not need compaction")
	}
	for i := uint64(1); i <= 2; i++ {
		s.Add(key("r", "cf:a", int64(i)), []byte("v"))
		s.SnapshotMemcache()
		if err := s.FlushCache(i); err != nil {
			t.Fatal(err)
		}
	}
	if !s.NeedsCompaction() {
		t.Fatal("store with 2 files at threshold 2 should need compaction")
	}
}

func TestCompactDropsTombstonesAndCapsVersions(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(fsx.NewOSFilesystem(), dir, Options{MaxVersions: 1})
	if err != nil {
		t.Fatal(err)
	}
	s.Add(key("r1", "cf:a", 100), []byte("old"))
	s.SnapshotMemcache()
	if err := s.FlushCache(1); err != nil {
		t.Fatal(err)
	}
	s.Add(key("r1", "cf:a", 200), []byte("new"))
	s.SnapshotMemcache()
	if err := s.FlushCache(2); err != nil {
		t.Fatal(err)
	}
	s.Add(key("r2", "cf:a", 300), rowkey.DeleteMarker)
	s.SnapshotMemcache()
	if err := s.FlushCache(3); err != nil {
		t.Fatal(err)
	}

	if err := s.Compact(); err != nil {
		t.Fatal(err)
	}
	if len(s.files) != 1 {
		t.Fatalf("expected exactly 1 file after compaction, got %d", len(s.files))
	}

	vals, err := s.Get(key("r1", "cf:a", 200), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 1 || string(vals[0]) != "new" {
		t.Fatalf("Get r1 after compaction = %v, want only the newest version retained (maxVersions=1)", vals)
	}

	vals, err = s.Get(key("r2", "cf:a", 300), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 0 {
		t.Fatalf("Get r2 after compaction = %v, want none (tombstoned, nothing else to show)", vals)
	}
}

func TestCompactIsNoOpWithFewerThanTwoFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(fsx.NewOSFilesystem(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	s.Add(key("r1", "cf:a", 100), []byte("v"))
	s.SnapshotMemcache()
	if err := s.FlushCache(1); err != nil {
		t.Fatal(err)
	}
	if err := s.Compact(); err != nil {
		t.Fatal(err)
	}
	if len(s.files) != 1 {
		t.Fatalf("single-file compact should be a no-op, got %d files", len(s.files))
	}
}
