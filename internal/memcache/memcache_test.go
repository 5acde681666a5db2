package memcache

import (
	"math"
	"testing"

	"github.com/brimdb/regiondb/internal/rowkey"
)

func k(row, col string, ts int64) rowkey.Key {
	return rowkey.Key{Row: []byte(row), Column: []byte(col), Timestamp: ts}
}

func TestAddAndGetNewestFirst(t *testing.T) {
	m := New()
	m.Add(k("r1", "cf:a", 100), []byte("v100"))
	m.Add(k("r1", "cf:a", 200), []byte("v200"))
	m.Add(k("r1", "cf:a", 50), []byte("v50"))

	vals := m.Get(k("r1", "cf:a", 200), 2, rowkey.NewDeletes())
	if len(vals) != 2 || string(vals[0]) != "v200" || string(vals[1]) != "v100" {
		t.Fatalf("Get = %v", stringsOf(vals))
	}
}

func TestGetSkipsTombstoneAndRespectsTimestampBound(t *testing.T) {
	m := New()
	m.Add(k("r1", "cf:a", 100), []byte("v100"))
	m.Add(k("r1", "cf:a", 150), rowkey.DeleteMarker)

	vals := m.Get(k("r1", "cf:a", 120), 5, rowkey.NewDeletes())
	if len(vals) != 1 || string(vals[0]) != "v100" {
		t.Fatalf("Get with ts bound = %v", stringsOf(vals))
	}
}

func TestSnapshotMovesLiveAndIsIdempotentWhenEmpty(t *testing.T) {
	m := New()
	m.Add(k("r1", "cf:a", 1), []byte("v"))
	m.Snapshot()
	if m.Len() != 0 {
		t.Fatalf("live should be empty after snapshot, got %d", m.Len())
	}
	entries := m.SnapshotEntries()
	if len(entries) != 1 || string(entries[0].Value) != "v" {
		t.Fatalf("snapshot entries = %+v", entries)
	}
	// snapshotting again with an empty live map must not clobber the
	// existing snapshot.
	m.Snapshot()
	entries = m.SnapshotEntries()
	if len(entries) != 1 {
		t.Fatalf("snapshot clobbered by no-op re-snapshot: %+v", entries)
	}
}

func TestGetFullNewestNonTombstonePerColumn(t *testing.T) {
	m := New()
	m.Add(k("r1", "cf:a", 100), []byte("a100"))
	m.Add(k("r1", "cf:a", 200), []byte("a200"))
	m.Add(k("r1", "cf:b", 50), []byte("b50"))
	m.Add(k("r1", "cf:b", 300), rowkey.DeleteMarker)

	deletes := rowkey.NewDeletes()
	results := map[string][]byte{}
	m.GetFull(k("r1", "", 1000), deletes, results)

	if string(results["cf:a"]) != "a200" {
		t.Fatalf("cf:a = %q, want a200", results["cf:a"])
	}
	if _, ok := results["cf:b"]; ok {
		t.Fatalf("cf:b should be suppressed by its tombstone, got %q", results["cf:b"])
	}
}

func TestGetKeysBeforeSameRowAndOptionalColumn(t *testing.T) {
	m := New()
	m.Add(k("r1", "cf:a", 100), []byte("x"))
	m.Add(k("r1", "cf:b", 100), []byte("y"))
	m.Add(k("r2", "cf:a", 100), []byte("z"))

	keys := m.GetKeysBefore(k("r1", "", 0), 10)
	if len(keys) != 2 {
		t.Fatalf("GetKeysBefore row-only = %d keys, want 2", len(keys))
	}

	keys = m.GetKeysBefore(k("r1", "cf:a", math.MaxInt64), 10)
	if len(keys) != 1 || string(keys[0].Column) != "cf:a" {
		t.Fatalf("GetKeysBefore with column filter = %+v", keys)
	}
}

func TestGetRowKeyAtOrBeforeAcrossTombstone(t *testing.T) {
	m := New()
	m.Add(k("a", "cf:x", 1), []byte("v"))
	m.Add(k("m", "cf:x", 1), []byte("v"))
	m.Add(k("m", "cf:x", 2), rowkey.DeleteMarker)

	candidates := rowkey.NewCandidates()
	m.GetRowKeyAtOrBefore(k("z", "", 0), candidates)
	row, ok := candidates.LargestRow()
	if !ok || string(row) != "a" {
		t.Fatalf("LargestRow = %q, %v, want \"a\" (m's only value is tombstoned)", row, ok)
	}
}

func stringsOf(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}
