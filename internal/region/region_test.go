package region

import (
	"path/filepath"
	"testing"

	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/store"
	"github.com/brimdb/regiondb/internal/walog"
)

func openTestWAL(t *testing.T, dir string) *walog.FileWAL {
	t.Helper()
	w, err := walog.OpenFileWAL(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func openTestRegion(t *testing.T, tableDir string, info Info, opts Options) *Region {
	t.Helper()
	w := openTestWAL(t, tableDir)
	r, err := Open(fsx.NewOSFilesystem(), tableDir, info, w, opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func oneFamilyOpts() Options {
	return Options{Families: map[string]store.Options{"cf": {}}}
}

func TestOpenCreatesOneStorePerFamily(t *testing.T) {
	dir := t.TempDir()
	info := Info{Table: "t", RegionID: 1}
	info.EncodedName = EncodeName(info.Table, info.StartKey, info.RegionID)
	r := openTestRegion(t, dir, info, oneFamilyOpts())
	if _, ok := r.families["cf"]; !ok {
		t.Fatal("expected family \"cf\" to be open")
	}
}

func TestGetReturnsPutValue(t *testing.T) {
	dir := t.TempDir()
	info := Info{Table: "t", RegionID: 1}
	info.EncodedName = EncodeName(info.Table, info.StartKey, info.RegionID)
	r := openTestRegion(t, dir, info, oneFamilyOpts())

	if err := r.BatchUpdate([]byte("row1"), 100, []Op{{Column: []byte("cf:a"), Value: []byte("v1"), Kind: OpPut}}); err != nil {
		t.Fatal(err)
	}
	vals, err := r.Get([]byte("row1"), []byte("cf:a"), 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 1 || string(vals[0]) != "v1" {
		t.Fatalf("Get = %v", vals)
	}
}

func TestGetOutOfRangeRowFails(t *testing.T) {
	dir := t.TempDir()
	info := Info{Table: "t", StartKey: []byte("m"), RegionID: 1}
	info.EncodedName = EncodeName(info.Table, info.StartKey, info.RegionID)
	r := openTestRegion(t, dir, info, oneFamilyOpts())

	if _, err := r.Get([]byte("a"), []byte("cf:a"), 100, 1); err != ErrOutOfRange {
		t.Fatalf("Get out of range = %v, want ErrOutOfRange", err)
	}
}

func TestGetFullMergesAcrossFamilies(t *testing.T) {
	dir := t.TempDir()
	info := Info{Table: "t", RegionID: 1}
	info.EncodedName = EncodeName(info.Table, info.StartKey, info.RegionID)
	opts := Options{Families: map[string]store.Options{"cf1": {}, "cf2": {}}}
	r := openTestRegion(t, dir, info, opts)

	if err := r.BatchUpdate([]byte("row1"), 100, []Op{
		{Column: []byte("cf1:a"), Value: []byte("v1"), Kind: OpPut},
		{Column: []byte("cf2:b"), Value: []byte("v2"), Kind: OpPut},
	}); err != nil {
		t.Fatal(err)
	}

	full, err := r.GetFull([]byte("row1"), 100)
	if err != nil {
		t.Fatal(err)
	}
	if string(full["cf1:a"]) != "v1" || string(full["cf2:b"]) != "v2" {
		t.Fatalf("GetFull = %v", full)
	}
}

func TestFlushThenGetStillReadsValue(t *testing.T) {
	dir := t.TempDir()
	info := Info{Table: "t", RegionID: 1}
	info.EncodedName = EncodeName(info.Table, info.StartKey, info.RegionID)
	r := openTestRegion(t, dir, info, oneFamilyOpts())

	if err := r.BatchUpdate([]byte("row1"), 100, []Op{{Column: []byte("cf:a"), Value: []byte("v1"), Kind: OpPut}}); err != nil {
		t.Fatal(err)
	}
	if err := r.FlushCache(); err != nil {
		t.Fatal(err)
	}
	vals, err := r.Get([]byte("row1"), []byte("cf:a"), 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 1 || string(vals[0]) != "v1" {
		t.Fatalf("Get after flush = %v", vals)
	}
}

func TestCloseReturnsOneStorePerFamily(t *testing.T) {
	dir := t.TempDir()
	info := Info{Table: "t", RegionID: 1}
	info.EncodedName = EncodeName(info.Table, info.StartKey, info.RegionID)
	r := openTestRegion(t, dir, info, oneFamilyOpts())

	files, err := r.Close(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(files["cf"]) != 1 {
		t.Fatalf("Close files = %v", files)
	}
	if !r.isClosed() {
		t.Fatal("region should report closed")
	}
	if _, err := r.Get([]byte("row1"), []byte("cf:a"), 100, 1); err != ErrRegionClosed {
		t.Fatalf("Get on closed region = %v, want ErrRegionClosed", err)
	}
}
