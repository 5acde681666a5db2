package storefile

import (
	"testing"

	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/rowkey"
)

func key(row, col string, ts int64) rowkey.Key {
	return rowkey.Key{Row: []byte(row), Column: []byte(col), Timestamp: ts}
}

func TestCreateAndOpenConcreteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs := fsx.NewOSFilesystem()
	entries := []Source{
		{Key: key("a", "cf:x", 100), Value: []byte("v1")},
		{Key: key("b", "cf:x", 90), Value: []byte("v2")},
		{Key: key("c", "cf:y", 80), Value: []byte("v3")},
	}
	created, err := Create(fs, dir, 1, entries, 42)
	if err != nil {
		t.Fatal(err)
	}
	defer created.Close()

	if created.MaxSequenceID() != 42 {
		t.Fatalf("maxSeq = %d, want 42", created.MaxSequenceID())
	}
	if created.Len() != 3 {
		t.Fatalf("len = %d, want 3", created.Len())
	}
	fk, ok := created.FinalKey()
	if !ok || !rowkey.RowEqual(fk, key("c", "", 0)) {
		t.Fatalf("FinalKey = %+v", fk)
	}

	opened, err := OpenConcrete(fs, dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer opened.Close()
	if opened.Len() != 3 || opened.MaxSequenceID() != 42 {
		t.Fatalf("reopened file mismatch: len=%d maxSeq=%d", opened.Len(), opened.MaxSequenceID())
	}

	for _, want := range entries {
		k, v, ok, err := opened.GetClosest(want.Key, true)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || !rowkey.RowColumnEqual(k, want.Key) || string(v) != string(want.Value) {
			t.Fatalf("GetClosest(%+v) = %+v, %q, %v", want.Key, k, v, ok)
		}
	}
}

func TestGetClosestBeforeAndAtOrAfter(t *testing.T) {
	dir := t.TempDir()
	fs := fsx.NewOSFilesystem()
	entries := []Source{
		{Key: key("a", "cf:x", 100), Value: []byte("v1")},
		{Key: key("m", "cf:x", 100), Value: []byte("v2")},
		{Key: key("z", "cf:x", 100), Value: []byte("v3")},
	}
	f, err := Create(fs, dir, 1, entries, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// search for a row between "a" and "m": before-or-equal should land on "a".
	k, _, ok, err := f.GetClosest(key("g", "cf:x", 100), true)
	if err != nil || !ok || string(k.Row) != "a" {
		t.Fatalf("GetClosest(before, g) = %+v, %v, %v", k, ok, err)
	}
	// at-or-after should land on "m".
	k, _, ok, err = f.GetClosest(key("g", "cf:x", 100), false)
	if err != nil || !ok || string(k.Row) != "m" {
		t.Fatalf("GetClosest(after, g) = %+v, %v, %v", k, ok, err)
	}
	// past the end: before-or-equal lands on "z", at-or-after finds nothing.
	_, _, ok, err = f.GetClosest(key("zz", "cf:x", 100), false)
	if err != nil || ok {
		t.Fatalf("GetClosest(after, zz) should miss, got ok=%v err=%v", ok, err)
	}
}

func TestNewReferenceSplitsIndexByHalf(t *testing.T) {
	dir := t.TempDir()
	fs := fsx.NewOSFilesystem()
	entries := []Source{
		{Key: key("a", "cf:x", 100), Value: []byte("v1")},
		{Key: key("m", "cf:x", 100), Value: []byte("v2")},
		{Key: key("z", "cf:x", 100), Value: []byte("v3")},
	}
	parent, err := Create(fs, dir, 1, entries, 7)
	if err != nil {
		t.Fatal(err)
	}
	defer parent.Close()

	splitKey := key("m", "", 0)
	bottom, err := NewReference(fs, dir, 2, "child-a", parent, splitKey, Bottom)
	if err != nil {
		t.Fatal(err)
	}
	defer bottom.Close()
	top, err := NewReference(fs, dir, 3, "child-b", parent, splitKey, Top)
	if err != nil {
		t.Fatal(err)
	}
	defer top.Close()

	if bottom.Len() != 1 || !bottom.IsReference() {
		t.Fatalf("bottom reference: len=%d isRef=%v", bottom.Len(), bottom.IsReference())
	}
	if top.Len() != 2 || !top.IsReference() {
		t.Fatalf("top reference: len=%d isRef=%v", top.Len(), top.IsReference())
	}

	k, v, ok, err := bottom.GetClosest(key("a", "cf:x", 100), true)
	if err != nil || !ok || string(k.Row) != "a" || string(v) != "v1" {
		t.Fatalf("bottom reference read: %+v %q %v %v", k, v, ok, err)
	}
	k, v, ok, err = top.GetClosest(key("z", "cf:x", 100), true)
	if err != nil || !ok || string(k.Row) != "z" || string(v) != "v3" {
		t.Fatalf("top reference read: %+v %q %v %v", k, v, ok, err)
	}

	reopenedBottom, err := OpenReference(fs, dir, 2, "child-a", parent)
	if err != nil {
		t.Fatal(err)
	}
	defer reopenedBottom.Close()
	if reopenedBottom.Len() != 1 {
		t.Fatalf("reopened bottom reference: len=%d", reopenedBottom.Len())
	}
}

func TestListFileIDs(t *testing.T) {
	dir := t.TempDir()
	fs := fsx.NewOSFilesystem()
	entries := []Source{{Key: key("a", "cf:x", 1), Value: []byte("v")}}
	if _, err := Create(fs, dir, 1, entries, 1); err != nil {
		t.Fatal(err)
	}
	parent, err := OpenConcrete(fs, dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer parent.Close()
	if _, err := NewReference(fs, dir, 2, "child-a", parent, key("a", "", 0), Top); err != nil {
		t.Fatal(err)
	}

	listed, err := ListFileIDs(fs, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed = %+v, want 2 entries", listed)
	}
	if listed[0].FileID != 1 || listed[0].IsReference {
		t.Fatalf("listed[0] = %+v", listed[0])
	}
	if listed[1].FileID != 2 || !listed[1].IsReference || listed[1].ParentEncodedName != "child-a" {
		t.Fatalf("listed[1] = %+v", listed[1])
	}
}
