package region

import (
	"testing"

	"github.com/brimdb/regiondb/internal/store"
)

func TestNeedsSplitFalseWhenSmall(t *testing.T) {
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
	if _, ok := r.NeedsSplit(10); ok {
		t.Fatal("a single-row family should not need splitting")
	}
}

func TestNeedsSplitTrueWhenOverThreshold(t *testing.T) {
	dir := t.TempDir()
	info := Info{Table: "t", RegionID: 1}
	info.EncodedName = EncodeName(info.Table, info.StartKey, info.RegionID)
	r := openTestRegion(t, dir, info, oneFamilyOpts())

	for i := 0; i < 20; i++ {
		row := []byte{byte('a' + i)}
		if err := r.BatchUpdate(row, 100, []Op{{Column: []byte("cf:a"), Value: []byte("v"), Kind: OpPut}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.FlushCache(); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.NeedsSplit(10); !ok {
		t.Fatal("a 20-row family should need splitting at threshold 10")
	}
}

func TestSplitRegionProducesTwoDisjointChildren(t *testing.T) {
	dir := t.TempDir()
	info := Info{Table: "t", RegionID: 1}
	info.EncodedName = EncodeName(info.Table, info.StartKey, info.RegionID)
	r := openTestRegion(t, dir, info, oneFamilyOpts())

	for i := 0; i < 20; i++ {
		row := []byte{byte('a' + i)}
		if err := r.BatchUpdate(row, 100, []Op{{Column: []byte("cf:a"), Value: []byte("v"), Kind: OpPut}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.FlushCache(); err != nil {
		t.Fatal(err)
	}

	infoA, infoB, err := r.SplitRegion(10, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if string(infoA.StartKey) != string(r.info.StartKey) {
		t.Fatalf("child A start key = %q, want region start", infoA.StartKey)
	}
	if string(infoA.EndKey) != string(infoB.StartKey) {
		t.Fatalf("children not contiguous: A.End=%q B.Start=%q", infoA.EndKey, infoB.StartKey)
	}
	if string(infoB.EndKey) != string(r.info.EndKey) {
		t.Fatalf("child B end key = %q, want region end", infoB.EndKey)
	}

	childA := openTestRegion(t, dir, infoA, Options{Families: map[string]store.Options{"cf": {}}})
	defer childA.Close(true)
	childB := openTestRegion(t, dir, infoB, Options{Families: map[string]store.Options{"cf": {}}})
	defer childB.Close(true)

	vals, err := childA.Get([]byte("a"), []byte("cf:a"), 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 1 {
		t.Fatalf("childA Get row 'a' = %v, want 1 value", vals)
	}
}

func TestSplitRegionFailsWhenNotNeeded(t *testing.T) {
	dir := t.TempDir()
	info := Info{Table: "t", RegionID: 1}
	info.EncodedName = EncodeName(info.Table, info.StartKey, info.RegionID)
	r := openTestRegion(t, dir, info, oneFamilyOpts())

	if _, _, err := r.SplitRegion(10, 2, 3); err == nil {
		t.Fatal("SplitRegion on an empty region should fail")
	}
}
