package region

import (
	"fmt"
	"path"
	"sort"

	"github.com/brimdb/regiondb/internal/rowkey"
	"github.com/brimdb/regiondb/internal/store"
	"github.com/brimdb/regiondb/internal/storefile"
)

// defaultMaxFileSize mirrors the teacher's own file-size-triggers-work
// idiom (valuesstore.go ties flush/compaction triggers to byte thresholds);
// here expressed as a live-entry-count floor since storefile.File reports
// Len() rather than bytes.
const defaultMaxFileSize = 100000

// NeedsSplit reports whether any family's largest store file is at or
// above desiredMaxFileSize entries and that family is splitable (no
// reference files present), per spec §4.6. desiredMaxFileSize <= 0 uses
// defaultMaxFileSize.
func (r *Region) NeedsSplit(desiredMaxFileSize int) (rowkey.Key, bool) {
	if desiredMaxFileSize <= 0 {
		desiredMaxFileSize = defaultMaxFileSize
	}
	r.rwMu.RLock()
	defer r.rwMu.RUnlock()

	var bestMid rowkey.Key
	bestSize := 0
	found := false
	for _, name := range r.sortedFamilyNames() {
		largest, midKey, splitable, ok := r.families[name].Size()
		if !ok || !splitable {
			continue
		}
		if largest > bestSize {
			bestSize = largest
			bestMid = midKey
			found = true
		}
	}
	if !found || bestSize < desiredMaxFileSize {
		return rowkey.Key{}, false
	}
	return bestMid, true
}

// SplitRegion splits this region in two at the midKey NeedsSplit reports,
// per spec §4.6: acquire the split lock, verify need, build scratch dirs
// for both children, close this region (obtaining its per-family store
// files), project a bottom/top reference file into each child for every
// parent store file, sanity-check by opening and closing each child, then
// clean up scratch dirs. The caller is responsible for reopening the
// returned child descriptors for service.
func (r *Region) SplitRegion(desiredMaxFileSize int, regionIDA, regionIDB uint64) (Info, Info, error) {
	r.splitMu.Lock()
	defer r.splitMu.Unlock()

	midKey, ok := r.NeedsSplit(desiredMaxFileSize)
	if !ok {
		return Info{}, Info{}, fmt.Errorf("region: split not needed")
	}

	infoA := Info{Table: r.info.Table, StartKey: r.info.StartKey, EndKey: midKey.Row, RegionID: regionIDA}
	infoA.EncodedName = EncodeName(infoA.Table, infoA.StartKey, infoA.RegionID)
	infoB := Info{Table: r.info.Table, StartKey: midKey.Row, EndKey: r.info.EndKey, RegionID: regionIDB}
	infoB.EncodedName = EncodeName(infoB.Table, infoB.StartKey, infoB.RegionID)

	scratchA := path.Join(r.rootDir, "splits", infoA.EncodedName)
	scratchB := path.Join(r.rootDir, "splits", infoB.EncodedName)
	if err := r.fs.MkdirAll(scratchA); err != nil {
		return Info{}, Info{}, err
	}
	if err := r.fs.MkdirAll(scratchB); err != nil {
		return Info{}, Info{}, err
	}

	familyFiles, err := r.closeLocked(false)
	if err != nil {
		return Info{}, Info{}, fmt.Errorf("region: closing parent for split: %w", err)
	}

	for _, name := range sortedKeys(familyFiles) {
		dirA := path.Join(r.tableDir, infoA.EncodedName, name)
		dirB := path.Join(r.tableDir, infoB.EncodedName, name)
		if err := r.fs.MkdirAll(dirA); err != nil {
			return Info{}, Info{}, err
		}
		if err := r.fs.MkdirAll(dirB); err != nil {
			return Info{}, Info{}, err
		}
		for _, s := range familyFiles[name] {
			for _, f := range s.Files() {
				bottom, err := storefile.NewReference(r.fs, dirA, f.FileID(), r.info.EncodedName, f, midKey, storefile.Bottom)
				if err != nil {
					return Info{}, Info{}, fmt.Errorf("region: bottom reference for family %q file %d: %w", name, f.FileID(), err)
				}
				bottom.Close()
				top, err := storefile.NewReference(r.fs, dirB, f.FileID(), r.info.EncodedName, f, midKey, storefile.Top)
				if err != nil {
					return Info{}, Info{}, fmt.Errorf("region: top reference for family %q file %d: %w", name, f.FileID(), err)
				}
				top.Close()
			}
		}
	}

	if err := r.sanityOpenAndClose(infoA); err != nil {
		return Info{}, Info{}, fmt.Errorf("region: sanity-opening child A: %w", err)
	}
	if err := r.sanityOpenAndClose(infoB); err != nil {
		return Info{}, Info{}, fmt.Errorf("region: sanity-opening child B: %w", err)
	}

	r.fs.RemoveAll(scratchA)
	r.fs.RemoveAll(scratchB)

	return infoA, infoB, nil
}

func (r *Region) sanityOpenAndClose(info Info) error {
	child, err := Open(r.fs, r.tableDir, info, r.wal, Options{Families: r.opts.Families, Logf: r.opts.Logf})
	if err != nil {
		return err
	}
	_, err = child.Close(true)
	return err
}

func sortedKeys(m map[string][]*store.Store) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
