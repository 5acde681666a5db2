package region

import (
	"bytes"
	"fmt"
	"path"

	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/store"
	"github.com/brimdb/regiondb/internal/storefile"
	"github.com/brimdb/regiondb/internal/walog"
)

// Merge combines two adjacent, same-table regions into one spanning their
// combined row range (spec §4.7). Both regions are flushed, compacted (so
// every family is left holding only concrete files), and closed; their
// files are relocated under the merged region's directory, each assigned
// a fresh file id so the two halves can never collide; the merged region
// is opened and compacted once more; only then are the source regions'
// directories removed.
//
// The caller must not still be using a or b once Merge returns: both are
// closed as part of the merge regardless of outcome. Merge itself leaves
// the merged region closed after its post-merge compaction, mirroring
// SplitRegion's contract of handing back descriptors rather than live
// regions; the caller reopens the returned Info for service.
func Merge(fs fsx.Filesystem, tableDir string, wal walog.Writer, a, b *Region, mergedRegionID uint64, opts Options) (Info, error) {
	lo, hi, err := orderAdjacent(a, b)
	if err != nil {
		return Info{}, err
	}

	merged := Info{
		Table:    lo.info.Table,
		StartKey: lo.info.StartKey,
		EndKey:   hi.info.EndKey,
		RegionID: mergedRegionID,
	}
	merged.EncodedName = EncodeName(merged.Table, merged.StartKey, merged.RegionID)

	for _, r := range []*Region{lo, hi} {
		if err := r.FlushCache(); err != nil {
			return Info{}, fmt.Errorf("region: merge flush: %w", err)
		}
		if err := r.CompactStores(); err != nil {
			return Info{}, fmt.Errorf("region: merge compact: %w", err)
		}
	}

	loFiles, err := lo.Close(false)
	if err != nil {
		return Info{}, fmt.Errorf("region: merge closing lower half: %w", err)
	}
	hiFiles, err := hi.Close(false)
	if err != nil {
		return Info{}, fmt.Errorf("region: merge closing upper half: %w", err)
	}

	mergedDir := path.Join(tableDir, merged.EncodedName)
	if err := fs.MkdirAll(mergedDir); err != nil {
		return Info{}, err
	}

	loByFamily := filesByFamily(loFiles)
	hiByFamily := filesByFamily(hiFiles)
	families := unionFamilyNames(loByFamily, hiByFamily)

	for _, name := range families {
		destDir := path.Join(mergedDir, name)
		if err := fs.MkdirAll(destDir); err != nil {
			return Info{}, err
		}
		nextID := uint64(0)
		for _, side := range []struct {
			srcDir string
			files  []*storefile.File
		}{
			{lo.FamilyDir(name), loByFamily[name]},
			{hi.FamilyDir(name), hiByFamily[name]},
		} {
			for _, f := range side.files {
				if f.IsReference() {
					return Info{}, fmt.Errorf("region: merge: family %q still has an unmaterialized reference file %d after compaction", name, f.FileID())
				}
				if err := storefile.CopyConcrete(fs, side.srcDir, f.FileID(), destDir, nextID); err != nil {
					return Info{}, fmt.Errorf("region: merge: copying family %q file %d: %w", name, f.FileID(), err)
				}
				nextID++
			}
		}
	}

	newOpts := opts
	newOpts.Families = make(map[string]store.Options, len(families))
	for name, fo := range lo.opts.Families {
		newOpts.Families[name] = fo
	}
	for name, fo := range hi.opts.Families {
		if _, ok := newOpts.Families[name]; !ok {
			newOpts.Families[name] = fo
		}
	}

	newRegion, err := Open(fs, tableDir, merged, wal, newOpts)
	if err != nil {
		return Info{}, fmt.Errorf("region: opening merged region: %w", err)
	}
	if err := newRegion.CompactStores(); err != nil {
		return Info{}, fmt.Errorf("region: compacting merged region: %w", err)
	}
	if _, err := newRegion.Close(false); err != nil {
		return Info{}, fmt.Errorf("region: closing merged region: %w", err)
	}

	fs.RemoveAll(path.Join(tableDir, lo.info.EncodedName))
	fs.RemoveAll(path.Join(tableDir, hi.info.EncodedName))

	return merged, nil
}

// orderAdjacent validates spec §4.7's merge preconditions (same table,
// row-range adjacency, not both sides unbounded) and returns a, b in
// ascending row order.
func orderAdjacent(a, b *Region) (lo, hi *Region, err error) {
	if a.info.Table != b.info.Table {
		return nil, nil, ErrMergePreconditions
	}
	if len(a.info.StartKey) == 0 && len(b.info.StartKey) == 0 {
		return nil, nil, ErrMergePreconditions
	}
	aBeforeB := len(a.info.EndKey) > 0 && bytes.Equal(a.info.EndKey, b.info.StartKey)
	bBeforeA := len(b.info.EndKey) > 0 && bytes.Equal(b.info.EndKey, a.info.StartKey)
	switch {
	case aBeforeB:
		return a, b, nil
	case bBeforeA:
		return b, a, nil
	default:
		return nil, nil, ErrMergePreconditions
	}
}

func unionFamilyNames(a, b map[string][]*storefile.File) []string {
	seen := make(map[string]bool)
	var out []string
	for name := range a {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for name := range b {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func filesByFamily(familyStores map[string][]*store.Store) map[string][]*storefile.File {
	out := make(map[string][]*storefile.File, len(familyStores))
	for name, stores := range familyStores {
		for _, s := range stores {
			out[name] = append(out[name], s.Files()...)
		}
	}
	return out
}
