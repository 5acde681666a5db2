// Package store implements a column family's Store (spec §4.5): a
// memcache plus an ordered set of immutable store files, together
// providing get/getFull/getKeys/getRowKeyAtOrBefore, flush, and
// compaction. Reads merge memcache with store files newest-to-oldest;
// background flush drains memcache to a new file; background compaction
// merges files, dropping obsolete versions and tombstones.
//
// Grounded on the teacher's own layered design: valuestore_GEN_.go keeps
// an in-memory location map (the live index) plus a set of on-disk value
// files opened under vlm/freeableVLM locks, with flush
// (fileWriter/memClearer) and compaction (compactFile) as background
// passes over that same file set. Here the live index is a Memcache and
// the file set is storefile.File, generalized from a flat key space to
// row/column/timestamp with multi-version and tombstone semantics.
package store

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/brimdb/regiondb/internal/bloom"
	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/memcache"
	"github.com/brimdb/regiondb/internal/rowkey"
	"github.com/brimdb/regiondb/internal/storefile"
)

// Options configures a Store's compaction and bloom filter behavior.
// Open replaces any zero or negative MaxVersions, CompactionThreshold or
// BloomFalsePositiveRate with a floor default (resolveOptions); no
// environment variables are read.
type Options struct {
	// MaxVersions caps how many versions of a cell compaction retains.
	MaxVersions int
	// CompactionThreshold is the file count at or above which
	// NeedsCompaction reports true.
	CompactionThreshold int
	// BloomKind, if non-nil, makes FlushCache build a bloom filter of this
	// kind over the flushed file's rows and save it under
	// familyDir/filter/{fileID}. Compaction output gets no filter, and no
	// read path loads or consults a saved filter.
	BloomKind *bloom.Kind
	// BloomExpectedItems sizes a new bloom filter; ignored if BloomKind
	// is nil.
	BloomExpectedItems int
	// BloomFalsePositiveRate sizes a new bloom filter; ignored if
	// BloomKind is nil.
	BloomFalsePositiveRate float64
	// Logf receives diagnostic messages (flush/compaction progress);
	// defaults to a no-op, following the teacher's injectable LogFunc
	// fields (valuesstore.go: logCritical/logError/logWarning/logInfo).
	Logf func(format string, args ...interface{})
}

func (o Options) logf(format string, args ...interface{}) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

const (
	defaultMaxVersions          = 3
	defaultCompactionThreshold  = 3
	defaultBloomFalsePositivity = 0.01
)

func resolveOptions(o Options) Options {
	if o.MaxVersions <= 0 {
		o.MaxVersions = defaultMaxVersions
	}
	if o.CompactionThreshold <= 0 {
		o.CompactionThreshold = defaultCompactionThreshold
	}
	if o.BloomFalsePositiveRate <= 0 {
		o.BloomFalsePositiveRate = defaultBloomFalsePositivity
	}
	return o
}

// Store is one column family's memcache plus its ordered set of store
// files.
type Store struct {
	mu         sync.RWMutex
	fs         fsx.Filesystem
	familyDir  string
	opts       Options
	memcache   *memcache.Memcache
	files      map[uint64]*storefile.File // keyed by on-disk file id
	nextFileID uint64
	compacting bool
}

// Open loads (or initialises) a family store rooted at familyDir,
// re-opening every concrete and reference store file already present.
func Open(fs fsx.Filesystem, familyDir string, opts Options) (*Store, error) {
	opts = resolveOptions(opts)
	s := &Store{
		fs:        fs,
		familyDir: familyDir,
		opts:      opts,
		memcache:  memcache.New(),
		files:     make(map[uint64]*storefile.File),
	}
	listed, err := storefile.ListFileIDs(fs, familyDir)
	if err != nil {
		return nil, err
	}
	opened := make(map[uint64]*storefile.File, len(listed))
	for _, l := range listed {
		if l.IsReference {
			continue // opened below, once every concrete parent is available
		}
		f, err := storefile.OpenConcrete(fs, familyDir, l.FileID)
		if err != nil {
			return nil, fmt.Errorf("store: opening file %d: %w", l.FileID, err)
		}
		opened[l.FileID] = f
		if l.FileID >= s.nextFileID {
			s.nextFileID = l.FileID + 1
		}
	}
	for _, l := range listed {
		if !l.IsReference {
			continue
		}
		parentID, err := parentFileID(fs, familyDir, l.FileID, l.ParentEncodedName)
		if err != nil {
			return nil, err
		}
		parent, ok := opened[parentID]
		if !ok {
			// A split child's references point into the parent region's
			// directory for the same family.
			parentDir := path.Join(path.Dir(path.Dir(familyDir)), l.ParentEncodedName, path.Base(familyDir))
			parent, err = storefile.OpenConcrete(fs, parentDir, parentID)
			if err != nil {
				return nil, fmt.Errorf("store: reference file %d has no open parent %d: %w", l.FileID, parentID, err)
			}
		}
		f, err := storefile.OpenReference(fs, familyDir, l.FileID, l.ParentEncodedName, parent)
		if err != nil {
			return nil, fmt.Errorf("store: opening reference file %d: %w", l.FileID, err)
		}
		opened[l.FileID] = f
		if l.FileID >= s.nextFileID {
			s.nextFileID = l.FileID + 1
		}
	}
	s.files = opened
	return s, nil
}

func parentFileID(fs fsx.Filesystem, familyDir string, fileID uint64, parentEncodedName string) (uint64, error) {
	marker, err := storefile.ReadReferenceMarker(fs, familyDir, fileID, parentEncodedName)
	if err != nil {
		return 0, err
	}
	return marker.ParentFileID, nil
}

// Add delegates to the memcache.
func (s *Store) Add(key rowkey.Key, value []byte) {
	s.memcache.Add(key, value)
}

// orderedNewestFirst returns the open store files sorted by descending
// sequence id (newest first), per spec §4.5's scan order.
func (s *Store) orderedNewestFirst() []*storefile.File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storefile.File, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaxSequenceID() > out[j].MaxSequenceID() })
	return out
}

// Get returns up to numVersions newest non-tombstone values
// row-column-equal to key, at or before key.Timestamp: memcache first,
// then store files newest to oldest.
func (s *Store) Get(key rowkey.Key, numVersions int) ([][]byte, error) {
	deletes := rowkey.NewDeletes()
	out := s.memcache.Get(key, numVersions, deletes)
	if numVersions > 0 && len(out) >= numVersions {
		return out, nil
	}
	for _, f := range s.orderedNewestFirst() {
		i, ok := f.IndexOf(key, false)
		if !ok {
			continue
		}
		for ; i < f.Len(); i++ {
			k, v, ok, err := f.ValueAt(i)
			if err != nil {
				return nil, err
			}
			if !ok || !rowkey.RowColumnEqual(k, key) {
				break
			}
			if k.Timestamp > key.Timestamp {
				continue
			}
			if rowkey.IsDeleteMarker(v) {
				deletes.Observe(k.Column, k.Timestamp)
				continue
			}
			if deletes.Suppresses(k.Column, k.Timestamp) {
				continue
			}
			out = append(out, v)
			if numVersions > 0 && len(out) >= numVersions {
				return out, nil
			}
		}
	}
	return out, nil
}

// GetFull accumulates the newest non-tombstone value per column at row =
// key.Row, at or before key.Timestamp: memcache first, then store files
// newest to oldest, sharing one deletes/results pair across every tier.
func (s *Store) GetFull(key rowkey.Key, deletes rowkey.Deletes, results map[string][]byte) error {
	s.memcache.GetFull(key, deletes, results)
	for _, f := range s.orderedNewestFirst() {
		i, ok := f.IndexOf(rowkey.Key{Row: key.Row}, false)
		if !ok {
			continue
		}
		for ; i < f.Len(); i++ {
			k, v, ok, err := f.ValueAt(i)
			if err != nil {
				return err
			}
			if !ok || !rowkey.RowEqual(k, key) {
				break
			}
			if k.Timestamp > key.Timestamp {
				continue
			}
			col := string(k.Column)
			if rowkey.IsDeleteMarker(v) {
				deletes.Observe(k.Column, k.Timestamp)
				continue
			}
			if _, already := results[col]; already {
				continue
			}
			if deletes.Suppresses(k.Column, k.Timestamp) {
				continue
			}
			results[col] = v
		}
	}
	return nil
}

// GetKeysBefore mirrors Get but returns keys instead of values, searching
// memcache first then store files.
func (s *Store) GetKeysBefore(origin rowkey.Key, versions int) ([]rowkey.Key, error) {
	out := s.memcache.GetKeysBefore(origin, versions)
	if versions > 0 && len(out) >= versions {
		return out, nil
	}
	for _, f := range s.orderedNewestFirst() {
		i, ok := f.IndexOf(origin, false)
		if !ok {
			continue
		}
		for ; i < f.Len(); i++ {
			k, v, ok, err := f.ValueAt(i)
			if err != nil {
				return nil, err
			}
			if !ok || !rowkey.RowEqual(k, origin) {
				break
			}
			if len(origin.Column) > 0 && string(k.Column) != string(origin.Column) {
				continue
			}
			if rowkey.IsDeleteMarker(v) {
				continue
			}
			out = append(out, k)
			if versions > 0 && len(out) >= versions {
				return out, nil
			}
		}
	}
	return out, nil
}

// GetRowKeyAtOrBefore applies the closest-row-at-or-before protocol (spec
// §4.4) over this store's files (oldest to newest) and then its memcache.
func (s *Store) GetRowKeyAtOrBefore(target rowkey.Key, candidates rowkey.Candidates) error {
	files := s.orderedNewestFirst()
	for i := len(files) - 1; i >= 0; i-- {
		if err := files[i].GetRowKeyAtOrBefore(target, candidates); err != nil {
			return err
		}
	}
	s.memcache.GetRowKeyAtOrBefore(target, candidates)
	return nil
}

// SnapshotMemcache delegates to the memcache.
func (s *Store) SnapshotMemcache() {
	s.memcache.Snapshot()
}

// FlushCache writes the memcache's snapshot to a new store file stamped
// with sequenceID, and atomically registers it under a fresh file id.
// The caller (region) is responsible for having already snapshotted the
// memcache under the region's update lock.
func (s *Store) FlushCache(sequenceID uint64) error {
	entries := s.memcache.SnapshotEntries()
	sort.Slice(entries, func(i, j int) bool { return rowkey.Less(entries[i].Key, entries[j].Key) })
	sources := make([]storefile.Source, len(entries))
	for i, e := range entries {
		sources[i] = storefile.Source{Key: e.Key, Value: e.AsValue()}
	}

	s.mu.Lock()
	fileID := s.nextFileID
	s.nextFileID++
	s.mu.Unlock()

	f, err := storefile.Create(s.fs, s.familyDir, fileID, sources, sequenceID)
	if err != nil {
		return err
	}
	if s.opts.BloomKind != nil {
		filter := bloom.New(*s.opts.BloomKind, max(len(sources), 1), s.opts.BloomFalsePositiveRate)
		for _, e := range entries {
			filter.Add(e.Key.Row)
		}
		if err := saveBloom(s.fs, s.familyDir, fileID, filter); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.files[fileID] = f
	s.mu.Unlock()
	s.memcache.DiscardSnapshot()
	s.opts.logf("store: flushed %d entries to file %d at sequence %d", len(entries), fileID, sequenceID)
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// NeedsCompaction reports true if the file count is at or above the
// compaction threshold, or any file is a reference (spec §4.5).
func (s *Store) NeedsCompaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.files) >= s.opts.CompactionThreshold {
		return true
	}
	for _, f := range s.files {
		if f.IsReference() {
			return true
		}
	}
	return false
}

// Size reports the largest file's entry count and its mid key, and
// whether this store is eligible for a split (false if any file is a
// reference, per spec §4.5).
func (s *Store) Size() (largest int, midKey rowkey.Key, splitable bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	splitable = true
	for _, f := range s.files {
		if f.IsReference() {
			splitable = false
		}
		if f.Len() > largest {
			largest = f.Len()
			if mk, has := f.MidKey(); has {
				midKey = mk
				ok = true
			}
		}
	}
	return largest, midKey, splitable, ok
}

// Files returns every open store file, concrete or reference, in no
// particular order. Used by region split/merge to build reference files
// from this store's current file set.
func (s *Store) Files() []*storefile.File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storefile.File, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	return out
}

// Compacting reports whether a compaction is currently in flight.
func (s *Store) Compacting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compacting
}

func saveBloom(fs fsx.Filesystem, familyDir string, fileID uint64, filter *bloom.Filter) error {
	path := familyDir + "/filter"
	if err := fs.MkdirAll(path); err != nil {
		return err
	}
	w, err := fs.Create(fmt.Sprintf("%s/%d", path, fileID))
	if err != nil {
		return err
	}
	if err := filter.Save(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
