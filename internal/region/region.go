// Package region implements the region-level coordinator (spec §4.6/§4.7):
// one Region owns a Store per column family, a shared WAL handle, and the
// row-lock/scanner/flush/compaction concurrency discipline of spec §5 that
// lets readers, writers, flushes, compactions, splits and closes interleave
// safely.
//
// Grounded throughout on the teacher's ValuesStore: a single struct owning
// fine-grained locks per concern (vlm lock, freeableVLM lock, flusherLock,
// group-membership locks in valuesstore.go) rather than one coarse mutex.
// The region's write-state monitor, update lock, and row-lock registry are
// that same discipline, generalized from a flat value store to a
// row-ranged, multi-family, WAL-ordered one.
package region

import (
	"fmt"
	"math"
	"path"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/rowkey"
	"github.com/brimdb/regiondb/internal/store"
	"github.com/brimdb/regiondb/internal/walog"
	"github.com/spaolacci/murmur3"
)

// Info is a region descriptor (spec §6): table, row range, identity.
// StartKey is inclusive; EndKey is exclusive; an empty slice for either
// means unbounded in that direction.
type Info struct {
	Table       string
	StartKey    []byte
	EndKey      []byte
	RegionID    uint64
	Offline     bool
	EncodedName string
}

// EncodeName derives the stable encoded-region-name spec §6 uses as the
// region's on-disk directory name, hashed with the same murmur3 function
// the domain stack already uses for row-lock bucketing and checksums,
// rather than introducing a second hash family just for this.
func EncodeName(table string, startKey []byte, regionID uint64) string {
	h := murmur3.New64()
	h.Write([]byte(table))
	h.Write(startKey)
	var idBuf [8]byte
	for i := 0; i < 8; i++ {
		idBuf[i] = byte(regionID >> (56 - 8*i))
	}
	h.Write(idBuf[:])
	return fmt.Sprintf("%016x", h.Sum64())
}

// Options configures the families a region opens and its flush/compaction
// thresholds. Open replaces unset thresholds with floor defaults
// (resolveOptions); no environment variables are read.
type Options struct {
	// Families maps family name to that family's store options.
	Families map[string]store.Options
	// FlushThreshold is the aggregate live-memcache byte size at or
	// above which a flush is requested.
	FlushThreshold int64
	// BlockingThreshold is the aggregate live-memcache byte size at or
	// above which writers block until a flush drains it.
	BlockingThreshold int64
	// Logf receives diagnostic messages; defaults to a no-op.
	Logf func(format string, args ...interface{})
}

func (o Options) logf(format string, args ...interface{}) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

const (
	defaultFlushThreshold    = 4 << 20
	defaultBlockingThreshold = 32 << 20
)

func resolveOptions(o Options) Options {
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = defaultFlushThreshold
	}
	if o.BlockingThreshold <= 0 {
		o.BlockingThreshold = defaultBlockingThreshold
	}
	return o
}

// writeState is the write-state monitor (spec §5): a small record guarded
// by its own lock, protecting only the flushing/compacting flags and the
// disabled switches close uses to stop new background work from starting.
type writeState struct {
	mu                   sync.Mutex
	cond                 *sync.Cond
	flushing, compacting bool
	flushDisabled        bool
	compactDisabled      bool
}

// Region is one contiguous row range of one table, owning one Store per
// column family present in its descriptor.
type Region struct {
	info      Info
	fs        fsx.Filesystem
	tableDir  string
	rootDir   string
	wal       walog.Writer
	opts      Options
	families  map[string]*store.Store

	splitMu sync.Mutex // exclusive: held for the entirety of a split or close

	write writeState

	updateMu sync.Mutex // held across WAL append + memcache inserts, and across memcache snapshot

	rwMu sync.RWMutex // readers/scanner-construction take read; close takes write

	scannerMu   sync.Mutex
	scannerCond *sync.Cond
	scanners    int64

	rowLocks *RowLockRegistry

	memSize int64 // atomic: aggregate live-memcache byte estimate

	closed int32 // atomic bool
}

// Open opens (or initialises) a region rooted at tableDir/info.EncodedName,
// with one Store per entry in opts.Families.
func Open(fs fsx.Filesystem, tableDir string, info Info, wal walog.Writer, opts Options) (*Region, error) {
	opts = resolveOptions(opts)
	rootDir := path.Join(tableDir, info.EncodedName)
	r := &Region{
		info:     info,
		fs:       fs,
		tableDir: tableDir,
		rootDir:  rootDir,
		wal:      wal,
		opts:     opts,
		families: make(map[string]*store.Store, len(opts.Families)),
		rowLocks: NewRowLockRegistry(),
	}
	r.scannerCond = sync.NewCond(&r.scannerMu)
	r.write.cond = sync.NewCond(&r.write.mu)
	if err := fs.MkdirAll(rootDir); err != nil {
		return nil, err
	}
	for name, storeOpts := range opts.Families {
		familyDir := path.Join(rootDir, name)
		if err := fs.MkdirAll(familyDir); err != nil {
			return nil, err
		}
		s, err := store.Open(fs, familyDir, storeOpts)
		if err != nil {
			return nil, fmt.Errorf("region: opening family %q: %w", name, err)
		}
		r.families[name] = s
	}
	return r, nil
}

// FamilyDir returns the on-disk directory for family, regardless of
// whether that family is currently open (used by split/merge to lay out
// child/merged region directories without reaching into store internals).
func (r *Region) FamilyDir(family string) string {
	return path.Join(r.rootDir, family)
}

// Info returns the region's descriptor.
func (r *Region) Info() Info { return r.info }

func (r *Region) isClosed() bool {
	return atomic.LoadInt32(&r.closed) != 0
}

// InRange reports whether row falls within [StartKey, EndKey).
func (r *Region) InRange(row []byte) bool {
	return withinRange(row, r.info.StartKey, r.info.EndKey)
}

func withinRange(row, start, end []byte) bool {
	if len(start) > 0 && bytesCompare(row, start) < 0 {
		return false
	}
	if len(end) > 0 && bytesCompare(row, end) >= 0 {
		return false
	}
	return true
}

func bytesCompare(a, b []byte) int {
	return rowkey.Compare(rowkey.Key{Row: a}, rowkey.Key{Row: b})
}

func (r *Region) familyFor(column []byte) (*store.Store, string, error) {
	family, _ := rowkey.SplitColumn(column)
	s, ok := r.families[string(family)]
	if !ok {
		return nil, "", ErrUnknownFamily
	}
	return s, string(family), nil
}

// Get returns up to numVersions newest non-tombstone values for
// row/column at or before timestamp, delegating to the owning family's
// store (spec §4.6).
func (r *Region) Get(row, column []byte, timestamp int64, numVersions int) ([][]byte, error) {
	if r.isClosed() {
		return nil, ErrRegionClosed
	}
	if !r.InRange(row) {
		return nil, ErrOutOfRange
	}
	s, _, err := r.familyFor(column)
	if err != nil {
		return nil, err
	}
	r.rwMu.RLock()
	defer r.rwMu.RUnlock()
	return s.Get(rowkey.Key{Row: row, Column: column, Timestamp: timestamp}, numVersions)
}

// GetFull accumulates, across every family, the newest non-tombstone value
// per column at row, at or before timestamp (spec §4.6, row-locked).
func (r *Region) GetFull(row []byte, timestamp int64) (map[string][]byte, error) {
	if r.isClosed() {
		return nil, ErrRegionClosed
	}
	if !r.InRange(row) {
		return nil, ErrOutOfRange
	}
	r.rwMu.RLock()
	defer r.rwMu.RUnlock()
	token := r.rowLocks.Lock(row)
	defer r.rowLocks.Unlock(token)

	results := make(map[string][]byte)
	deletes := rowkey.NewDeletes()
	key := rowkey.Key{Row: row, Timestamp: timestamp}
	names := r.sortedFamilyNames()
	for _, name := range names {
		if err := r.families[name].GetFull(key, deletes, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// GetClosestRowBefore applies spec §4.4's protocol across every family,
// picking the largest candidate row overall and re-querying every family
// for that row's full column set.
func (r *Region) GetClosestRowBefore(row []byte) ([]byte, map[string][]byte, error) {
	if r.isClosed() {
		return nil, nil, ErrRegionClosed
	}
	r.rwMu.RLock()
	defer r.rwMu.RUnlock()

	target := rowkey.Key{Row: row, Timestamp: math.MaxInt64}
	candidates := rowkey.NewCandidates()
	for _, name := range r.sortedFamilyNames() {
		if err := r.families[name].GetRowKeyAtOrBefore(target, candidates); err != nil {
			return nil, nil, err
		}
	}
	closest, ok := candidates.LargestRow()
	if !ok {
		return nil, nil, nil
	}

	results := make(map[string][]byte)
	deletes := rowkey.NewDeletes()
	full := rowkey.Key{Row: closest, Timestamp: target.Timestamp}
	for _, name := range r.sortedFamilyNames() {
		if err := r.families[name].GetFull(full, deletes, results); err != nil {
			return nil, nil, err
		}
	}
	return closest, results, nil
}

func (r *Region) sortedFamilyNames() []string {
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// beginScanner registers one more active scanner (spec §5's
// activeScannerCount), blocking close from proceeding while any scanner is
// outstanding.
func (r *Region) beginScanner() {
	r.scannerMu.Lock()
	r.scanners++
	r.scannerMu.Unlock()
}

// endScanner releases one active scanner registration, waking a close
// waiting for the count to drain to zero.
func (r *Region) endScanner() {
	r.scannerMu.Lock()
	r.scanners--
	if r.scanners == 0 {
		r.scannerCond.Broadcast()
	}
	r.scannerMu.Unlock()
}

func (r *Region) waitForScannersDrained() {
	r.scannerMu.Lock()
	for r.scanners > 0 {
		r.scannerCond.Wait()
	}
	r.scannerMu.Unlock()
}

// Close disables compactions/flushes, waits for any in-flight one to
// finish, blocks new reads/scanners/row-locks by taking the region write
// lock, waits for active scanners and outstanding row locks to drain,
// flushes once more (unless abort is true), and marks the region closed.
// The family stores are left open: it returns them per family, for reuse
// by a split or merge (spec §4.6).
func (r *Region) Close(abort bool) (map[string][]*store.Store, error) {
	r.splitMu.Lock()
	defer r.splitMu.Unlock()
	return r.closeLocked(abort)
}

// closeLocked is Close's body for callers (SplitRegion, Merge) that
// already hold splitMu.
func (r *Region) closeLocked(abort bool) (map[string][]*store.Store, error) {
	r.write.mu.Lock()
	r.write.flushDisabled = true
	r.write.compactDisabled = true
	r.write.mu.Unlock()
	r.waitForWriteStateIdle()

	r.rwMu.Lock()
	defer r.rwMu.Unlock()
	r.waitForScannersDrained()

	if !abort {
		if err := r.flushLocked(); err != nil {
			return nil, err
		}
	}

	atomic.StoreInt32(&r.closed, 1)
	out := make(map[string][]*store.Store, len(r.families))
	for name, s := range r.families {
		out[name] = []*store.Store{s}
	}
	return out, nil
}

func (r *Region) waitForWriteStateIdle() {
	r.write.mu.Lock()
	for r.write.flushing || r.write.compacting {
		r.write.cond.Wait()
	}
	r.write.mu.Unlock()
}

// tryBeginFlush reports whether a flush may start: false if flushing is
// disabled (close in progress) or one is already underway.
func (r *Region) tryBeginFlush() bool {
	r.write.mu.Lock()
	defer r.write.mu.Unlock()
	if r.write.flushDisabled || r.write.flushing {
		return false
	}
	r.write.flushing = true
	return true
}

func (r *Region) endFlush() {
	r.write.mu.Lock()
	r.write.flushing = false
	r.write.cond.Broadcast()
	r.write.mu.Unlock()
}

// tryBeginCompaction reports whether a compaction may start: false if
// compaction is disabled (close in progress) or one is already underway.
func (r *Region) tryBeginCompaction() bool {
	r.write.mu.Lock()
	defer r.write.mu.Unlock()
	if r.write.compactDisabled || r.write.compacting {
		return false
	}
	r.write.compacting = true
	return true
}

func (r *Region) endCompaction() {
	r.write.mu.Lock()
	r.write.compacting = false
	r.write.cond.Broadcast()
	r.write.mu.Unlock()
}
