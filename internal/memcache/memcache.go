// Package memcache implements the in-memory mutable buffer a family store
// writes into before a background flush materialises it as a store file
// (spec §4.2). A Memcache holds two tiers -- a live map taking new writes
// and a snapshot map being drained by an in-flight flush -- both kept
// sorted in rowkey.Compare order.
//
// The teacher indexes values by a 128-bit hash in valuelocmap rather than
// by a total order, since its store has no range-scan contract; this
// engine's scanners and closest-row-before protocol need ascending key
// order, so the live/snapshot tiers here are plain sorted slices guarded
// by a sync.RWMutex (the teacher's own "fine-grained lock per concern"
// discipline -- valuestore_GEN_.go's vlm/freeableVLM locks -- generalized
// to a single read/write lock per spec §4.2's "internal read/write lock").
package memcache

import (
	"bytes"
	"sort"
	"sync"

	"github.com/brimdb/regiondb/internal/rowkey"
)

type entry struct {
	key   rowkey.Key
	value []byte
}

// Memcache is one family's in-memory mutable buffer.
type Memcache struct {
	mu       sync.RWMutex
	live     []entry
	snapshot []entry
}

// New returns an empty Memcache.
func New() *Memcache {
	return &Memcache{}
}

// Add inserts key/value into the live map, overwriting any existing entry
// for the exact same (row, column, timestamp).
func (m *Memcache) Add(key rowkey.Key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = insertSorted(m.live, entry{key: key, value: value})
}

func insertSorted(s []entry, e entry) []entry {
	i := sort.Search(len(s), func(i int) bool { return rowkey.Compare(s[i].key, e.key) >= 0 })
	if i < len(s) && rowkey.Compare(s[i].key, e.key) == 0 {
		s[i].value = e.value
		return s
	}
	s = append(s, entry{})
	copy(s[i+1:], s[i:])
	s[i] = e
	return s
}

// Snapshot atomically moves the live map's contents into the snapshot map,
// leaving the live map empty. A no-op if the live map is already empty, so
// a concurrent flush never clobbers a snapshot still being drained.
func (m *Memcache) Snapshot() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.live) == 0 {
		return
	}
	m.snapshot = m.live
	m.live = nil
}

// DiscardSnapshot clears the snapshot map once its flush has committed.
func (m *Memcache) DiscardSnapshot() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = nil
}

// SnapshotEntries returns the (key, value) pairs currently held in the
// snapshot map, in ascending order, for a flush to write out.
func (m *Memcache) SnapshotEntries() []rowkey.Edit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rowkey.Edit, len(m.snapshot))
	for i, e := range m.snapshot {
		out[i] = rowkey.Edit{Key: e.key, Value: e.value, Delete: rowkey.IsDeleteMarker(e.value)}
	}
	return out
}

// Len reports the number of live entries, used by callers accumulating an
// approximate memcache size for flush-threshold decisions.
func (m *Memcache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// Get returns up to n newest non-tombstone values row-column-equal to key
// with a timestamp at or before key.Timestamp, searching live then
// snapshot. deletes is shared with the caller's other tiers (e.g.
// store.Store.Get's file loop) so a tombstone observed here still
// occludes an older value found in a later tier.
func (m *Memcache) Get(key rowkey.Key, n int, deletes rowkey.Deletes) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := m.mergeFrom(key)
	var out [][]byte
	matched := false
	for {
		e, ok := it.next()
		if !ok {
			break
		}
		if !rowkey.RowColumnEqual(e.key, key) {
			if matched {
				break
			}
			continue
		}
		matched = true
		if e.key.Timestamp > key.Timestamp {
			continue
		}
		if rowkey.IsDeleteMarker(e.value) {
			deletes.Observe(e.key.Column, e.key.Timestamp)
			continue
		}
		if deletes.Suppresses(e.key.Column, e.key.Timestamp) {
			continue
		}
		out = append(out, e.value)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// GetFull accumulates, for every column at row = key.Row with a timestamp
// at or before key.Timestamp, the newest non-tombstone value per column
// into results, recording tombstones into deletes as it goes (spec §4.2).
// deletes and results are shared across tiers by the caller (store.getFull
// walks memcache then files newest-to-oldest) so a tombstone observed in
// this tier still occludes older values found in a later tier.
func (m *Memcache) GetFull(key rowkey.Key, deletes rowkey.Deletes, results map[string][]byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := m.mergeFrom(rowkey.Key{Row: key.Row})
	for {
		e, ok := it.next()
		if !ok {
			break
		}
		if !rowkey.RowEqual(e.key, key) {
			if bytes.Compare(e.key.Row, key.Row) > 0 {
				break
			}
			continue
		}
		if e.key.Timestamp > key.Timestamp {
			continue
		}
		col := string(e.key.Column)
		if rowkey.IsDeleteMarker(e.value) {
			deletes.Observe(e.key.Column, e.key.Timestamp)
			continue
		}
		if _, already := results[col]; already {
			continue
		}
		if deletes.Suppresses(e.key.Column, e.key.Timestamp) {
			continue
		}
		results[col] = e.value
	}
}

// GetKeysBefore returns up to versions keys with Key-order at or after
// origin, restricted to origin's row (and origin's column too, when
// origin.Column is non-empty), skipping tombstones.
func (m *Memcache) GetKeysBefore(origin rowkey.Key, versions int) []rowkey.Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := m.mergeFrom(origin)
	var out []rowkey.Key
	for {
		e, ok := it.next()
		if !ok {
			break
		}
		if !rowkey.RowEqual(e.key, origin) {
			break
		}
		if len(origin.Column) > 0 && !bytes.Equal(e.key.Column, origin.Column) {
			continue
		}
		if rowkey.IsDeleteMarker(e.value) {
			continue
		}
		out = append(out, e.key)
		if versions > 0 && len(out) >= versions {
			break
		}
	}
	return out
}

// GetRowKeyAtOrBefore applies the closest-row-at-or-before protocol (spec
// §4.4) to this memcache's combined live+snapshot view, folding results
// into candidates (shared across tiers by the caller).
func (m *Memcache) GetRowKeyAtOrBefore(target rowkey.Key, candidates rowkey.Candidates) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := newMergeIter(m.live, m.snapshot, 0, 0)
	for {
		e, ok := it.next()
		if !ok {
			break
		}
		if bytes.Compare(e.key.Row, target.Row) > 0 {
			break
		}
		candidates.Observe(e.key.Row, e.key.Column, e.key.Timestamp, rowkey.IsDeleteMarker(e.value))
	}
}

// Scanner materialises the live map into the snapshot map (identical
// semantics to Snapshot) and returns every cell at or before timestamp,
// matching one of matchers (an empty set matches everything), at or after
// firstRow, in ascending Key order. Scan package callers merge this with
// each store file's own filtered view into one pull-based cursor.
func (m *Memcache) Scanner(timestamp int64, matchers []rowkey.ColumnMatcher, firstRow []byte) []rowkey.Edit {
	m.Snapshot()
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := newMergeIter(m.live, m.snapshot, 0, 0)
	var out []rowkey.Edit
	for {
		e, ok := it.next()
		if !ok {
			break
		}
		if len(firstRow) > 0 && bytes.Compare(e.key.Row, firstRow) < 0 {
			continue
		}
		if e.key.Timestamp > timestamp {
			continue
		}
		if !rowkey.AnyMatch(matchers, e.key.Column) {
			continue
		}
		out = append(out, rowkey.Edit{Key: e.key, Value: e.value, Delete: rowkey.IsDeleteMarker(e.value)})
	}
	return out
}

// mergeFrom returns a merge iterator positioned at the first entry in
// either tier whose key is at or after from, skipping the linear scan
// over everything strictly smaller.
func (m *Memcache) mergeFrom(from rowkey.Key) *mergeIter {
	ia := sort.Search(len(m.live), func(i int) bool { return rowkey.Compare(m.live[i].key, from) >= 0 })
	ib := sort.Search(len(m.snapshot), func(i int) bool { return rowkey.Compare(m.snapshot[i].key, from) >= 0 })
	return newMergeIter(m.live, m.snapshot, ia, ib)
}

// mergeIter walks two independently sorted entry slices as one ascending
// sequence.
type mergeIter struct {
	a, b   []entry
	ia, ib int
}

func newMergeIter(a, b []entry, ia, ib int) *mergeIter {
	return &mergeIter{a: a, b: b, ia: ia, ib: ib}
}

func (it *mergeIter) next() (entry, bool) {
	if it.ia >= len(it.a) && it.ib >= len(it.b) {
		return entry{}, false
	}
	if it.ia >= len(it.a) {
		e := it.b[it.ib]
		it.ib++
		return e, true
	}
	if it.ib >= len(it.b) {
		e := it.a[it.ia]
		it.ia++
		return e, true
	}
	if rowkey.Compare(it.a[it.ia].key, it.b[it.ib].key) <= 0 {
		e := it.a[it.ia]
		it.ia++
		return e, true
	}
	e := it.b[it.ib]
	it.ib++
	return e, true
}
