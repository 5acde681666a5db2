package region

import (
	"bytes"
	"math"
	"sync/atomic"

	"github.com/brimdb/regiondb/internal/rowkey"
	"github.com/brimdb/regiondb/internal/store"
)

// OpKind distinguishes the three shapes a BatchUpdate op may take.
type OpKind uint8

const (
	// OpPut writes Value at the op's given timestamp.
	OpPut OpKind = iota
	// OpDeleteAt writes a tombstone at the op's given timestamp.
	OpDeleteAt
	// OpDeleteLatest tombstones whatever the current newest version of
	// this column is, at that version's own timestamp, rather than a
	// caller-supplied one.
	OpDeleteLatest
)

// Op is one column-level mutation within a single row's BatchUpdate.
type Op struct {
	Column []byte
	Value  []byte
	Kind   OpKind
}

func editSize(e rowkey.Edit) int64 {
	return int64(len(e.Key.Row) + len(e.Key.Column) + 8 + len(e.Value))
}

// BatchUpdate applies every op to row atomically: all resulting edits
// share one WAL sequence id and become visible to readers together (spec
// §4.6). Blocks first if the region's aggregate memcache size is at or
// above the blocking threshold, giving a background flush time to drain
// it. OpDeleteLatest ops are resolved to a concrete timestamp (the
// column's current newest version) and appended as a follow-up record
// after the main batch commits, per spec's "post-processing" step.
func (r *Region) BatchUpdate(row []byte, timestamp int64, ops []Op) error {
	if r.isClosed() {
		return ErrRegionClosed
	}
	if !r.InRange(row) {
		return ErrOutOfRange
	}
	r.waitBelowBlockingThreshold()

	r.rwMu.RLock()
	defer r.rwMu.RUnlock()
	token := r.rowLocks.Lock(row)
	defer r.rowLocks.Unlock(token)

	byFamily := make(map[string][]rowkey.Edit)
	var deleteLatest []Op
	for _, op := range ops {
		_, famName, err := r.familyFor(op.Column)
		if err != nil {
			return err
		}
		switch op.Kind {
		case OpPut:
			byFamily[famName] = append(byFamily[famName], rowkey.Edit{
				Key:   rowkey.Key{Row: row, Column: op.Column, Timestamp: timestamp},
				Value: op.Value,
			})
		case OpDeleteAt:
			byFamily[famName] = append(byFamily[famName], rowkey.Edit{
				Key:    rowkey.Key{Row: row, Column: op.Column, Timestamp: timestamp},
				Delete: true,
			})
		case OpDeleteLatest:
			deleteLatest = append(deleteLatest, op)
		}
	}

	if len(byFamily) > 0 {
		if err := r.commitEdits(byFamily); err != nil {
			return err
		}
	}

	for _, op := range deleteLatest {
		s, famName, err := r.familyFor(op.Column)
		if err != nil {
			return err
		}
		keys, err := s.GetKeysBefore(rowkey.Key{Row: row, Column: op.Column, Timestamp: math.MaxInt64}, 1)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			continue
		}
		tomb := rowkey.Edit{Key: keys[0], Delete: true}
		if err := r.commitEdits(map[string][]rowkey.Edit{famName: {tomb}}); err != nil {
			return err
		}
	}
	return nil
}

// commitEdits appends every family's edits as a single WAL record, then
// inserts each into its family's memcache, all under the update lock, so
// the batch becomes visible to readers atomically and every edit carries
// the same sequence id (spec §4.6, §5 "Ordering guarantees").
func (r *Region) commitEdits(byFamily map[string][]rowkey.Edit) error {
	var flat []rowkey.Edit
	for _, es := range byFamily {
		flat = append(flat, es...)
	}

	r.updateMu.Lock()
	seq := r.wal.NextSequence()
	if err := r.wal.Append(r.info.EncodedName, r.info.Table, seq, flat); err != nil {
		r.updateMu.Unlock()
		return err
	}
	var added int64
	for famName, es := range byFamily {
		s := r.families[famName]
		for _, e := range es {
			s.Add(e.Key, e.AsValue())
			added += editSize(e)
		}
	}
	newSize := atomic.AddInt64(&r.memSize, added)
	r.updateMu.Unlock()

	if newSize >= r.opts.FlushThreshold {
		r.requestFlush()
	}
	return nil
}

func (r *Region) requestFlush() {
	go func() {
		if err := r.FlushCache(); err != nil {
			r.opts.logf("region %s: background flush failed: %v", r.info.EncodedName, err)
		}
	}()
}

func (r *Region) waitBelowBlockingThreshold() {
	for atomic.LoadInt64(&r.memSize) >= r.opts.BlockingThreshold {
		r.write.mu.Lock()
		r.write.cond.Wait()
		r.write.mu.Unlock()
	}
}

// DeleteAll tombstones every column at row (optionally restricted to a
// single column) at timestamp, across every family the row touches (spec
// §4.6). A single tombstone per column suffices: it occludes every
// existing version at or before its own timestamp.
func (r *Region) DeleteAll(row, column []byte, timestamp int64) error {
	if r.isClosed() {
		return ErrRegionClosed
	}
	if !r.InRange(row) {
		return ErrOutOfRange
	}
	var families []string
	if len(column) > 0 {
		_, famName, err := r.familyFor(column)
		if err != nil {
			return err
		}
		families = []string{famName}
	} else {
		families = r.sortedFamilyNames()
	}
	return r.tombstoneColumnsAtRow(row, column, families, timestamp)
}

// DeleteFamily tombstones every column of family at row (spec §4.6).
func (r *Region) DeleteFamily(row []byte, family string, timestamp int64) error {
	if r.isClosed() {
		return ErrRegionClosed
	}
	if !r.InRange(row) {
		return ErrOutOfRange
	}
	if _, ok := r.families[family]; !ok {
		return ErrUnknownFamily
	}
	return r.tombstoneColumnsAtRow(row, nil, []string{family}, timestamp)
}

func (r *Region) tombstoneColumnsAtRow(row, onlyColumn []byte, families []string, timestamp int64) error {
	r.rwMu.RLock()
	defer r.rwMu.RUnlock()
	token := r.rowLocks.Lock(row)
	defer r.rowLocks.Unlock(token)

	byFamily := make(map[string][]rowkey.Edit)
	for _, name := range families {
		s := r.families[name]
		columns, err := columnsAtRow(s, row)
		if err != nil {
			return err
		}
		for _, col := range columns {
			if len(onlyColumn) > 0 && !bytes.Equal(col, onlyColumn) {
				continue
			}
			byFamily[name] = append(byFamily[name], rowkey.Edit{
				Key:    rowkey.Key{Row: row, Column: col, Timestamp: timestamp},
				Delete: true,
			})
		}
	}
	if len(byFamily) == 0 {
		return nil
	}
	return r.commitEdits(byFamily)
}

// columnsAtRow returns the distinct columns any version exists for at
// row in s, in ascending order.
func columnsAtRow(s *store.Store, row []byte) ([][]byte, error) {
	keys, err := s.GetKeysBefore(rowkey.Key{Row: row}, 0)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	var last []byte
	for _, k := range keys {
		if last != nil && bytes.Equal(k.Column, last) {
			continue
		}
		out = append(out, k.Column)
		last = k.Column
	}
	return out, nil
}
