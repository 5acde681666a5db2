package region

import (
	"fmt"
	"sync/atomic"
)

// FlushCache snapshots every family's memcache under the update lock,
// resets the region's accumulated memcache-size counter, writes a WAL
// cache-flush marker, flushes each family to a new store file stamped
// with that sequence id, then appends a flush-complete record (spec
// §4.6). A failure after the marker but before flush-complete is the
// dropped-snapshot fatal condition: the caller must stop serving writes
// and trigger a WAL replay.
func (r *Region) FlushCache() error {
	if r.isClosed() {
		return ErrRegionClosed
	}
	if !r.tryBeginFlush() {
		return nil
	}
	defer r.endFlush()

	r.rwMu.RLock()
	defer r.rwMu.RUnlock()
	return r.flushLocked()
}

// flushLocked performs the flush body; callers must already hold
// whichever of rwMu (read, for a standalone FlushCache) or nothing further
// (Close, which already holds rwMu for write) is appropriate, and must
// have already arranged for tryBeginFlush/endFlush bookkeeping themselves
// if they want NeedsCompaction-style mutual exclusion with a concurrent
// FlushCache call.
func (r *Region) flushLocked() error {
	r.updateMu.Lock()
	for _, s := range r.families {
		s.SnapshotMemcache()
	}
	atomic.StoreInt64(&r.memSize, 0)
	r.updateMu.Unlock()

	sequenceID := r.wal.NextSequence()
	if err := r.wal.AppendFlushMarker(r.info.EncodedName, r.info.Table, sequenceID); err != nil {
		return fmt.Errorf("region: flush marker: %w", err)
	}

	names := r.sortedFamilyNames()
	for _, name := range names {
		if err := r.families[name].FlushCache(sequenceID); err != nil {
			// The marker is already durable but flush-complete never
			// will be: per spec §4.6 this is the dropped-snapshot
			// condition, fatal to the region until WAL replay.
			return fmt.Errorf("%w: family %q: %v", ErrDroppedSnapshot, name, err)
		}
	}

	if err := r.wal.AppendFlushComplete(r.info.EncodedName, r.info.Table, sequenceID); err != nil {
		return fmt.Errorf("%w: flush-complete record: %v", ErrDroppedSnapshot, err)
	}

	r.opts.logf("region %s: flushed %d families at sequence %d", r.info.EncodedName, len(names), sequenceID)
	return nil
}

// CompactStores iterates every family, skipping any that's already
// compacting or whose region has disabled compaction (close in progress),
// cleaning the region's compaction scratch dir before and after (spec
// §4.6).
func (r *Region) CompactStores() error {
	if r.isClosed() {
		return ErrRegionClosed
	}
	if !r.tryBeginCompaction() {
		return nil
	}
	defer r.endCompaction()

	r.rwMu.RLock()
	defer r.rwMu.RUnlock()

	scratch := r.compactionScratchDir()
	_ = r.fs.RemoveAll(scratch)
	defer r.fs.RemoveAll(scratch)

	for _, name := range r.sortedFamilyNames() {
		s := r.families[name]
		if s.Compacting() || !s.NeedsCompaction() {
			continue
		}
		if err := s.Compact(); err != nil {
			return fmt.Errorf("region: compacting family %q: %w", name, err)
		}
	}
	return nil
}

func (r *Region) compactionScratchDir() string {
	return r.tableDir + "/compaction.dir/" + r.info.EncodedName
}
