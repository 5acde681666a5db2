// Package walog defines the write-ahead log's client-facing contract: the
// per-region append/replay protocol the store and region packages depend
// on. The distributed log service itself, and the replayer that runs at
// process startup across every region, are external collaborators (spec
// §1); this package only names the interface they must satisfy and
// supplies a single-process file-backed implementation good enough to
// drive the engine's tests and the CLI.
package walog

import "github.com/brimdb/regiondb/internal/rowkey"

// RecordKind distinguishes the three WAL record shapes named in spec §6.
type RecordKind uint8

const (
	// KindEdit carries one batch of edits committed under a single
	// sequence id.
	KindEdit RecordKind = iota + 1
	// KindFlushMarker records that a flush of (Region, Sequence) began.
	KindFlushMarker
	// KindFlushComplete records that the flush of (Region, Sequence)
	// finished durably; replay may skip edits with Sequence <= this.
	KindFlushComplete
)

// Record is one entry read back during replay.
type Record struct {
	Kind     RecordKind
	Region   string
	Table    string
	Sequence uint64
	Edits    []rowkey.Edit // populated only for KindEdit
}

// Writer is the per-region append/flush-marker contract a region's WAL
// handle must satisfy. A Writer instance is shared by every region hosted
// by a process, same as the teacher's single shared value store handles
// all keys for a process (spec: "a WAL handle (shared with other
// regions)").
type Writer interface {
	// Append durably records edits as a single atomic record for
	// (region, table) at sequence. All edits in the batch share this
	// sequence id.
	Append(region, table string, sequence uint64, edits []rowkey.Edit) error
	// AppendFlushMarker records that (region, sequence) has begun
	// flushing.
	AppendFlushMarker(region, table string, sequence uint64) error
	// AppendFlushComplete records that (region, sequence) flushed
	// durably to disk; on recovery, WAL edits with Sequence <= sequence
	// for this region may be skipped.
	AppendFlushComplete(region, table string, sequence uint64) error
	// NextSequence returns a freshly allocated, monotonically
	// increasing sequence id.
	NextSequence() uint64
	// Close flushes and releases any resources held by the writer.
	Close() error
}

// Replayer is the per-region recovery contract: read back every record
// previously appended for region, in append order, honoring
// flush-complete markers per spec §5 ("Crash consistency").
type Replayer interface {
	Replay(region string) ([]Record, error)
}
