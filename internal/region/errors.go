package region

import "errors"

// Sentinel errors for the closed set of error kinds named in spec §7.
// Row-level errors (ErrOutOfRange, ErrUnknownFamily, ErrRegionClosed) are
// returned to the caller with the row lock already released; ErrDropped
// Snapshot is fatal to the region and must be surfaced to the hosting
// process to trigger WAL replay on restart.
var (
	// ErrOutOfRange is returned when a row falls outside this region's
	// [StartKey, EndKey) range.
	ErrOutOfRange = errors.New("region: row out of range")
	// ErrUnknownFamily is returned when a column's family is not part of
	// this region's descriptor.
	ErrUnknownFamily = errors.New("region: unknown column family")
	// ErrRegionClosed is returned by any operation attempted after close
	// has started.
	ErrRegionClosed = errors.New("region: closed")
	// ErrDroppedSnapshot indicates a flush began writing but failed
	// before its flush-complete record landed in the WAL; the region is
	// effectively dead to writes until the process replays its WAL.
	ErrDroppedSnapshot = errors.New("region: dropped snapshot, replay required")
	// ErrMergePreconditions is returned by Merge when its two regions are
	// not adjacent, not of the same table, or both have unbounded start
	// keys.
	ErrMergePreconditions = errors.New("region: merge preconditions not met")
)
