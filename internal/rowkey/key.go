// Package rowkey defines the row/column/timestamp key model shared by every
// tier of the engine (memcache, store files, scanners) and the total
// ordering those tiers must agree on.
package rowkey

import "bytes"

// DeleteMarker is the sentinel value that marks an Edit as a tombstone. A
// real value is never allowed to equal this marker; callers constructing
// edits from client input must reject it.
var DeleteMarker = []byte("regiondb.tombstone.v1")

// IsDeleteMarker reports whether value is the tombstone sentinel.
func IsDeleteMarker(value []byte) bool {
	return bytes.Equal(value, DeleteMarker)
}

// Key is the total-ordered identity of a cell: a row, a family:qualifier
// column, and a timestamp. Within a row/column run timestamps sort newest
// first, which is why Compare reverses the timestamp comparison.
type Key struct {
	Row       []byte
	Column    []byte
	Timestamp int64
}

// Edit pairs a Key with its value or, when Delete is true, records that the
// value is the tombstone marker for that key.
type Edit struct {
	Key    Key
	Value  []byte
	Delete bool
}

// AsValue returns the on-disk value for the edit: DeleteMarker for
// tombstones, Value otherwise.
func (e Edit) AsValue() []byte {
	if e.Delete {
		return DeleteMarker
	}
	return e.Value
}

// Compare implements the engine's total order: row ascending, then column
// ascending, then timestamp DESCENDING (newer first within a row/column
// run). This inversion must be preserved exactly or reads break silently.
func Compare(a, b Key) int {
	if c := bytes.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Column, b.Column); c != 0 {
		return c
	}
	switch {
	case a.Timestamp > b.Timestamp:
		return -1
	case a.Timestamp < b.Timestamp:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts strictly before b under Compare.
func Less(a, b Key) bool {
	return Compare(a, b) < 0
}

// RowEqual reports whether a and b share the same row.
func RowEqual(a, b Key) bool {
	return bytes.Equal(a.Row, b.Row)
}

// RowColumnEqual reports whether a and b share the same row and column.
func RowColumnEqual(a, b Key) bool {
	return bytes.Equal(a.Row, b.Row) && bytes.Equal(a.Column, b.Column)
}

// MatchesWithoutColumn reports whether k "matches without column" other:
// their rows are equal and other's timestamp is at or before k's.
func MatchesWithoutColumn(k, other Key) bool {
	return bytes.Equal(k.Row, other.Row) && other.Timestamp <= k.Timestamp
}

// SplitColumn parses a family:qualifier column spec, splitting on the first
// ':'. An empty qualifier (no ':' present, or nothing after it) means
// "family only".
func SplitColumn(column []byte) (family, qualifier []byte) {
	i := bytes.IndexByte(column, ':')
	if i < 0 {
		return column, nil
	}
	return column[:i], column[i+1:]
}

// JoinColumn builds a family:qualifier column spec.
func JoinColumn(family, qualifier []byte) []byte {
	if len(qualifier) == 0 {
		return append([]byte(nil), family...)
	}
	out := make([]byte, 0, len(family)+1+len(qualifier))
	out = append(out, family...)
	out = append(out, ':')
	out = append(out, qualifier...)
	return out
}
