package rowkey

// Deletes tracks, per column, the largest tombstone timestamp observed so
// far while a getFull scan walks tiers from newest to oldest. A value is
// suppressed once its timestamp is at or below a recorded tombstone for
// its column.
type Deletes map[string]int64

// NewDeletes returns an empty tombstone set.
func NewDeletes() Deletes {
	return make(Deletes)
}

// Observe records that column was tombstoned at timestamp, raising the
// recorded maximum if this one is newer.
func (d Deletes) Observe(column []byte, timestamp int64) {
	k := string(column)
	if cur, ok := d[k]; !ok || timestamp > cur {
		d[k] = timestamp
	}
}

// Suppresses reports whether a value at timestamp for column is occluded
// by a previously observed tombstone.
func (d Deletes) Suppresses(column []byte, timestamp int64) bool {
	best, ok := d[string(column)]
	return ok && timestamp <= best
}
