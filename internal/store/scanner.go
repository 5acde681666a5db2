package store

import (
	"sort"

	"github.com/brimdb/regiondb/internal/rowkey"
)

// Scanner returns every surviving cell at or before timestamp, matching
// one of matchers (an empty set matches everything), at or after
// firstRow, in ascending Key order, merged from the memcache and every
// open store file (spec §4.8's scanner construction step). Tombstones are
// not dropped here -- the scanner protocol's "first (newest) value per
// column wins" rule at the row-bundle layer is what gives a tombstone its
// occluding effect, same as it would a live value.
func (s *Store) Scanner(timestamp int64, matchers []rowkey.ColumnMatcher, firstRow []byte) ([]rowkey.Edit, error) {
	cells := s.memcache.Scanner(timestamp, matchers, firstRow)
	for _, f := range s.orderedNewestFirst() {
		start := 0
		if len(firstRow) > 0 {
			if i, ok := f.IndexOf(rowkey.Key{Row: firstRow}, false); ok {
				start = i
			} else {
				start = f.Len()
			}
		}
		for i := start; i < f.Len(); i++ {
			k, ok := f.KeyAt(i)
			if !ok {
				break
			}
			if k.Timestamp > timestamp {
				continue
			}
			if !rowkey.AnyMatch(matchers, k.Column) {
				continue
			}
			_, v, ok, err := f.ValueAt(i)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			cells = append(cells, rowkey.Edit{Key: k, Value: v, Delete: rowkey.IsDeleteMarker(v)})
		}
	}
	sort.Slice(cells, func(i, j int) bool { return rowkey.Less(cells[i].Key, cells[j].Key) })
	return cells, nil
}
