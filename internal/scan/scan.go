// Package scan implements the scanner protocol (spec §4.8): a per-family
// StoreScanner yields row bundles (first/newest value per column wins) from
// one family's merged memcache+store-file cell stream, and a RegionScanner
// merges several families' StoreScanners into one ordered stream of rows,
// consulting a RowFilter as it goes.
package scan

import (
	"bytes"

	"github.com/brimdb/regiondb/internal/rowkey"
)

// Row is one scanned row: its key and the surviving column values (or
// tombstones) at or before the scan's timestamp, first/newest per column.
type Row struct {
	Row     []byte
	Columns map[string]rowkey.Edit
}

// StoreScanner walks one family's pre-sorted, pre-filtered cell stream
// (produced by store.Store.Scanner, which already merges the memcache and
// every open store file) and buckets consecutive same-row cells into row
// bundles. Cells arrive newest-first within a row/column run, so the first
// cell seen for a given (row, column) is the one that survives -- any
// further cells, including tombstones, for that same column are occluded.
type StoreScanner struct {
	cells   []rowkey.Edit
	pos     int
	pending *Row
	done    bool
}

// NewStoreScanner wraps an already-merged, ascending-Key-order cell stream.
func NewStoreScanner(cells []rowkey.Edit) *StoreScanner {
	s := &StoreScanner{cells: cells}
	s.advance()
	return s
}

// advance consumes one full row's worth of cells from the stream into
// s.pending, or sets s.done if the stream is exhausted.
func (s *StoreScanner) advance() {
	if s.pos >= len(s.cells) {
		s.pending = nil
		s.done = true
		return
	}
	row := s.cells[s.pos].Key.Row
	bundle := &Row{Row: append([]byte(nil), row...), Columns: make(map[string]rowkey.Edit)}
	for s.pos < len(s.cells) && bytes.Equal(s.cells[s.pos].Key.Row, row) {
		e := s.cells[s.pos]
		col := string(e.Key.Column)
		if _, seen := bundle.Columns[col]; !seen {
			bundle.Columns[col] = e
		}
		s.pos++
	}
	s.pending = bundle
}

// Peek returns the next row bundle without consuming it, or ok=false once
// the scanner is exhausted.
func (s *StoreScanner) Peek() (*Row, bool) {
	if s.done {
		return nil, false
	}
	return s.pending, true
}

// Take consumes and returns the next row bundle, or ok=false once the
// scanner is exhausted.
func (s *StoreScanner) Take() (*Row, bool) {
	row, ok := s.Peek()
	if !ok {
		return nil, false
	}
	s.advance()
	return row, true
}

// RowFilter lets a scan caller short-circuit a region scan: FilterRow may
// reject a row outright (its columns are never inspected), FilterCell may
// drop individual columns after the row survives FilterRow, and
// FilterAllRemaining ends the scan early once reported true (spec §4.8's
// filter(row) / filter(row,column,value) / filterAllRemaining hooks).
type RowFilter interface {
	FilterRow(row []byte) bool
	FilterCell(row, column, value []byte) bool
	FilterAllRemaining() bool
}

// AcceptAll is a RowFilter that never rejects anything, for callers that
// don't need row/column level filtering.
type AcceptAll struct{}

func (AcceptAll) FilterRow([]byte) bool                 { return true }
func (AcceptAll) FilterCell([]byte, []byte, []byte) bool { return true }
func (AcceptAll) FilterAllRemaining() bool              { return false }

// RegionScanner merges several families' StoreScanners into one ascending
// stream of rows, picking the smallest pending row across families each
// step and merging every family's bundle for that row into a single Row
// (spec §4.8's region-level scanner). filter is consulted per spec's
// RowFilter contract; a nil filter behaves like AcceptAll.
type RegionScanner struct {
	scanners []*StoreScanner
	filter   RowFilter
	stopped  bool
}

// NewRegionScanner builds a RegionScanner over one StoreScanner per family.
// A nil filter is treated as AcceptAll.
func NewRegionScanner(scanners []*StoreScanner, filter RowFilter) *RegionScanner {
	if filter == nil {
		filter = AcceptAll{}
	}
	return &RegionScanner{scanners: scanners, filter: filter}
}

// Next returns the next surviving row across every family, merged into one
// Row, or ok=false once every family scanner is exhausted or the filter has
// asked to stop.
func (r *RegionScanner) Next() (*Row, bool, error) {
	for {
		if r.stopped {
			return nil, false, nil
		}
		smallest, any := r.smallestPendingRow()
		if !any {
			return nil, false, nil
		}
		merged := &Row{Row: smallest, Columns: make(map[string]rowkey.Edit)}
		for _, sc := range r.scanners {
			row, ok := sc.Peek()
			if !ok || !bytes.Equal(row.Row, smallest) {
				continue
			}
			sc.Take()
			for col, e := range row.Columns {
				if _, seen := merged.Columns[col]; !seen {
					merged.Columns[col] = e
				}
			}
		}
		if r.filter.FilterAllRemaining() {
			r.stopped = true
			return nil, false, nil
		}
		if !r.filter.FilterRow(merged.Row) {
			continue
		}
		for col, e := range merged.Columns {
			if !r.filter.FilterCell(merged.Row, []byte(col), e.AsValue()) {
				delete(merged.Columns, col)
			}
		}
		return merged, true, nil
	}
}

// smallestPendingRow returns the lexicographically smallest row currently
// pending across every family scanner.
func (r *RegionScanner) smallestPendingRow() ([]byte, bool) {
	var smallest []byte
	any := false
	for _, sc := range r.scanners {
		row, ok := sc.Peek()
		if !ok {
			continue
		}
		if !any || bytes.Compare(row.Row, smallest) < 0 {
			smallest = row.Row
			any = true
		}
	}
	return smallest, any
}
