package rowkey

// Candidates is the working set maintained by the closest-row-at-or-before
// protocol (spec §4.4): per (row, column), the best surviving value
// timestamp plus the highest tombstone timestamp observed so far, as
// tiers are scanned oldest to newest and, within each tier, in ascending
// Key order (which means newest-timestamp-first within one row/column
// run). The tombstone ceiling is kept even when no value candidate is
// currently recorded, so a tombstone encountered before an older value in
// the very same tier still suppresses that value -- the spec's own
// wording ("remove it" from an existing candidate) only covers the
// cross-tier case; carrying a ceiling forward is the literal rule's
// natural completion for the same-tier case, not a guess.
type Candidates map[rowColKey]candidateState

type rowColKey struct {
	row    string
	column string
}

type candidateState struct {
	hasValue         bool
	bestTimestamp    int64
	hasTombstone     bool
	tombstoneCeiling int64
}

// NewCandidates returns an empty working set.
func NewCandidates() Candidates {
	return make(Candidates)
}

// Observe applies one step of the protocol to a single cell encountered
// while scanning a tier in ascending Key order.
func (c Candidates) Observe(row, column []byte, timestamp int64, tombstone bool) {
	k := rowColKey{row: string(row), column: string(column)}
	st := c[k]
	if tombstone {
		if !st.hasTombstone || timestamp > st.tombstoneCeiling {
			st.hasTombstone = true
			st.tombstoneCeiling = timestamp
		}
		if st.hasValue && st.bestTimestamp <= timestamp {
			st.hasValue = false
		}
		c[k] = st
		return
	}
	if st.hasTombstone && timestamp <= st.tombstoneCeiling {
		c[k] = st
		return
	}
	if !st.hasValue || timestamp > st.bestTimestamp {
		st.hasValue = true
		st.bestTimestamp = timestamp
	}
	c[k] = st
}

// LargestRow returns the largest row with at least one surviving value
// candidate, or false if none remain.
func (c Candidates) LargestRow() ([]byte, bool) {
	var best string
	found := false
	for k, st := range c {
		if !st.hasValue {
			continue
		}
		if !found || k.row > best {
			best = k.row
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return []byte(best), true
}

// Empty reports whether no value candidates survive.
func (c Candidates) Empty() bool {
	for _, st := range c {
		if st.hasValue {
			return false
		}
	}
	return true
}
