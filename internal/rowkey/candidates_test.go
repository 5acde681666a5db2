package rowkey

import "testing"

func TestCandidatesTombstoneBeforeValueInSameTier(t *testing.T) {
	c := NewCandidates()
	// ascending Key order within a row/column run is newest-timestamp
	// first, so a tombstone at ts=2 is observed before the older value
	// at ts=1.
	c.Observe([]byte("m"), []byte("cf:x"), 2, true)
	c.Observe([]byte("m"), []byte("cf:x"), 1, false)
	if !c.Empty() {
		t.Fatal("older value should stay suppressed by a newer same-tier tombstone")
	}
}

func TestCandidatesCrossTierTombstoneRemovesOlderCandidate(t *testing.T) {
	c := NewCandidates()
	// older tier: a surviving value.
	c.Observe([]byte("m"), []byte("cf:x"), 1, false)
	// newer tier: a tombstone at or after that value's timestamp removes it.
	c.Observe([]byte("m"), []byte("cf:x"), 1, true)
	if !c.Empty() {
		t.Fatal("cross-tier tombstone at same timestamp should remove the candidate")
	}
}

func TestCandidatesLargestRow(t *testing.T) {
	c := NewCandidates()
	c.Observe([]byte("a"), []byte("cf:x"), 1, false)
	c.Observe([]byte("m"), []byte("cf:x"), 1, false)
	row, ok := c.LargestRow()
	if !ok || string(row) != "m" {
		t.Fatalf("LargestRow = %q, %v", row, ok)
	}
}
