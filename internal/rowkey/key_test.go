package rowkey

import "testing"

func TestCompareOrdering(t *testing.T) {
	cases := []struct {
		a, b Key
		want int
	}{
		{Key{Row: []byte("a")}, Key{Row: []byte("b")}, -1},
		{Key{Row: []byte("b")}, Key{Row: []byte("a")}, 1},
		{
			Key{Row: []byte("r"), Column: []byte("cf:a")},
			Key{Row: []byte("r"), Column: []byte("cf:b")},
			-1,
		},
		{
			Key{Row: []byte("r"), Column: []byte("cf:a"), Timestamp: 100},
			Key{Row: []byte("r"), Column: []byte("cf:a"), Timestamp: 200},
			1, // newer timestamp sorts first
		},
		{
			Key{Row: []byte("r"), Column: []byte("cf:a"), Timestamp: 200},
			Key{Row: []byte("r"), Column: []byte("cf:a"), Timestamp: 100},
			-1,
		},
	}
	for i, c := range cases {
		if got := Compare(c.a, c.b); got != c.want {
			t.Errorf("case %d: Compare() = %d, want %d", i, got, c.want)
		}
	}
}

func TestMatchesWithoutColumn(t *testing.T) {
	k := Key{Row: []byte("r"), Column: []byte("cf:a"), Timestamp: 200}
	other := Key{Row: []byte("r"), Column: []byte("cf:z"), Timestamp: 100}
	if !MatchesWithoutColumn(k, other) {
		t.Fatal("expected match: same row, other.ts <= k.ts")
	}
	other.Timestamp = 300
	if MatchesWithoutColumn(k, other) {
		t.Fatal("expected no match: other.ts > k.ts")
	}
}

func TestSplitColumn(t *testing.T) {
	fam, qual := SplitColumn([]byte("cf:qualifier"))
	if string(fam) != "cf" || string(qual) != "qualifier" {
		t.Fatalf("got family=%q qualifier=%q", fam, qual)
	}
	fam, qual = SplitColumn([]byte("cf"))
	if string(fam) != "cf" || len(qual) != 0 {
		t.Fatalf("family-only parse failed: family=%q qualifier=%q", fam, qual)
	}
}

func TestDeleteMarker(t *testing.T) {
	if IsDeleteMarker([]byte("hello")) {
		t.Fatal("ordinary value misclassified as tombstone")
	}
	if !IsDeleteMarker(DeleteMarker) {
		t.Fatal("DeleteMarker not recognized as tombstone")
	}
}
