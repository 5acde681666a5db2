// Package bloom implements the store's optional approximate membership
// filter (spec §4.3 "optional bloom filter"): a closed set of three
// variants -- plain, counting, and retouched -- sharing one persisted
// sidecar format. The store builds one filter per flushed file (keyed on
// row) and saves it; no read path loads or consults a saved filter.
//
// Hashing follows the teacher's own choice of murmur3
// (valuestorefile_GEN_.go wraps every store file reader in
// brimutil.NewChecksummedReader(..., murmur3.New32)); here murmur3's 128-bit
// sum supplies the two independent hash lanes that the standard
// Kirsch-Mitzenmacher technique combines into k hash functions.
package bloom

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/spaolacci/murmur3"
)

// Kind is the closed set of filter variants a store may choose.
type Kind uint8

const (
	// Plain never forgets a key once added; membership checks are exact
	// on no-false-negatives but approximate on false-positives, and
	// entries can never be removed.
	Plain Kind = iota
	// Counting keeps a small counter per slot so a key can be removed
	// (decrementing the slots it set) without forgetting keys that
	// still share those slots.
	Counting
	// Retouched behaves like Counting but only honors a Remove when
	// every slot the key set is otherwise lightly loaded (count <=
	// retouchThreshold). It keeps and persists the same 8-bit counter
	// array as Counting.
	Retouched
)

const retouchThreshold = 2

// Filter is an approximate membership structure with no false
// negatives. The store only builds and saves filters; reads do not
// consult them.
type Filter struct {
	kind   Kind
	m      uint32 // number of slots
	k      uint32 // number of hash probes
	counts []uint8
}

// New creates a Filter sized for expectedItems entries at the requested
// falsePositiveRate (e.g. 0.01 for 1%). Counting and Retouched filters use
// an 8-bit counter per slot; Plain uses a 1-bit presence flag packed into
// the same array (values clamped to 0/1).
func New(kind Kind, expectedItems int, falsePositiveRate float64) *Filter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	m := optimalM(expectedItems, falsePositiveRate)
	k := optimalK(expectedItems, m)
	return &Filter{
		kind:   kind,
		m:      m,
		k:      k,
		counts: make([]uint8, m),
	}
}

func optimalM(n int, p float64) uint32 {
	m := math.Ceil(-1 * float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 8 {
		m = 8
	}
	return uint32(m)
}

func optimalK(n int, m uint32) uint32 {
	k := math.Round(float64(m) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	return uint32(k)
}

// locations returns the k slot indices for key under the
// Kirsch-Mitzenmacher double-hashing scheme: h_i = h1 + i*h2 mod m.
func (f *Filter) locations(key []byte) []uint32 {
	h1, h2 := murmur3.Sum128(key)
	locs := make([]uint32, f.k)
	for i := uint32(0); i < f.k; i++ {
		locs[i] = uint32((h1 + uint64(i)*h2) % uint64(f.m))
	}
	return locs
}

// Add records key as present.
func (f *Filter) Add(key []byte) {
	for _, loc := range f.locations(key) {
		if f.kind == Plain {
			f.counts[loc] = 1
			continue
		}
		if f.counts[loc] < math.MaxUint8 {
			f.counts[loc]++
		}
	}
}

// MayContain reports whether key might be present; false means key is
// certainly absent.
func (f *Filter) MayContain(key []byte) bool {
	for _, loc := range f.locations(key) {
		if f.counts[loc] == 0 {
			return false
		}
	}
	return true
}

// Remove un-records key. Plain filters never forget (Remove is a no-op);
// Counting always decrements; Retouched only decrements when every slot
// key touches is lightly loaded, otherwise it leaves the filter untouched
// (a conservative choice: MayContain may still return true for key, which
// is a safe over-approximation, never a false negative for other keys
// sharing those slots).
func (f *Filter) Remove(key []byte) error {
	switch f.kind {
	case Plain:
		return nil
	case Counting:
		for _, loc := range f.locations(key) {
			if f.counts[loc] > 0 {
				f.counts[loc]--
			}
		}
		return nil
	case Retouched:
		locs := f.locations(key)
		for _, loc := range locs {
			if f.counts[loc] > retouchThreshold {
				return nil // leave untouched; too risky to decrement
			}
		}
		for _, loc := range locs {
			if f.counts[loc] > 0 {
				f.counts[loc]--
			}
		}
		return nil
	default:
		return fmt.Errorf("bloom: unknown filter kind %d", f.kind)
	}
}

// Save persists the filter to w: kind, m, k, then the raw counts array.
func (f *Filter) Save(w io.Writer) error {
	var header [9]byte
	header[0] = byte(f.kind)
	binary.BigEndian.PutUint32(header[1:5], f.m)
	binary.BigEndian.PutUint32(header[5:9], f.k)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(f.counts)
	return err
}

// Load reads back a filter previously written by Save.
func Load(r io.Reader) (*Filter, error) {
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	f := &Filter{
		kind: Kind(header[0]),
		m:    binary.BigEndian.Uint32(header[1:5]),
		k:    binary.BigEndian.Uint32(header[5:9]),
	}
	f.counts = make([]uint8, f.m)
	if _, err := io.ReadFull(r, f.counts); err != nil {
		return nil, err
	}
	return f, nil
}
