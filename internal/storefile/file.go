package storefile

import (
	"encoding/binary"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/rowkey"
	"github.com/spaolacci/murmur3"
	brimutil "gopkg.in/gholt/brimutil.v1"
)

// Source is one sorted (key, value) pair supplied to Create; callers
// (flush, compaction) are responsible for ascending Key order.
type Source struct {
	Key   rowkey.Key
	Value []byte
}

// Create materialises a new concrete store file under familyDir from a
// pre-sorted sequence of entries, writes its info sidecar carrying maxSeq,
// and returns it opened for reading. The data file is written to a
// scratch path first and renamed into place (the key index is kept in
// memory only, not written to disk), matching the teacher's
// create-then-rename durability pattern (spec §4.3: "written after the
// data file is finalised").
func Create(fs fsx.Filesystem, familyDir string, fileID uint64, entries []Source, maxSeq uint64) (*File, error) {
	if err := fs.MkdirAll(mapfilesDir(familyDir)); err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(infoDir(familyDir)); err != nil {
		return nil, err
	}
	name := fileName(fileID, "")
	dataPath := path.Join(mapfilesDir(familyDir), name)
	scratchData := dataPath + ".tmp"

	index := make([]sortedEntry, 0, len(entries))
	w, err := fs.Create(scratchData)
	if err != nil {
		return nil, err
	}
	cw := brimutil.NewChecksummedWriter(w, checksumInterval, murmur3.New32)
	var offset int64
	for _, e := range entries {
		// valueOffset is where the value's own length prefix starts,
		// matching what readValue seeks to and what
		// readKeyedRecordHeader computes when rebuilding the index
		// from an existing data file.
		valueOffset := offset + int64(4+len(e.Key.Row)) + int64(4+len(e.Key.Column)) + 8
		n, err := writeKeyedValue(cw, e.Key, e.Value)
		if err != nil {
			w.Close()
			return nil, err
		}
		index = append(index, sortedEntry{key: e.Key, offset: valueOffset, length: uint32(len(e.Value))})
		offset += n
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := fs.Rename(scratchData, dataPath); err != nil {
		return nil, err
	}

	if err := writeInfoSidecar(fs, familyDir, name, maxSeq); err != nil {
		return nil, err
	}

	return &File{
		fs:       fs,
		fileID:   fileID,
		maxSeq:   maxSeq,
		dataPath: dataPath,
		index:    index,
	}, nil
}

func writeInfoSidecar(fs fsx.Filesystem, familyDir, name string, maxSeq uint64) error {
	infoPath := path.Join(infoDir(familyDir), name)
	scratch := infoPath + ".tmp"
	w, err := fs.Create(scratch)
	if err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], maxSeq)
	if _, err := w.Write(buf[:]); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return fs.Rename(scratch, infoPath)
}

func readInfoSidecar(fs fsx.Filesystem, familyDir, name string) (uint64, error) {
	r, err := fs.OpenRead(path.Join(infoDir(familyDir), name))
	if err != nil {
		return 0, err
	}
	defer r.Close()
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// ListFileIDs returns the store file ids present under familyDir,
// in ascending (registration/sequence) order, along with whether each is
// a reference (the suffix form of spec §6's filename regex).
type Listed struct {
	FileID            uint64
	IsReference       bool
	ParentEncodedName string
}

func ListFileIDs(fs fsx.Filesystem, familyDir string) ([]Listed, error) {
	names, err := fs.ReadDir(mapfilesDir(familyDir))
	if err != nil {
		return nil, nil //nolint: no mapfiles dir yet is not an error for a brand-new family
	}
	out := make([]Listed, 0, len(names))
	for _, n := range names {
		if strings.HasSuffix(n, ".tmp") {
			continue
		}
		m := FileNameRegexp.FindStringSubmatch(n)
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Listed{FileID: id, IsReference: m[2] != "", ParentEncodedName: m[2]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}

// OpenConcrete opens an existing concrete store file written by Create.
func OpenConcrete(fs fsx.Filesystem, familyDir string, fileID uint64) (*File, error) {
	name := fileName(fileID, "")
	index, err := readIndexByScanningData(fs, path.Join(mapfilesDir(familyDir), name))
	if err != nil {
		return nil, err
	}
	maxSeq, err := readInfoSidecar(fs, familyDir, name)
	if err != nil {
		return nil, err
	}
	return &File{
		fs:       fs,
		fileID:   fileID,
		maxSeq:   maxSeq,
		dataPath: path.Join(mapfilesDir(familyDir), name),
		index:    index,
	}, nil
}

// readIndexByScanningData rebuilds the in-memory key index by scanning
// the data file's own keyed records (row, column, timestamp, then the
// length-prefixed value -- see writeKeyedValue), the same records Create
// wrote. Open never depends on a separate, independently corruptible
// index file -- there is exactly one durable artifact (the data file)
// plus the info sidecar durability marker.
func readIndexByScanningData(fs fsx.Filesystem, dataPath string) ([]sortedEntry, error) {
	r, err := fs.OpenRead(dataPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	cr := brimutil.NewChecksummedReader(r, checksumInterval, murmur3.New32)
	var index []sortedEntry
	var offset int64
	for {
		e, n, err := readKeyedRecordHeader(cr, offset)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		index = append(index, e)
		offset += n
		if _, err := cr.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return index, nil
}

// readKeyedRecordHeader reads one keyed record (row, column, timestamp,
// value length) at the current position and returns the resulting index
// entry plus the record's total byte length; the value bytes themselves
// are skipped, not loaded, since Open only needs the index.
func readKeyedRecordHeader(r io.Reader, baseOffset int64) (sortedEntry, int64, error) {
	row, _, err := readLenPrefixed(r)
	if err != nil {
		return sortedEntry{}, 0, err
	}
	col, _, err := readLenPrefixed(r)
	if err != nil {
		return sortedEntry{}, 0, err
	}
	var tsBuf [8]byte
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return sortedEntry{}, 0, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return sortedEntry{}, 0, err
	}
	valLen := binary.BigEndian.Uint32(lenBuf[:])
	header := int64(4+len(row)) + int64(4+len(col)) + 8
	valueOffset := baseOffset + header
	if _, err := io.CopyN(io.Discard, r, int64(valLen)); err != nil {
		return sortedEntry{}, 0, err
	}
	e := sortedEntry{
		key: rowkey.Key{
			Row:       row,
			Column:    col,
			Timestamp: int64(binary.BigEndian.Uint64(tsBuf[:])),
		},
		offset: valueOffset,
		length: valLen,
	}
	total := header + 4 + int64(valLen)
	return e, total, nil
}

func readLenPrefixed(r io.Reader) ([]byte, int, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, 0, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, 0, err
		}
	}
	return b, int(n), nil
}

func writeKeyedValue(w io.Writer, key rowkey.Key, value []byte) (int64, error) {
	var n int64
	if m, err := writeLenPrefixed(w, key.Row); err != nil {
		return 0, err
	} else {
		n += m
	}
	if m, err := writeLenPrefixed(w, key.Column); err != nil {
		return 0, err
	} else {
		n += m
	}
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(key.Timestamp))
	if _, err := w.Write(tsBuf[:]); err != nil {
		return 0, err
	}
	n += 8
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	n += 4
	if _, err := w.Write(value); err != nil {
		return 0, err
	}
	n += int64(len(value))
	return n, nil
}

func writeLenPrefixed(w io.Writer, b []byte) (int64, error) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(b); err != nil {
		return 0, err
	}
	return int64(4 + len(b)), nil
}
