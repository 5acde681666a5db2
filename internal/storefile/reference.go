package storefile

import (
	"bytes"
	"encoding/binary"
	"io"
	"path"
	"sort"

	"github.com/brimdb/regiondb/internal/fsx"
	"github.com/brimdb/regiondb/internal/rowkey"
)

// ReferenceMarker is the persisted content of a reference store file (spec
// §6: "encoded parent-region name, parent file id, split key, half"). The
// marker file lives at the same mapfiles/{id}.{suffix} path a concrete
// file's data would, but it carries no row data of its own -- every read
// through a reference is served from the parent file's own data file,
// restricted to the chosen half.
type ReferenceMarker struct {
	ParentEncodedRegion string
	ParentFileID        uint64
	SplitKey            rowkey.Key
	Half                Half
}

// NewReference materialises a reference store file projecting one half of
// parent, split at splitKey, and returns it open for reading. Cheap by
// construction: no row data is copied, only a marker plus an in-memory
// index filtered from the parent's already-loaded index (spec §4.3:
// "region split via reference files" keeps splits an O(files) operation,
// not an O(rows) one).
func NewReference(fs fsx.Filesystem, familyDir string, fileID uint64, parentEncodedRegion string, parent *File, splitKey rowkey.Key, half Half) (*File, error) {
	marker := ReferenceMarker{
		ParentEncodedRegion: parentEncodedRegion,
		ParentFileID:        parent.fileID,
		SplitKey:            splitKey,
		Half:                half,
	}
	if err := WriteReferenceMarker(fs, familyDir, fileID, marker); err != nil {
		return nil, err
	}
	if err := writeInfoSidecar(fs, familyDir, fileName(fileID, parentEncodedRegion), parent.maxSeq); err != nil {
		return nil, err
	}
	return &File{
		fs:        fs,
		fileID:    fileID,
		maxSeq:    parent.maxSeq,
		dataPath:  parent.dataPath,
		index:     filterIndexByHalf(parent.index, splitKey, half),
		isRef:     true,
		refParent: parent.fileID,
		refSplit:  append([]byte(nil), splitKey.Row...),
		refHalf:   half,
	}, nil
}

// OpenReference opens an existing reference store file, re-deriving its
// filtered index from the already-open parent.
func OpenReference(fs fsx.Filesystem, familyDir string, fileID uint64, parentEncodedRegion string, parent *File) (*File, error) {
	marker, err := ReadReferenceMarker(fs, familyDir, fileID, parentEncodedRegion)
	if err != nil {
		return nil, err
	}
	maxSeq, err := readInfoSidecar(fs, familyDir, fileName(fileID, parentEncodedRegion))
	if err != nil {
		return nil, err
	}
	return &File{
		fs:        fs,
		fileID:    fileID,
		maxSeq:    maxSeq,
		dataPath:  parent.dataPath,
		index:     filterIndexByHalf(parent.index, marker.SplitKey, marker.Half),
		isRef:     true,
		refParent: marker.ParentFileID,
		refSplit:  append([]byte(nil), marker.SplitKey.Row...),
		refHalf:   marker.Half,
	}, nil
}

// filterIndexByHalf restricts a parent's sorted index to the rows below
// (Bottom) or at-or-above (Top) splitKey, by row only -- a reference's
// split point partitions the row-key space, not individual columns or
// versions within a row (spec §6: region descriptors split on start/end
// row keys).
func filterIndexByHalf(parentIndex []sortedEntry, splitKey rowkey.Key, half Half) []sortedEntry {
	i := sort.Search(len(parentIndex), func(i int) bool {
		return bytes.Compare(parentIndex[i].key.Row, splitKey.Row) >= 0
	})
	var out []sortedEntry
	if half == Bottom {
		out = make([]sortedEntry, i)
		copy(out, parentIndex[:i])
	} else {
		out = make([]sortedEntry, len(parentIndex)-i)
		copy(out, parentIndex[i:])
	}
	return out
}

// WriteReferenceMarker persists marker to its mapfiles path via the usual
// scratch-then-rename durability pattern.
func WriteReferenceMarker(fs fsx.Filesystem, familyDir string, fileID uint64, marker ReferenceMarker) error {
	if err := fs.MkdirAll(mapfilesDir(familyDir)); err != nil {
		return err
	}
	name := fileName(fileID, marker.ParentEncodedRegion)
	markerPath := path.Join(mapfilesDir(familyDir), name)
	scratch := markerPath + ".tmp"
	w, err := fs.Create(scratch)
	if err != nil {
		return err
	}
	if _, err := writeLenPrefixed(w, []byte(marker.ParentEncodedRegion)); err != nil {
		w.Close()
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], marker.ParentFileID)
	if _, err := w.Write(buf[:]); err != nil {
		w.Close()
		return err
	}
	if _, err := writeLenPrefixed(w, marker.SplitKey.Row); err != nil {
		w.Close()
		return err
	}
	if _, err := writeLenPrefixed(w, marker.SplitKey.Column); err != nil {
		w.Close()
		return err
	}
	binary.BigEndian.PutUint64(buf[:], uint64(marker.SplitKey.Timestamp))
	if _, err := w.Write(buf[:]); err != nil {
		w.Close()
		return err
	}
	if _, err := w.Write([]byte{byte(marker.Half)}); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return fs.Rename(scratch, markerPath)
}

// ReadReferenceMarker reads back a marker previously written by
// WriteReferenceMarker.
func ReadReferenceMarker(fs fsx.Filesystem, familyDir string, fileID uint64, parentEncodedRegion string) (ReferenceMarker, error) {
	name := fileName(fileID, parentEncodedRegion)
	r, err := fs.OpenRead(path.Join(mapfilesDir(familyDir), name))
	if err != nil {
		return ReferenceMarker{}, err
	}
	defer r.Close()

	region, _, err := readLenPrefixed(r)
	if err != nil {
		return ReferenceMarker{}, err
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ReferenceMarker{}, err
	}
	parentFileID := binary.BigEndian.Uint64(buf[:])
	row, _, err := readLenPrefixed(r)
	if err != nil {
		return ReferenceMarker{}, err
	}
	col, _, err := readLenPrefixed(r)
	if err != nil {
		return ReferenceMarker{}, err
	}
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ReferenceMarker{}, err
	}
	ts := int64(binary.BigEndian.Uint64(buf[:]))
	var halfBuf [1]byte
	if _, err := io.ReadFull(r, halfBuf[:]); err != nil {
		return ReferenceMarker{}, err
	}
	return ReferenceMarker{
		ParentEncodedRegion: string(region),
		ParentFileID:        parentFileID,
		SplitKey:            rowkey.Key{Row: row, Column: col, Timestamp: ts},
		Half:                Half(halfBuf[0]),
	}, nil
}
