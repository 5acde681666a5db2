package storefile

import (
	"io"
	"path"

	"github.com/brimdb/regiondb/internal/fsx"
)

// CopyConcrete physically relocates a concrete store file's data and info
// sidecar from srcFamilyDir/srcID to destFamilyDir under a fresh destID,
// using the same create-then-atomic-rename durability pattern the rest of
// the domain stack uses for anything that must survive a crash mid-write.
// Used by region merge (spec §4.7) to place both halves' files under one
// merged family directory without risking a file id collision between
// them, which sidesteps needing the spec's "decrement one to enforce
// uniqueness" rule: every merged file gets a never-before-used id instead.
//
// CopyConcrete only supports concrete files; callers must compact away
// any reference files first (NeedsSplit's own splitable check already
// requires this for splits, and merge requires it too).
func CopyConcrete(fs fsx.Filesystem, srcFamilyDir string, srcID uint64, destFamilyDir string, destID uint64) error {
	if err := fs.MkdirAll(mapfilesDir(destFamilyDir)); err != nil {
		return err
	}
	if err := fs.MkdirAll(infoDir(destFamilyDir)); err != nil {
		return err
	}
	srcName := fileName(srcID, "")
	destName := fileName(destID, "")
	if err := copyFile(fs, path.Join(mapfilesDir(srcFamilyDir), srcName), path.Join(mapfilesDir(destFamilyDir), destName)); err != nil {
		return err
	}
	if err := copyFile(fs, path.Join(infoDir(srcFamilyDir), srcName), path.Join(infoDir(destFamilyDir), destName)); err != nil {
		return err
	}
	return nil
}

func copyFile(fs fsx.Filesystem, src, dst string) error {
	r, err := fs.OpenRead(src)
	if err != nil {
		return err
	}
	defer r.Close()

	scratch := dst + ".tmp"
	w, err := fs.Create(scratch)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return fs.Rename(scratch, dst)
}
