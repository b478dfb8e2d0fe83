// Package pathnorm canonicalizes file paths before they are used as
// identity or as dedupe keys. On Darwin, HFS+/APFS stores filenames in a
// decomposed Unicode form (a variant of NFD); two paths that are visually
// and semantically identical can therefore differ byte-for-byte depending
// on which syscall produced them. Every other platform is left untouched,
// since enforcing a different Unicode form there could mismatch what's
// actually on disk.
package pathnorm

import (
	"path/filepath"
	"runtime"

	"golang.org/x/text/unicode/norm"
)

// Normalize cleans a path with filepath.Clean and, on Darwin, folds it
// to NFC so that visually identical paths compare equal regardless of
// which Unicode normal form the filesystem returned them in.
func Normalize(path string) string {
	path = filepath.Clean(path)
	if runtime.GOOS == "darwin" {
		path = norm.NFC.String(path)
	}
	return path
}

// Resolve normalizes path and, if followSymlinks is true, resolves it to
// its final target via filepath.EvalSymlinks. Resolution failures (a
// dangling symlink, a permission error) are returned to the caller rather
// than silently falling back to the unresolved path, since silently
// substituting the wrong file's identity data would be worse than failing
// the scan of that one entry.
func Resolve(path string, followSymlinks bool) (string, error) {
	path = Normalize(path)
	if !followSymlinks {
		return path, nil
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return Normalize(resolved), nil
}
