package util

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Sample returns the sample stem of a file path: the portion of the base
// name before the first '.'.  E.g. "out/NB551088_7.leader.bam" yields
// "NB551088_7".  Files that share a stem identify the same sample.
func Sample(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// HasExt reports whether the base name of path ends with ext and has a
// nonempty stem in front of it.  ext must include the leading dot and may
// span multiple dots, e.g. ".depth.txt".
func HasExt(path, ext string) bool {
	base := filepath.Base(path)
	return len(base) > len(ext) && strings.HasSuffix(base, ext)
}

// ReplaceExt returns path with its trailing oldExt swapped for newExt.
// Unlike blind suffix slicing, it fails when path does not actually end
// in oldExt, so callers cannot silently truncate an unexpected name.
func ReplaceExt(path, oldExt, newExt string) (string, error) {
	if !HasExt(path, oldExt) {
		return "", errors.Errorf("ReplaceExt: %s does not end in %s", path, oldExt)
	}
	return strings.TrimSuffix(path, oldExt) + newExt, nil
}
