package batch

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/sgrna/util"
	"github.com/pkg/errors"
)

// Discover returns the absolute paths of every file under root, at any
// depth, whose name ends in ext, sorted so downstream processing order
// does not depend on directory iteration order.  A missing root yields no
// paths and no error; callers decide whether an empty result is fatal.
func Discover(ctx context.Context, root, ext string) ([]string, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		log.Debug.Printf("Discover: %s does not exist", root)
		return nil, nil
	}
	var paths []string
	lister := file.List(ctx, root, true)
	for lister.Scan() {
		if !util.HasExt(lister.Path(), ext) {
			continue
		}
		abs, err := filepath.Abs(lister.Path())
		if err != nil {
			return nil, errors.Wrapf(err, "Discover: resolving %s", lister.Path())
		}
		paths = append(paths, abs)
	}
	if err := lister.Err(); err != nil {
		return nil, errors.Wrapf(err, "Discover: listing %s", root)
	}
	sort.Strings(paths)
	return paths, nil
}
