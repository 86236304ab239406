package sgrna

import (
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/pkg/errors"
)

// preflight warns about inputs that are not readable BAMs, whose headers
// lack refName, or whose matching reference is shorter than the largest
// configured site.  A misconfigured -r or -sites then shows up once,
// before any tool runs, instead of as one opaque failure per job.  The
// run itself proceeds: a genuinely broken input still fails as its own
// job.
func preflight(paths []string, refName string, maxSite int) (nBad int) {
	for _, path := range paths {
		if err := checkBAM(path, refName, maxSite); err != nil {
			log.Error.Printf("preflight: %v", err)
			nBad++
		}
	}
	return nBad
}

func checkBAM(path, refName string, maxSite int) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	r, err := bam.NewReader(f, 1)
	if err != nil {
		return errors.Wrapf(err, "%s: not a readable BAM", path)
	}
	defer func() {
		if e := r.Close(); e != nil && err == nil {
			err = e
		}
	}()
	for _, ref := range r.Header().Refs() {
		if ref.Name() == refName {
			if maxSite > ref.Len() {
				return errors.Errorf("%s: site %d lies beyond reference %s (length %d)",
					path, maxSite, refName, ref.Len())
			}
			return nil
		}
	}
	return errors.Errorf("%s: reference %q not in BAM header", path, refName)
}
