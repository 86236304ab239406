// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package depth

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/multierror"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/sgrna/util"
	"github.com/pkg/errors"
)

// aggregateHeader precedes each depth file's rows in the aggregate table.
const aggregateHeader = "#sample_name\tposition\tcount"

const maxReportedErrors = 16

// A record is one retained depth observation.
type record struct {
	sample string
	pos    int
	count  int
}

// WriteAggregate reads each depth listing in depthPaths, keeps the rows
// whose position belongs to sites, and writes them to path as a
// tab-separated table in file-then-line order.  The header line repeats
// before every file's rows.  A file that fails to parse is omitted in
// full and its error folded into the returned error; the remaining files
// still aggregate, so partial results survive bad inputs.
func WriteAggregate(ctx context.Context, depthPaths []string, sites SiteSet, path string) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)
	w := tsv.NewWriter(dst.Writer(ctx))

	errs := multierror.NewMultiError(maxReportedErrors)
	nFiles, nRows := 0, 0
	for _, depthPath := range depthPaths {
		recs, ferr := readDepthFile(ctx, depthPath, sites)
		if ferr != nil {
			log.Error.Printf("aggregate: omitting %s: %v", depthPath, ferr)
			errs.Add(ferr)
			continue
		}
		nFiles++
		w.WriteString(aggregateHeader)
		w.EndLine()
		for _, rec := range recs {
			w.WriteString(rec.sample)
			w.WriteUint32(uint32(rec.pos))
			w.WriteUint32(uint32(rec.count))
			w.EndLine()
			nRows++
		}
	}
	if err = w.Flush(); err != nil {
		return err
	}
	log.Printf("aggregate: %d rows from %d depth files written to %s", nRows, nFiles, path)
	return errs.ErrorOrNil()
}

// readDepthFile parses one depth listing (plain or gzipped): lines of
// tab-separated (reference, 1-based position, depth).  Rows at positions
// outside sites are dropped.  The sample name is the file's base name up
// to its first '.'.  Any malformed line fails the whole file, naming the
// file and line.
func readDepthFile(ctx context.Context, path string, sites SiteSet) (recs []record, err error) {
	sample := util.Sample(path)
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if cerr := reader.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(reader)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, errors.Errorf("%s:%d: want 3 depth fields, got %d", path, lineIdx, len(fields))
		}
		pos, perr := strconv.Atoi(fields[1])
		if perr != nil || pos < 0 {
			return nil, errors.Errorf("%s:%d: bad position %q", path, lineIdx, fields[1])
		}
		count, perr := strconv.Atoi(fields[2])
		if perr != nil || count < 0 {
			return nil, errors.Errorf("%s:%d: bad depth %q", path, lineIdx, fields[2])
		}
		if !sites.Contains(pos) {
			continue
		}
		recs = append(recs, record{sample: sample, pos: pos, count: count})
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return recs, nil
}
