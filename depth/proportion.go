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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/multierror"
	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// proportionHeader is the single header line of the proportion table.
const proportionHeader = "#sample_name\tposition\tproportion\tcount"

// ZeroTotalError reports a sample whose counts sum to zero across every
// site, leaving its proportions undefined.
type ZeroTotalError struct {
	Sample string
}

func (e *ZeroTotalError) Error() string {
	return fmt.Sprintf("sample %s: depth at every site is zero, proportions undefined", e.Sample)
}

// WriteProportions reads the aggregate table at aggPath and writes one
// row per (sample, position) to path, where proportion is that
// position's count divided by the sample's total count.  Repeated
// (sample, position) pairs keep the last occurrence.  A sample whose
// total is zero is omitted and reported through the returned error
// rather than divided; the other samples are still written.  Rows are
// ordered by sample then position, so the output is identical however
// the upstream jobs were scheduled.
func WriteProportions(ctx context.Context, aggPath, path string) (err error) {
	counts, err := readAggregate(ctx, aggPath)
	if err != nil {
		return err
	}
	samples := make([]string, 0, len(counts))
	for sample := range counts {
		samples = append(samples, sample)
	}
	sort.Strings(samples)

	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)
	w := tsv.NewWriter(dst.Writer(ctx))
	w.WriteString(proportionHeader)
	w.EndLine()

	errs := multierror.NewMultiError(maxReportedErrors)
	nRows, nSamples := 0, 0
	for _, sample := range samples {
		positions := counts[sample]
		total := 0
		for _, count := range positions {
			total += count
		}
		if total == 0 {
			log.Error.Printf("proportions: omitting %s: depth at every site is zero", sample)
			errs.Add(&ZeroTotalError{Sample: sample})
			continue
		}
		nSamples++
		poss := make([]int, 0, len(positions))
		for pos := range positions {
			poss = append(poss, pos)
		}
		sort.Ints(poss)
		for _, pos := range poss {
			count := positions[pos]
			w.WriteString(sample)
			w.WriteUint32(uint32(pos))
			w.WriteString(strconv.FormatFloat(float64(count)/float64(total), 'g', -1, 64))
			w.WriteUint32(uint32(count))
			w.EndLine()
			nRows++
		}
	}
	if err = w.Flush(); err != nil {
		return err
	}
	log.Printf("proportions: %d rows for %d samples written to %s", nRows, nSamples, path)
	return errs.ErrorOrNil()
}

// readAggregate parses the aggregate count table.  '#'-prefixed header
// lines may appear throughout (one per source depth file) and are
// skipped.  Counts are keyed by (sample, position); the last write wins
// when a pair repeats, which happens when several depth files share a
// sample stem.
func readAggregate(ctx context.Context, path string) (counts map[string]map[int]int, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	counts = make(map[string]map[int]int)
	scanner := bufio.NewScanner(infile.Reader(ctx))
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, errors.Errorf("%s:%d: want 3 aggregate fields, got %d", path, lineIdx, len(fields))
		}
		pos, perr := strconv.Atoi(fields[1])
		if perr != nil {
			return nil, errors.Errorf("%s:%d: bad position %q", path, lineIdx, fields[1])
		}
		count, perr := strconv.Atoi(fields[2])
		if perr != nil {
			return nil, errors.Errorf("%s:%d: bad count %q", path, lineIdx, fields[2])
		}
		m := counts[fields[0]]
		if m == nil {
			m = make(map[int]int)
			counts[fields[0]] = m
		}
		m[pos] = count
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return counts, nil
}
