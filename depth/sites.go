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

// Package depth turns per-sample read-depth listings into a single
// aggregate count table restricted to a fixed set of genomic positions,
// and normalizes that table into per-sample site-usage proportions.
package depth

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// SiteSet is an immutable set of 1-based genomic coordinates, fixed for
// the lifetime of a run.
type SiteSet struct {
	m map[int]struct{}
}

// NewSiteSet returns a SiteSet holding the given positions.
func NewSiteSet(positions ...int) SiteSet {
	m := make(map[int]struct{}, len(positions))
	for _, pos := range positions {
		m[pos] = struct{}{}
	}
	return SiteSet{m: m}
}

// DefaultSites holds the leader-junction positions quantified when no
// explicit site list is configured.
var DefaultSites = NewSiteSet(55, 26469, 29530)

// Contains reports whether pos belongs to the set.
func (s SiteSet) Contains(pos int) bool {
	_, ok := s.m[pos]
	return ok
}

// Len returns the number of sites.
func (s SiteSet) Len() int { return len(s.m) }

// Slice returns the sites in ascending order.
func (s SiteSet) Slice() []int {
	slice := make([]int, 0, len(s.m))
	for pos := range s.m {
		slice = append(slice, pos)
	}
	sort.Ints(slice)
	return slice
}

// String renders the sites in ascending order, comma-separated, in the
// same form ParseSiteSet accepts.
func (s SiteSet) String() string {
	var sb strings.Builder
	for i, pos := range s.Slice() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(pos))
	}
	return sb.String()
}

// ParseSiteSet parses a comma-separated list of non-negative 1-based
// positions, e.g. "55,26469,29530".
func ParseSiteSet(s string) (SiteSet, error) {
	var positions []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		pos, err := strconv.Atoi(field)
		if err != nil || pos < 0 {
			return SiteSet{}, errors.Errorf("ParseSiteSet: invalid position %q", field)
		}
		positions = append(positions, pos)
	}
	if len(positions) == 0 {
		return SiteSet{}, errors.Errorf("ParseSiteSet: no positions in %q", s)
	}
	return NewSiteSet(positions...), nil
}

// ReadBEDSites loads a SiteSet from a BED file, plain or gzipped: each
// 0-based half-open interval contributes every 1-based position it
// covers.  Only the start/end columns matter here; depth listings are
// filtered by position alone, so the contig column is not checked.
func ReadBEDSites(ctx context.Context, path string) (sites SiteSet, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return SiteSet{}, err
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		if reader, err = gzip.NewReader(reader); err != nil {
			return SiteSet{}, errors.Wrap(err, path)
		}
	}

	var positions []int
	scanner := bufio.NewScanner(reader)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") ||
			strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return SiteSet{}, errors.Errorf("%s:%d: not a BED interval: %q", path, lineIdx, line)
		}
		start, serr := strconv.Atoi(fields[1])
		end, eerr := strconv.Atoi(fields[2])
		if serr != nil || eerr != nil || start < 0 || end < start {
			return SiteSet{}, errors.Errorf("%s:%d: bad BED interval %q-%q", path, lineIdx, fields[1], fields[2])
		}
		for pos0 := start; pos0 < end; pos0++ {
			positions = append(positions, pos0+1)
		}
	}
	if err = scanner.Err(); err != nil {
		return SiteSet{}, errors.Wrap(err, path)
	}
	if len(positions) == 0 {
		return SiteSet{}, errors.Errorf("ReadBEDSites: no sites in %s", path)
	}
	return NewSiteSet(positions...), nil
}
