// Package sgrna orchestrates a two-stage external-tool pipeline over a
// directory of alignment files and reduces the tools' per-position depth
// output into a per-sample site-usage proportion table.
package sgrna

import (
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/sgrna/depth"
	"github.com/pkg/errors"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// Config carries every knob of one pipeline run.  It is built once, in
// main, and passed by value; nothing reads configuration from the
// environment behind the caller's back.
type Config struct {
	// InputDir is scanned recursively for .bam inputs.
	InputDir string
	// OutputDir receives the filtered/ and depth/ trees and the two final
	// tables.  Outputs already present there are reused, never recomputed.
	OutputDir string
	// Tool is the external program run in both stages.  A bare name is
	// resolved against $PATH before any job is built.
	Tool string
	// RefName is the reference sequence name handed to the leader filter.
	RefName string
	// MinQuality is the minimum read quality handed to the leader filter.
	MinQuality int
	// JobThreads is the thread count each leader-filter invocation is told
	// to use; the worker pool size is Parallelism/JobThreads.
	JobThreads int
	// Parallelism is the total thread budget shared by concurrent jobs.
	// 0 means runtime.NumCPU().
	Parallelism int
	// Sites are the 1-based positions retained by the aggregator.
	Sites depth.SiteSet
	// DryRun logs every rendered command without running anything.
	DryRun bool
	// SkipPreflight disables the BAM header checks before stage 1.
	SkipPreflight bool
}

// DefaultConfig supplies the bio-sgrna flag defaults.
var DefaultConfig = Config{
	RefName:     "MN908947.3",
	MinQuality:  30,
	JobThreads:  4,
	Parallelism: 0,
	Sites:       depth.DefaultSites,
}

// normalize validates cfg and fills derived fields, returning the
// effective configuration.
func (c Config) normalize() (Config, error) {
	if c.InputDir == "" {
		return c, errors.New("config: input directory is required")
	}
	if c.OutputDir == "" {
		return c, errors.New("config: output directory is required")
	}
	if c.Tool == "" {
		return c, errors.New("config: external tool is required")
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	if c.JobThreads <= 0 {
		c.JobThreads = 1
	}
	if c.Sites.Len() == 0 {
		c.Sites = depth.DefaultSites
	}
	// A dry run may preview commands for a tool that is not installed.
	if !c.DryRun && !strings.ContainsRune(c.Tool, os.PathSeparator) {
		tool, err := lookpath.Look(envvar.SliceToMap(os.Environ()), c.Tool)
		if err != nil {
			return c, errors.Wrapf(err, "config: resolving tool %q", c.Tool)
		}
		c.Tool = tool
	}
	return c, nil
}
