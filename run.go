package sgrna

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/multierror"
	"github.com/grailbio/sgrna/batch"
	"github.com/grailbio/sgrna/depth"
	"github.com/grailbio/sgrna/util"
	"github.com/pkg/errors"
)

const (
	bamExt    = ".bam"
	leaderExt = ".leader.bam"
	depthExt  = ".depth.txt"

	filteredDirName = "filtered"
	depthDirName    = "depth"
	aggregateName   = "aggregate_counts.tsv"
	proportionName  = "site_proportions.tsv"
)

// Run executes the pipeline: discover inputs, leader-filter them, compute
// depth listings, aggregate counts at the configured sites, and normalize
// the counts into per-sample proportions.  Stages run strictly in order,
// each starting only after every job of the previous stage has finished;
// within a stage, jobs share a bounded worker pool.  A failing job or a
// bad file costs only its own sample: the run continues, partial tables
// are still written, and Run returns the collected failures.
func Run(ctx context.Context, cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	inputs, err := batch.Discover(ctx, cfg.InputDir, bamExt)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.Errorf("no %s files under %s", bamExt, cfg.InputDir)
	}
	workers := batch.Workers(cfg.Parallelism, cfg.JobThreads)
	log.Printf("run: %d inputs, %d workers (budget %d, %d threads/job), sites %s",
		len(inputs), workers, cfg.Parallelism, cfg.JobThreads, cfg.Sites.String())
	if !cfg.DryRun {
		if err = os.MkdirAll(cfg.OutputDir, 0777); err != nil {
			return err
		}
	}
	if !cfg.SkipPreflight && !cfg.DryRun {
		if nBad := preflight(inputs, cfg.RefName, maxSite(cfg.Sites)); nBad > 0 {
			log.Error.Printf("run: preflight flagged %d of %d inputs", nBad, len(inputs))
		}
	}
	errs := multierror.NewMultiError(4)
	opts := batch.Opts{Workers: workers, DryRun: cfg.DryRun}

	// Stage 1: leader-sequence filtering.
	filterJobs, failures := buildFilterJobs(cfg, inputs)
	filterRep := batch.Dispatch(ctx, filterJobs, opts)
	filterRep.Results = append(filterRep.Results, failures...)
	logStage("leader filter", filterRep)
	errs.Add(filterRep.Err())

	// Stage 2 reads whatever stage 1's output directory now holds, so
	// earlier runs' outputs are included and failed samples are naturally
	// absent.  A dry run produced nothing and previews the predicted
	// outputs instead.
	var bams []string
	if cfg.DryRun {
		for _, job := range filterJobs {
			bams = append(bams, job.Output)
		}
	} else {
		if bams, err = batch.Discover(ctx, filepath.Join(cfg.OutputDir, filteredDirName), bamExt); err != nil {
			return err
		}
	}

	// Stage 2: depth listings.
	depthJobs, failures := buildDepthJobs(cfg, bams)
	depthRep := batch.Dispatch(ctx, depthJobs, opts)
	depthRep.Results = append(depthRep.Results, failures...)
	logStage("depth", depthRep)
	errs.Add(depthRep.Err())

	if cfg.DryRun {
		log.Printf("run: dry run, stopping before aggregation")
		return errs.ErrorOrNil()
	}

	// Stages 3 and 4: aggregate counts, then proportions.
	depthFiles, err := batch.Discover(ctx, filepath.Join(cfg.OutputDir, depthDirName), depthExt)
	if err != nil {
		return err
	}
	aggPath := filepath.Join(cfg.OutputDir, aggregateName)
	errs.Add(depth.WriteAggregate(ctx, depthFiles, cfg.Sites, aggPath))
	if _, statErr := os.Stat(aggPath); statErr == nil {
		errs.Add(depth.WriteProportions(ctx, aggPath, filepath.Join(cfg.OutputDir, proportionName)))
	}
	return errs.ErrorOrNil()
}

// buildFilterJobs plans one leader-filter invocation per input.  The tool
// deposits the artifact named by -o in its working directory; the
// dispatcher moves it into the filtered/ tree.
func buildFilterJobs(cfg Config, inputs []string) ([]batch.Job, []batch.Result) {
	outDir := filepath.Join(cfg.OutputDir, filteredDirName)
	jobs := make([]batch.Job, 0, len(inputs))
	var failures []batch.Result
	for _, input := range inputs {
		artifact, err := util.ReplaceExt(filepath.Base(input), bamExt, leaderExt)
		if err != nil {
			failures = append(failures, batch.Result{Job: batch.Job{Input: input}, Err: err})
			continue
		}
		jobs = append(jobs, batch.Job{
			Input:    input,
			Output:   filepath.Join(outDir, artifact),
			Artifact: artifact,
			Argv: []string{cfg.Tool,
				"-i", input,
				"-r", cfg.RefName,
				"-q", strconv.Itoa(cfg.MinQuality),
				"-t", strconv.Itoa(cfg.JobThreads),
				"-o", artifact,
			},
		})
	}
	return jobs, failures
}

// buildDepthJobs plans one depth invocation per filtered BAM, capturing
// the tool's stdout as the .depth.txt output.
func buildDepthJobs(cfg Config, bams []string) ([]batch.Job, []batch.Result) {
	outDir := filepath.Join(cfg.OutputDir, depthDirName)
	jobs := make([]batch.Job, 0, len(bams))
	var failures []batch.Result
	for _, bamPath := range bams {
		name, err := util.ReplaceExt(filepath.Base(bamPath), bamExt, depthExt)
		if err != nil {
			failures = append(failures, batch.Result{Job: batch.Job{Input: bamPath}, Err: err})
			continue
		}
		jobs = append(jobs, batch.Job{
			Input:  bamPath,
			Output: filepath.Join(outDir, name),
			Argv:   []string{cfg.Tool, "depth", bamPath},
		})
	}
	return jobs, failures
}

func logStage(stage string, rep batch.Report) {
	completed, skipped, failed := rep.Counts()
	log.Printf("%s: %d completed, %d skipped, %d failed", stage, completed, skipped, failed)
	for _, res := range rep.Failed() {
		log.Error.Printf("%s: sample %s: %v", stage, util.Sample(res.Job.Input), res.Err)
	}
}

func maxSite(sites depth.SiteSet) int {
	slice := sites.Slice()
	if len(slice) == 0 {
		return 0
	}
	return slice[len(slice)-1]
}
