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
package main

/*
bio-sgrna batch-runs an external subgenomic-RNA tool over a directory of
BAMs: it filters each BAM down to leader-containing reads, computes
per-position depth for the filtered reads, and writes aggregate count and
per-sample proportion tables for the configured junction sites.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/sgrna"
	"github.com/grailbio/sgrna/depth"
)

var (
	inputDir      = flag.String("input-dir", sgrna.DefaultConfig.InputDir, "Directory scanned recursively for input .bam files; required")
	outputDir     = flag.String("output-dir", sgrna.DefaultConfig.OutputDir, "Directory receiving filtered BAMs, depth listings, and the final tables; required")
	tool          = flag.String("tool", sgrna.DefaultConfig.Tool, "External sgRNA tool to invoke; bare names are resolved against $PATH; required")
	refName       = flag.String("ref", sgrna.DefaultConfig.RefName, "Reference sequence name passed to the leader filter")
	minQuality    = flag.Int("min-quality", sgrna.DefaultConfig.MinQuality, "Minimum read quality passed to the leader filter")
	jobThreads    = flag.Int("job-threads", sgrna.DefaultConfig.JobThreads, "Thread count each leader-filter invocation is told to use")
	parallelism   = flag.Int("parallelism", sgrna.DefaultConfig.Parallelism, "Total thread budget shared by simultaneous jobs; 0 = runtime.NumCPU()")
	sites         = flag.String("sites", sgrna.DefaultConfig.Sites.String(), "Comma-separated 1-based junction positions to quantify")
	sitesBED      = flag.String("sites-bed", "", "BED file (plain or .gz) of junction positions to quantify; overrides -sites")
	dryRun        = flag.Bool("dry-run", false, "Log the commands each stage would run instead of running anything")
	skipPreflight = flag.Bool("skip-preflight", false, "Skip the BAM header checks that run before the first stage")
)

func bioSgrnaUsage() {
	fmt.Printf("Usage: %s [OPTIONS]\n", os.Args[0])
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioSgrnaUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 0 {
		log.Fatalf("No positional arguments expected; please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	ctx := vcontext.Background()
	siteSet := sgrna.DefaultConfig.Sites
	var err error
	if *sitesBED != "" {
		if siteSet, err = depth.ReadBEDSites(ctx, *sitesBED); err != nil {
			log.Fatalf("Invalid -sites-bed: %v", err)
		}
	} else if siteSet, err = depth.ParseSiteSet(*sites); err != nil {
		log.Fatalf("Invalid -sites: %v", err)
	}
	cfg := sgrna.Config{
		InputDir:      *inputDir,
		OutputDir:     *outputDir,
		Tool:          *tool,
		RefName:       *refName,
		MinQuality:    *minQuality,
		JobThreads:    *jobThreads,
		Parallelism:   *parallelism,
		Sites:         siteSet,
		DryRun:        *dryRun,
		SkipPreflight: *skipPreflight,
	}
	if err := sgrna.Run(ctx, cfg); err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
