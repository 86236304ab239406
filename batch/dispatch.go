package batch

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
)

// Opts configures a Dispatch call.
type Opts struct {
	// Workers bounds how many jobs run concurrently; values below 1 mean 1.
	Workers int
	// DryRun logs each command instead of running it.
	DryRun bool
}

// Workers converts a total thread budget into a worker-pool size for jobs
// that each consume perJob threads: floor(budget/perJob), at least 1.
func Workers(budget, perJob int) int {
	if perJob < 1 {
		perJob = 1
	}
	n := budget / perJob
	if n < 1 {
		n = 1
	}
	return n
}

// Dispatch runs every job on a pool of opts.Workers goroutines and returns
// only after all of them have finished, so callers may immediately rescan
// output directories.  Jobs whose expected output already exists are
// skipped.  A failing job never stops the others; its error lands in the
// matching Result.
func Dispatch(ctx context.Context, jobs []Job, opts Opts) Report {
	if len(jobs) == 0 {
		return Report{}
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	results := make([]Result, len(jobs))
	work := make(chan int, len(jobs))
	for i := range jobs {
		work <- i
	}
	close(work)
	// Workers return nil even on job failure, so every queued job runs.
	_ = traverse.Each(workers, func(_ int) error {
		for i := range work {
			results[i] = runOne(ctx, jobs[i], opts)
		}
		return nil
	})
	return Report{Results: results}
}

func runOne(ctx context.Context, job Job, opts Opts) Result {
	if _, err := os.Stat(job.Output); err == nil {
		log.Printf("dispatch: using existing output %s", job.Output)
		return Result{Job: job, Skipped: true}
	}
	if opts.DryRun {
		log.Printf("dispatch: dry-run: %s", job.Command())
		return Result{Job: job}
	}
	log.Debug.Printf("dispatch: starting: %s", job.Command())
	if err := execute(ctx, job); err != nil {
		return Result{Job: job, Err: err}
	}
	log.Debug.Printf("dispatch: finished %s", job.Output)
	return Result{Job: job}
}

// execute runs one job inside its own scratch directory and renames the
// tool's product into job.Output.  The scratch directory sits next to the
// output so the rename cannot cross filesystems, and is removed on every
// exit path.
func execute(ctx context.Context, job Job) error {
	if len(job.Argv) == 0 {
		return &JobError{Input: job.Input, Err: errors.New("empty command")}
	}
	fail := func(stderr string, err error) *JobError {
		return &JobError{Input: job.Input, Command: job.Command(), Stderr: stderr, Err: err}
	}
	outDir := filepath.Dir(job.Output)
	if err := os.MkdirAll(outDir, 0777); err != nil {
		return fail("", err)
	}
	workDir, err := ioutil.TempDir(outDir, ".job")
	if err != nil {
		return fail("", err)
	}
	defer func() {
		if e := os.RemoveAll(workDir); e != nil {
			log.Error.Printf("dispatch: removing scratch dir %s: %v", workDir, e)
		}
	}()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, job.Argv[0], job.Argv[1:]...)
	cmd.Dir = workDir
	cmd.Stderr = &stderr

	produced := filepath.Join(workDir, job.Artifact)
	var stdout *os.File
	if job.Artifact == "" {
		produced = filepath.Join(workDir, "stdout.out")
		if stdout, err = os.Create(produced); err != nil {
			return fail("", err)
		}
		cmd.Stdout = stdout
	}
	runErr := cmd.Run()
	if stdout != nil {
		if e := stdout.Close(); e != nil && runErr == nil {
			runErr = e
		}
	}
	if runErr != nil {
		return fail(stderrTail(stderr.Bytes()), runErr)
	}
	if _, err = os.Stat(produced); err != nil {
		return fail(stderrTail(stderr.Bytes()),
			errors.Errorf("tool exited 0 but left no %s", filepath.Base(produced)))
	}
	if err = os.Rename(produced, job.Output); err != nil {
		return fail("", errors.Wrap(err, "moving output into place"))
	}
	return nil
}

const stderrTailBytes = 4096

func stderrTail(b []byte) string {
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	return strings.TrimSpace(string(b))
}
