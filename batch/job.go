package batch

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/sync/multierror"
)

// A Job is one planned external-tool invocation for a single input file.
type Job struct {
	// Input is the file the invocation reads; used for reporting.
	Input string
	// Output is the path the tool's result is renamed to on success.
	// Existence of this path marks the job complete: the dispatcher skips
	// such jobs without checking output validity.
	Output string
	// Argv is the program and its arguments.
	Argv []string
	// Artifact names the file the tool deposits in its working directory.
	// Empty means the tool writes its result to stdout instead.
	Artifact string
}

// Command renders the invocation for logs and error messages.
func (j Job) Command() string { return strings.Join(j.Argv, " ") }

// JobError describes the failure of one job, keyed to its own input and
// command rather than whatever the dispatch loop touched last.
type JobError struct {
	Input   string
	Command string
	Stderr  string // tail of the tool's stderr, when any was captured
	Err     error
}

func (e *JobError) Error() string {
	s := fmt.Sprintf("job for %s: %v [%s]", e.Input, e.Err, e.Command)
	if e.Stderr != "" {
		s += "; stderr: " + e.Stderr
	}
	return s
}

// Cause returns the underlying error.
func (e *JobError) Cause() error { return e.Err }

// Result is the outcome of one job.
type Result struct {
	Job     Job
	Skipped bool // the expected output already existed
	Err     error
}

// Report collects per-job outcomes for one dispatch round.
type Report struct {
	Results []Result
}

// Counts tallies the results by outcome.
func (r Report) Counts() (completed, skipped, failed int) {
	for _, res := range r.Results {
		switch {
		case res.Err != nil:
			failed++
		case res.Skipped:
			skipped++
		default:
			completed++
		}
	}
	return completed, skipped, failed
}

// Failed returns the results of jobs that ran and failed.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

const maxReportedErrors = 16

// Err folds every job failure into a single error, or returns nil when
// all jobs completed or were skipped.
func (r Report) Err() error {
	errs := multierror.NewMultiError(maxReportedErrors)
	for _, res := range r.Results {
		if res.Err != nil {
			errs.Add(res.Err)
		}
	}
	return errs.ErrorOrNil()
}
