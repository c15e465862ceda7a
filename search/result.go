package search

import (
	"errors"
	"fmt"
	"strings"

	"zexplore/state"
	"zexplore/stats"
	"zexplore/traversal"
)

var (
	// A worker failed in a way the search can not recover from: a contract violation, a failed replay or a storage error
	ErrRuntime = errors.New("search: runtime error")
	// The stack of a worker grew past the maximum depth
	ErrStackOverflow = errors.New("search: stack overflow")
	// An accepting state can reach itself
	ErrAcceptingCycle = errors.New("search: accepting cycle")
)

// The kind of result of a search. The value is the exit code of the command line tool.
type Result int

const (
	ResultSuccess Result = iota
	ResultErrorFound
	ResultStackOverflow
	ResultRuntimeError
	ResultInvalidParameters
	ResultAcceptingCycle
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultErrorFound:
		return "ErrorFound"
	case ResultStackOverflow:
		return "StackOverflow"
	case ResultRuntimeError:
		return "RuntimeError"
	case ResultInvalidParameters:
		return "InvalidParameters"
	case ResultAcceptingCycle:
		return "AcceptingCycle"
	}
	return "Unknown"
}

func (r Result) ExitCode() int {
	return int(r)
}

func (r Result) severity() int {
	switch r {
	case ResultStackOverflow:
		return 1
	case ResultAcceptingCycle:
		return 2
	case ResultErrorFound:
		return 3
	case ResultInvalidParameters:
		return 4
	case ResultRuntimeError:
		return 5
	}
	return 0
}

// Returns the more severe of the results
func Worst(a, b Result) Result {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// A reportable result found by a worker, with the trace leading to it
type Report struct {
	Result Result
	Trace  state.Trace
	Err    error
	Worker int
	Bounds traversal.Bounds
}

// The report followed by one line per step of the trace
func (r Report) Format(compact bool) string {
	out := strings.Builder{}
	fmt.Fprintf(&out, "%v found by worker %d at %v: %v\n", r.Result, r.Worker, r.Bounds, r.Err)
	for _, line := range r.Trace.Lines(compact) {
		fmt.Fprintf(&out, "  %v\n", line)
	}
	return out.String()
}

func (r Report) String() string {
	return r.Format(false)
}

// Aggregates the reports of a search
type Error struct {
	Reports []Report
}

func (e *Error) Error() string {
	return fmt.Sprintf("search: %v reports. \nReport 1: %v", len(e.Reports), e.Reports[0].Err)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Reports))
	for _, r := range e.Reports {
		errs = append(errs, r.Err)
	}
	return errs
}

// The outcome of a search
type Summary struct {
	// Identifies the search in logs and trace files
	Run    string
	Result Result
	// The reports in the order they were found
	Reports []Report
	// Reports that were found but not kept
	Truncated int
	// Completed iterations and the bound of the last one
	Iterations int
	Cutoff     int
	// Frontiers left when the final cutoff was reached
	Unexplored int64
	Stats      stats.Snapshot
}

// Returns the reports as an *Error, or nil if nothing was reported
func (s *Summary) Err() error {
	if len(s.Reports) == 0 {
		return nil
	}
	return &Error{Reports: s.Reports}
}
