package harness

import (
	"fmt"
	"io"
	"strings"
	"time"

	"splitquery-repro/internal/planner"
)

// CaseResult is the outcome of one limit and mode.
type CaseResult struct {
	Limit    int
	Mode     planner.Mode
	Parents  int
	Failures []string
	Duration time.Duration
}

// Passed reports whether the case had no failures.
func (c CaseResult) Passed() bool {
	return len(c.Failures) == 0
}

// Report collects case results of one matrix run.
type Report struct {
	RunID    string
	OrderTag string
	Cases    []CaseResult
}

// Passed reports whether every case passed. An empty report passes.
func (r *Report) Passed() bool {
	return r.Failed() == 0
}

// Failed counts failing cases.
func (r *Report) Failed() int {
	failed := 0
	for _, c := range r.Cases {
		if !c.Passed() {
			failed++
		}
	}
	return failed
}

func (r *Report) addFailure(limit int, mode planner.Mode, failure string) {
	for i := range r.Cases {
		if r.Cases[i].Limit == limit && r.Cases[i].Mode == mode {
			r.Cases[i].Failures = append(r.Cases[i].Failures, failure)
			return
		}
	}
}

// Write prints one PASS/FAIL line per case followed by a summary line.
func (r *Report) Write(w io.Writer) error {
	for _, c := range r.Cases {
		status := "PASS"
		if !c.Passed() {
			status = "FAIL"
		}
		line := fmt.Sprintf("%s limit=%d mode=%s parents=%d", status, c.Limit, c.Mode, c.Parents)
		if !c.Passed() {
			line += ": " + strings.Join(c.Failures, "; ")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d/%d cases passed (order tag %q, run %s)\n",
		len(r.Cases)-r.Failed(), len(r.Cases), r.OrderTag, r.RunID)
	return err
}
