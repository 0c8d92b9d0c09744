// Package diag carries the compiler's diagnostic machinery: phase-gated
// debug logging driven by COT_DEBUG/COT_TRACE, the error taxonomy from the
// compiler's fatal/diagnostic split, and the process exit codes.
package diag

import (
	"fmt"
	"os"
	"strings"
)

// Phase names one pipeline stage for COT_DEBUG gating.
type Phase string

const (
	PhaseParse    Phase = "parse"
	PhaseCheck    Phase = "check"
	PhaseLower    Phase = "lower"
	PhaseSSA      Phase = "ssa"
	PhaseSchedule Phase = "schedule"
	PhaseRegalloc Phase = "regalloc"
	PhaseCodegen  Phase = "codegen"
	PhaseStrings  Phase = "strings"
	PhaseABI      Phase = "abi"
)

var allPhases = []Phase{
	PhaseParse, PhaseCheck, PhaseLower, PhaseSSA, PhaseSchedule,
	PhaseRegalloc, PhaseCodegen, PhaseStrings, PhaseABI,
}

var (
	enabled   map[Phase]bool
	traceFunc string
)

func init() {
	readEnv(os.Getenv("COT_DEBUG"), os.Getenv("COT_TRACE"))
}

// readEnv populates the phase gate table. Split out of init so tests can
// exercise the parsing without mutating the process environment.
func readEnv(debug, trace string) {
	enabled = make(map[Phase]bool)
	for _, part := range strings.Split(debug, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "all" {
			for _, p := range allPhases {
				enabled[p] = true
			}
			continue
		}
		enabled[Phase(part)] = true
	}
	traceFunc = trace
}

// Enabled reports whether COT_DEBUG selected the phase.
func Enabled(p Phase) bool { return enabled[p] }

// Logf prints to stderr when the phase is enabled.
func Logf(p Phase, format string, args ...interface{}) {
	if !enabled[p] {
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] ", p)
	fmt.Fprintf(os.Stderr, format, args...)
	fmt.Fprintln(os.Stderr)
}

// Tracing reports whether COT_TRACE selected the function, and prints the
// per-function heading each time it reports true.
func Tracing(funcName string) bool {
	if traceFunc == "" || traceFunc != funcName {
		return false
	}
	fmt.Fprintf(os.Stderr, "=== %s ===\n", funcName)
	return true
}

// Exit codes per the compiler's contract.
const (
	ExitOK          = 0
	ExitDiagnostics = 1
	ExitFatal       = 2
)

// MaxDiagnostics is the cap after which compilation aborts.
const MaxDiagnostics = 10

// Diagnostic is one user-facing error with a source position.
type Diagnostic struct {
	File    string
	Line    int
	Col     int
	Code    string // "E101", "E203", ...
	Message string
	Notes   []string
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s:%d:%d: error[%s]: %s", d.File, d.Line, d.Col, d.Code, d.Message)
}

// Reporter accumulates diagnostics up to MaxDiagnostics.
type Reporter struct {
	Diags   []*Diagnostic
	aborted bool
}

func NewReporter() *Reporter { return &Reporter{} }

// Report appends d; returns false once the cap is reached and the caller
// should abort.
func (r *Reporter) Report(d *Diagnostic) bool {
	if r.aborted {
		return false
	}
	r.Diags = append(r.Diags, d)
	if len(r.Diags) >= MaxDiagnostics {
		r.aborted = true
		return false
	}
	return true
}

// HasErrors reports whether any diagnostic was recorded.
func (r *Reporter) HasErrors() bool { return len(r.Diags) > 0 }

// Print writes every diagnostic to w-style stderr formatting:
// file:line:col: error[Exxx]: message, then indented notes.
func (r *Reporter) Print() {
	for _, d := range r.Diags {
		fmt.Fprintln(os.Stderr, d.Error())
		for _, n := range d.Notes {
			fmt.Fprintf(os.Stderr, "  note: %s\n", n)
		}
	}
}

// InternalError is a compiler bug: an invariant violated mid-pass. These
// halt compilation immediately rather than accumulating.
type InternalError struct {
	Pass    string
	Message string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %s", e.Pass, e.Message)
}

// Internalf constructs an InternalError.
func Internalf(pass, format string, args ...interface{}) error {
	return &InternalError{Pass: pass, Message: fmt.Sprintf(format, args...)}
}

// IterationLimitError reports a rewrite pass that failed to reach fixpoint
// within its bound.
type IterationLimitError struct {
	Pass  string
	Limit int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("%s did not reach fixpoint after %d iterations", e.Pass, e.Limit)
}

// ScheduleIncompleteError names the values the scheduler could not order.
type ScheduleIncompleteError struct {
	Func     string
	Block    int
	Unplaced []string
}

func (e *ScheduleIncompleteError) Error() string {
	return fmt.Sprintf("schedule incomplete in %s block %d: unscheduled %s",
		e.Func, e.Block, strings.Join(e.Unplaced, ", "))
}

// ValidationError reports an edge or use-count invariant violation found by
// verify.
type ValidationError struct {
	Func    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed in %s: %s", e.Func, e.Message)
}
