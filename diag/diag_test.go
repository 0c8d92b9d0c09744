package diag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadEnv(t *testing.T) {
	for _, tc := range []struct {
		name  string
		debug string
		want  []Phase
		off   []Phase
	}{
		{name: "empty", debug: "", off: []Phase{PhaseLower, PhaseSSA}},
		{name: "single", debug: "ssa", want: []Phase{PhaseSSA}, off: []Phase{PhaseLower}},
		{name: "multi", debug: "lower,ssa,codegen", want: []Phase{PhaseLower, PhaseSSA, PhaseCodegen}, off: []Phase{PhaseSchedule}},
		{name: "all", debug: "all", want: []Phase{PhaseParse, PhaseCheck, PhaseLower, PhaseSSA, PhaseSchedule, PhaseRegalloc, PhaseCodegen, PhaseStrings, PhaseABI}},
		{name: "spaces", debug: " lower , ssa ", want: []Phase{PhaseLower, PhaseSSA}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			readEnv(tc.debug, "")
			for _, p := range tc.want {
				require.True(t, Enabled(p), "phase %s should be enabled", p)
			}
			for _, p := range tc.off {
				require.False(t, Enabled(p), "phase %s should be disabled", p)
			}
		})
	}
	readEnv("", "")
}

func TestReporterCap(t *testing.T) {
	r := NewReporter()
	for i := 0; i < MaxDiagnostics-1; i++ {
		require.True(t, r.Report(&Diagnostic{Code: "E301", Message: "x"}))
	}
	// The tenth diagnostic is recorded but signals abort.
	require.False(t, r.Report(&Diagnostic{Code: "E301", Message: "last"}))
	require.Equal(t, MaxDiagnostics, len(r.Diags))
	// Past the cap nothing more is recorded.
	require.False(t, r.Report(&Diagnostic{Code: "E301", Message: "extra"}))
	require.Equal(t, MaxDiagnostics, len(r.Diags))
}

func TestDiagnosticFormat(t *testing.T) {
	d := &Diagnostic{File: "main.cot", Line: 3, Col: 7, Code: "E302", Message: "type mismatch"}
	require.Equal(t, "main.cot:3:7: error[E302]: type mismatch", d.Error())
}

func TestErrorKinds(t *testing.T) {
	require.Contains(t, (&IterationLimitError{Pass: "rewritedec", Limit: 100}).Error(), "rewritedec")
	require.Contains(t, (&ScheduleIncompleteError{Func: "main", Block: 2, Unplaced: []string{"v7", "v9"}}).Error(), "v7, v9")
	require.Contains(t, Internalf("lower", "no current block").Error(), "no current block")
}
