package grading

import (
	"strings"
	"testing"

	"algoforge/internal/judge/executor"
	"algoforge/internal/judge/model"
)

func TestGrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		res      executor.RunResult
		expected string
		want     model.Verdict
	}{
		{
			name:     "exact match",
			res:      executor.RunResult{Status: executor.RunOK, Stdout: "42\n"},
			expected: "42\n",
			want:     model.VerdictAccepted,
		},
		{
			name:     "wrong answer",
			res:      executor.RunResult{Status: executor.RunOK, Stdout: "41\n"},
			expected: "42\n",
			want:     model.VerdictWrongAnswer,
		},
		{
			name:     "time limit",
			res:      executor.RunResult{Status: executor.RunTimeLimit},
			expected: "42",
			want:     model.VerdictTimeLimit,
		},
		{
			name:     "memory limit",
			res:      executor.RunResult{Status: executor.RunMemoryLimit},
			expected: "42",
			want:     model.VerdictMemoryLimit,
		},
		{
			name:     "runtime error",
			res:      executor.RunResult{Status: executor.RunRuntimeError, ExitCode: 1},
			expected: "42",
			want:     model.VerdictRuntimeError,
		},
		{
			name:     "output limit counts as runtime error",
			res:      executor.RunResult{Status: executor.RunOutputLimit},
			expected: "42",
			want:     model.VerdictRuntimeError,
		},
		{
			name:     "internal error",
			res:      executor.RunResult{Status: executor.RunInternalError},
			expected: "42",
			want:     model.VerdictSystemError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := Grade(0, tc.res, tc.expected)
			if out.Verdict != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, out.Verdict)
			}
		})
	}
}

func TestOutputMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		actual   string
		expected string
		want     bool
	}{
		{"identical", "1 2 3\n", "1 2 3\n", true},
		{"crlf line endings", "1 2 3\r\n4 5\r\n", "1 2 3\n4 5\n", true},
		{"trailing spaces per line", "1 2 3  \n4 5\t\n", "1 2 3\n4 5\n", true},
		{"missing final newline", "1 2 3", "1 2 3\n", true},
		{"trailing blank lines", "1 2 3\n\n\n", "1 2 3\n", true},
		{"leading spaces differ", "  1 2 3\n", "1 2 3\n", false},
		{"interior whitespace differs", "1  2 3\n", "1 2 3\n", false},
		{"different value", "1 2 4\n", "1 2 3\n", false},
		{"blank line in the middle", "1\n\n2\n", "1\n2\n", false},
		{"both empty", "", "\n", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := OutputMatches(tc.actual, tc.expected); got != tc.want {
				t.Fatalf("OutputMatches(%q, %q) = %v, want %v", tc.actual, tc.expected, got, tc.want)
			}
		})
	}
}

func TestReduce(t *testing.T) {
	t.Parallel()

	outcomes := []CaseOutcome{
		{Index: 0, Verdict: model.VerdictAccepted, TimeUsedMS: 10, MemoryUsedKB: 2048},
		{Index: 1, Verdict: model.VerdictWrongAnswer, TimeUsedMS: 30, MemoryUsedKB: 1024},
		{Index: 2, Verdict: model.VerdictTimeLimit, TimeUsedMS: 2000, MemoryUsedKB: 4096},
	}

	summary := Reduce(outcomes)
	if summary.Verdict != model.VerdictTimeLimit {
		t.Fatalf("most severe verdict should win, got %s", summary.Verdict)
	}
	if summary.FailedTest != 3 {
		t.Fatalf("failed test should be 1-based index of the deciding case, got %d", summary.FailedTest)
	}
	if summary.MaxTimeMS != 2000 || summary.MaxMemoryKB != 4096 {
		t.Fatalf("metrics should be maximums, got time=%d mem=%d", summary.MaxTimeMS, summary.MaxMemoryKB)
	}
	if summary.CasesGraded != 3 {
		t.Fatalf("expected 3 graded cases, got %d", summary.CasesGraded)
	}
}

func TestReduceAllAccepted(t *testing.T) {
	t.Parallel()

	outcomes := []CaseOutcome{
		{Index: 0, Verdict: model.VerdictAccepted, TimeUsedMS: 5},
		{Index: 1, Verdict: model.VerdictAccepted, TimeUsedMS: 7},
	}
	summary := Reduce(outcomes)
	if summary.Verdict != model.VerdictAccepted {
		t.Fatalf("expected accepted, got %s", summary.Verdict)
	}
	if summary.FailedTest != 0 {
		t.Fatalf("accepted summary should carry no failed test, got %d", summary.FailedTest)
	}
}

func TestReduceFirstOfEqualSeverity(t *testing.T) {
	t.Parallel()

	outcomes := []CaseOutcome{
		{Index: 0, Verdict: model.VerdictAccepted},
		{Index: 1, Verdict: model.VerdictWrongAnswer},
		{Index: 2, Verdict: model.VerdictWrongAnswer},
	}
	summary := Reduce(outcomes)
	if summary.FailedTest != 2 {
		t.Fatalf("first case at the final severity should be reported, got %d", summary.FailedTest)
	}
}

func TestReduceEmpty(t *testing.T) {
	t.Parallel()

	summary := Reduce(nil)
	if summary.Verdict != model.VerdictAccepted || summary.CasesGraded != 0 {
		t.Fatalf("empty reduction should be accepted with zero cases, got %+v", summary)
	}
}

func TestGradeCapturesCaseData(t *testing.T) {
	t.Parallel()

	out := Grade(2, executor.RunResult{
		Status:       executor.RunOK,
		Stdout:       "41\n",
		TimeUsedMS:   12,
		MemoryUsedKB: 2048,
	}, "42\n")
	if out.Index != 2 || out.Verdict != model.VerdictWrongAnswer {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Output != "41\n" || out.Expected != "42\n" {
		t.Fatalf("outcome should carry produced and expected output, got %+v", out)
	}
	if out.TimeUsedMS != 12 || out.MemoryUsedKB != 2048 {
		t.Fatalf("outcome should carry resource usage, got %+v", out)
	}

	crashed := Grade(0, executor.RunResult{
		Status: executor.RunRuntimeError,
		Stderr: "panic: index out of range",
	}, "42\n")
	if crashed.Detail != "panic: index out of range" {
		t.Fatalf("runtime errors should carry stderr detail, got %q", crashed.Detail)
	}
}

func TestResults(t *testing.T) {
	t.Parallel()

	if got := Results(nil); got != nil {
		t.Fatalf("no outcomes should yield nil results, got %v", got)
	}

	long := strings.Repeat("x", maxCaseOutputBytes+100)
	outcomes := []CaseOutcome{
		{Index: 0, Verdict: model.VerdictAccepted, Output: "1\n", Expected: "1\n", TimeUsedMS: 3, MemoryUsedKB: 512},
		{Index: 1, Verdict: model.VerdictWrongAnswer, Output: long, Expected: "2\n"},
	}

	results := Results(outcomes)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Index != 1 || results[1].Index != 2 {
		t.Fatalf("results should be 1-based, got %d and %d", results[0].Index, results[1].Index)
	}
	if results[0].Verdict != model.VerdictAccepted || results[0].Output != "1\n" || results[0].TimeUsedMS != 3 {
		t.Fatalf("result should mirror its outcome, got %+v", results[0])
	}
	if len(results[1].Output) != maxCaseOutputBytes {
		t.Fatalf("oversize output should be clipped to %d bytes, got %d", maxCaseOutputBytes, len(results[1].Output))
	}
	if results[1].Expected != "2\n" {
		t.Fatalf("expected output should survive, got %q", results[1].Expected)
	}
}
