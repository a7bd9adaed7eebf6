// Package grading turns per-test execution outcomes into a single verdict.
package grading

import (
	"strings"

	"algoforge/internal/judge/executor"
	"algoforge/internal/judge/model"
)

// CaseOutcome is the graded result of one test case.
type CaseOutcome struct {
	Index        int
	Verdict      model.Verdict
	Output       string
	Expected     string
	Detail       string
	TimeUsedMS   int64
	MemoryUsedKB int64
}

// Grade classifies one run against its expected output.
func Grade(index int, res executor.RunResult, expected string) CaseOutcome {
	out := CaseOutcome{
		Index:        index,
		Output:       res.Stdout,
		Expected:     expected,
		TimeUsedMS:   res.TimeUsedMS,
		MemoryUsedKB: res.MemoryUsedKB,
	}
	switch res.Status {
	case executor.RunOK:
		if OutputMatches(res.Stdout, expected) {
			out.Verdict = model.VerdictAccepted
		} else {
			out.Verdict = model.VerdictWrongAnswer
		}
	case executor.RunTimeLimit:
		out.Verdict = model.VerdictTimeLimit
	case executor.RunMemoryLimit:
		out.Verdict = model.VerdictMemoryLimit
	case executor.RunRuntimeError, executor.RunOutputLimit:
		out.Verdict = model.VerdictRuntimeError
		out.Detail = res.Stderr
	default:
		out.Verdict = model.VerdictSystemError
		out.Detail = res.Stderr
	}
	return out
}

// maxCaseOutputBytes caps the per-case output carried on status records so a
// verbose program cannot bloat the stored result.
const maxCaseOutputBytes = 4 << 10

// Results converts graded outcomes into the per-case results exposed on the
// submission, truncating oversize outputs.
func Results(outcomes []CaseOutcome) []model.TestCaseResult {
	if len(outcomes) == 0 {
		return nil
	}
	results := make([]model.TestCaseResult, 0, len(outcomes))
	for _, oc := range outcomes {
		results = append(results, model.TestCaseResult{
			Index:        oc.Index + 1,
			Verdict:      oc.Verdict,
			Output:       clip(oc.Output, maxCaseOutputBytes),
			Expected:     clip(oc.Expected, maxCaseOutputBytes),
			TimeUsedMS:   oc.TimeUsedMS,
			MemoryUsedKB: oc.MemoryUsedKB,
			Detail:       clip(oc.Detail, maxCaseOutputBytes),
		})
	}
	return results
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// Summary is the reduction of all case outcomes.
type Summary struct {
	Verdict     model.Verdict
	MaxTimeMS   int64
	MaxMemoryKB int64
	FailedTest  int
	CasesGraded int
}

// Reduce folds case outcomes into a final verdict. The most severe verdict
// wins; resource metrics are maximums across all graded cases. FailedTest is
// the 1-based index of the first case carrying the final verdict.
func Reduce(outcomes []CaseOutcome) Summary {
	summary := Summary{Verdict: model.VerdictAccepted, CasesGraded: len(outcomes)}
	if len(outcomes) == 0 {
		return summary
	}
	for _, oc := range outcomes {
		if oc.TimeUsedMS > summary.MaxTimeMS {
			summary.MaxTimeMS = oc.TimeUsedMS
		}
		if oc.MemoryUsedKB > summary.MaxMemoryKB {
			summary.MaxMemoryKB = oc.MemoryUsedKB
		}
		if oc.Verdict.Rank() > summary.Verdict.Rank() {
			summary.Verdict = oc.Verdict
			summary.FailedTest = oc.Index + 1
		}
	}
	if summary.Verdict == model.VerdictAccepted {
		summary.FailedTest = 0
	}
	return summary
}

// OutputMatches compares program output with the expected answer.
// Trailing whitespace on each line and trailing blank lines are ignored.
func OutputMatches(actual, expected string) bool {
	return normalize(actual) == normalize(expected)
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Join(lines, "\n")
	return strings.TrimRight(out, "\n")
}
