// Package model defines judge task payloads, verdicts and status records.
package model

// JudgeStatus represents the lifecycle state of a submission.
type JudgeStatus string

const (
	StatusPending  JudgeStatus = "pending"
	StatusRunning  JudgeStatus = "running"
	StatusFinished JudgeStatus = "finished"
	StatusFailed   JudgeStatus = "failed"
)

// Terminal reports whether the status will never change again.
func (s JudgeStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Verdict represents the final outcome of execution.
type Verdict string

const (
	VerdictAccepted     Verdict = "accepted"
	VerdictWrongAnswer  Verdict = "wrong_answer"
	VerdictRuntimeError Verdict = "runtime_error"
	VerdictTimeLimit    Verdict = "time_limit_exceeded"
	VerdictMemoryLimit  Verdict = "memory_limit_exceeded"
	VerdictCompileError Verdict = "compilation_error"
	VerdictSystemError  Verdict = "system_error"
)

// verdictRank orders verdicts by severity. When test cases disagree the
// highest rank wins.
var verdictRank = map[Verdict]int{
	VerdictAccepted:     0,
	VerdictWrongAnswer:  1,
	VerdictRuntimeError: 2,
	VerdictTimeLimit:    3,
	VerdictMemoryLimit:  4,
	VerdictCompileError: 5,
	VerdictSystemError:  6,
}

// Rank returns the severity rank of a verdict. Unknown verdicts rank lowest.
func (v Verdict) Rank() int {
	return verdictRank[v]
}

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	_, ok := verdictRank[v]
	return ok
}

// JudgeMessage is the queue payload for a judge task.
type JudgeMessage struct {
	SubmissionID int64  `json:"submission_id"`
	ProblemID    int64  `json:"problem_id"`
	UserID       int64  `json:"user_id"`
	Language     string `json:"language"`
	SourceKey    string `json:"source_key"`
	SourceHash   string `json:"source_hash"`
	SubmittedAt  int64  `json:"submitted_at"`
}

// TestCaseResult is the graded outcome of one executed test case.
type TestCaseResult struct {
	Index        int     `json:"index"`
	Verdict      Verdict `json:"verdict"`
	Output       string  `json:"output,omitempty"`
	Expected     string  `json:"expected,omitempty"`
	TimeUsedMS   int64   `json:"time_used_ms"`
	MemoryUsedKB int64   `json:"memory_used_kb"`
	Detail       string  `json:"detail,omitempty"`
}

// StatusRecord is the judge status visible to clients while a submission
// moves through the pipeline, and the final result once it is terminal.
type StatusRecord struct {
	SubmissionID  int64            `json:"submission_id"`
	ProblemID     int64            `json:"problem_id"`
	UserID        int64            `json:"user_id"`
	Language      string           `json:"language"`
	Status        JudgeStatus      `json:"status"`
	Verdict       Verdict          `json:"verdict,omitempty"`
	TimeUsedMS    int64            `json:"time_used_ms"`
	MemoryUsedKB  int64            `json:"memory_used_kb"`
	TestsTotal    int              `json:"tests_total"`
	TestsRun      int              `json:"tests_run"`
	FailedTest    int              `json:"failed_test,omitempty"`
	TestResults   []TestCaseResult `json:"test_results,omitempty"`
	CompileOutput string           `json:"compile_output,omitempty"`
	ErrorCode     int              `json:"error_code,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	ReceivedAt    int64            `json:"received_at"`
	FinishedAt    int64            `json:"finished_at,omitempty"`
}

// ResultEventFinal marks an event carrying a terminal status.
const ResultEventFinal = "judge.result.final"

// ResultEvent is published once per submission when judging reaches a
// terminal state.
type ResultEvent struct {
	Type      string       `json:"type"`
	Status    StatusRecord `json:"status"`
	CreatedAt int64        `json:"created_at"`
}
