// Package executor is the boundary to the external code execution service.
// The judge never runs user code in-process; it compiles and runs through an
// Executor and interprets the returned resource usage.
package executor

import (
	"context"
	"errors"
)

// RunStatus classifies one execution attempt at the executor level.
type RunStatus string

const (
	RunOK            RunStatus = "ok"
	RunTimeLimit     RunStatus = "time_limit"
	RunMemoryLimit   RunStatus = "memory_limit"
	RunRuntimeError  RunStatus = "runtime_error"
	RunOutputLimit   RunStatus = "output_limit"
	RunInternalError RunStatus = "internal_error"
)

// ErrUnavailable marks executor infrastructure failures. Callers may retry;
// everything else is a deterministic outcome of the submitted code.
var ErrUnavailable = errors.New("executor unavailable")

// CompileRequest asks the executor to compile source into a reusable
// artifact.
type CompileRequest struct {
	Language string
	Source   string
}

// CompileResult reports a compile attempt. When OK is false Log carries the
// compiler output.
type CompileResult struct {
	OK         bool
	ArtifactID string
	Log        string
}

// RunRequest executes a compiled artifact (or interpreted source) against
// one input.
type RunRequest struct {
	Language      string
	Source        string
	ArtifactID    string
	Stdin         string
	TimeLimitMS   int32
	MemoryLimitMB int32
}

// RunResult is the outcome of one run.
type RunResult struct {
	Status       RunStatus
	ExitCode     int
	Stdout       string
	Stderr       string
	TimeUsedMS   int64
	MemoryUsedKB int64
}

// Executor compiles and runs untrusted code in an isolated environment.
type Executor interface {
	// Compile builds source into an artifact for repeated runs. Languages
	// without a compile step return an empty artifact id.
	Compile(ctx context.Context, req CompileRequest) (CompileResult, error)

	// Run executes against one input under the given limits.
	Run(ctx context.Context, req RunRequest) (RunResult, error)

	// Release frees a compiled artifact.
	Release(ctx context.Context, artifactID string) error
}
