package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// SimExecutor is a deterministic in-process Executor for development and
// tests. Runs echo their stdin, so a problem whose expected output equals
// the case input grades as accepted. Behavior can be overridden per call
// with scripted results and injected infrastructure failures.
type SimExecutor struct {
	mu sync.Mutex

	// CompileFailLog, when set, makes every compile fail with this log.
	CompileFailLog string

	// Script, when non-empty, is consumed one result per Run call before
	// falling back to echo behavior.
	Script []RunResult

	// CompileErrs and RunErrs inject that many ErrUnavailable failures
	// before calls start succeeding.
	CompileErrs int
	RunErrs     int

	compiles int
	runs     int
	released []string
}

// Compile simulates a compile phase. Compiled languages get a synthetic
// artifact id so Release accounting can be asserted in tests.
func (s *SimExecutor) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CompileErrs > 0 {
		s.CompileErrs--
		return CompileResult{}, fmt.Errorf("%w: simulated outage", ErrUnavailable)
	}
	if s.CompileFailLog != "" {
		return CompileResult{Log: s.CompileFailLog}, nil
	}
	s.compiles++
	spec, ok := languageSpecs[req.Language]
	if !ok || len(spec.CompileArgs) == 0 {
		return CompileResult{OK: true}, nil
	}
	return CompileResult{OK: true, ArtifactID: fmt.Sprintf("sim-artifact-%d", s.compiles)}, nil
}

// Run returns the next scripted result, or echoes stdin.
func (s *SimExecutor) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RunErrs > 0 {
		s.RunErrs--
		return RunResult{}, fmt.Errorf("%w: simulated outage", ErrUnavailable)
	}
	s.runs++
	if len(s.Script) > 0 {
		result := s.Script[0]
		s.Script = s.Script[1:]
		return result, nil
	}
	return RunResult{
		Status:       RunOK,
		Stdout:       strings.TrimRight(req.Stdin, "\n") + "\n",
		TimeUsedMS:   1,
		MemoryUsedKB: 1024,
	}, nil
}

// Release records the freed artifact id.
func (s *SimExecutor) Release(ctx context.Context, artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, artifactID)
	return nil
}

// Runs reports how many Run calls succeeded past failure injection.
func (s *SimExecutor) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Released returns the artifact ids freed so far.
func (s *SimExecutor) Released() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.released...)
}
