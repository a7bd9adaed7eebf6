package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultProcLimit      = 64
	compileTimeLimitMS    = 30000
	compileMemoryLimitMB  = 1024
	outputLimitBytes      = 16 << 20
)

// GoJudgeExecutor talks to a go-judge REST endpoint.
type GoJudgeExecutor struct {
	baseURL string
	client  *http.Client
}

var _ Executor = (*GoJudgeExecutor)(nil)

// NewGoJudgeExecutor creates an executor backed by a go-judge instance.
func NewGoJudgeExecutor(baseURL string, timeout time.Duration) *GoJudgeExecutor {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &GoJudgeExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// go-judge wire types. Time is nanoseconds, memory is bytes.

type gjFile struct {
	Content *string `json:"content,omitempty"`
	FileID  *string `json:"fileId,omitempty"`
	Name    string  `json:"name,omitempty"`
	Max     int64   `json:"max,omitempty"`
}

type gjCmd struct {
	Args          []string          `json:"args"`
	Env           []string          `json:"env"`
	Files         []gjFile          `json:"files"`
	CPULimit      int64             `json:"cpuLimit"`
	ClockLimit    int64             `json:"clockLimit,omitempty"`
	MemoryLimit   int64             `json:"memoryLimit"`
	ProcLimit     int               `json:"procLimit"`
	CopyIn        map[string]gjFile `json:"copyIn,omitempty"`
	CopyOut       []string          `json:"copyOut,omitempty"`
	CopyOutCached []string          `json:"copyOutCached,omitempty"`
}

type gjRequest struct {
	Cmd []gjCmd `json:"cmd"`
}

type gjResult struct {
	Status     string            `json:"status"`
	ExitStatus int               `json:"exitStatus"`
	Error      string            `json:"error"`
	Time       int64             `json:"time"`
	RunTime    int64             `json:"runTime"`
	Memory     int64             `json:"memory"`
	Files      map[string]string `json:"files"`
	FileIDs    map[string]string `json:"fileIds"`
}

// Compile builds the source and caches the produced artifact inside the
// execution service.
func (e *GoJudgeExecutor) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	spec, ok := languageSpecs[req.Language]
	if !ok {
		return CompileResult{}, fmt.Errorf("unsupported language %q", req.Language)
	}
	if len(spec.CompileArgs) == 0 {
		return CompileResult{OK: true}, nil
	}

	source := req.Source
	cmd := gjCmd{
		Args: spec.CompileArgs,
		Env:  []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		Files: []gjFile{
			{Content: strPtr("")},
			{Name: "stdout", Max: outputLimitBytes},
			{Name: "stderr", Max: outputLimitBytes},
		},
		CPULimit:    int64(compileTimeLimitMS) * int64(time.Millisecond),
		ClockLimit:  2 * int64(compileTimeLimitMS) * int64(time.Millisecond),
		MemoryLimit: compileMemoryLimitMB << 20,
		ProcLimit:   defaultProcLimit,
		CopyIn: map[string]gjFile{
			spec.SourceFile: {Content: &source},
		},
		CopyOut:       []string{"stdout", "stderr"},
		CopyOutCached: []string{spec.ArtifactKey},
	}

	res, err := e.run(ctx, gjRequest{Cmd: []gjCmd{cmd}})
	if err != nil {
		return CompileResult{}, err
	}

	log := res.Files["stderr"]
	if log == "" {
		log = res.Files["stdout"]
	}
	if res.Status != "Accepted" {
		return CompileResult{OK: false, Log: log}, nil
	}
	artifactID, ok := res.FileIDs[spec.ArtifactKey]
	if !ok {
		return CompileResult{}, fmt.Errorf("%w: compile produced no artifact", ErrUnavailable)
	}
	return CompileResult{OK: true, ArtifactID: artifactID, Log: log}, nil
}

// Run executes one test input against the compiled artifact or, for
// interpreted languages, the raw source.
func (e *GoJudgeExecutor) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	spec, ok := languageSpecs[req.Language]
	if !ok {
		return RunResult{}, fmt.Errorf("unsupported language %q", req.Language)
	}

	copyIn := make(map[string]gjFile, 1)
	if req.ArtifactID != "" {
		artifactID := req.ArtifactID
		copyIn[spec.ArtifactKey] = gjFile{FileID: &artifactID}
	} else {
		source := req.Source
		copyIn[spec.SourceFile] = gjFile{Content: &source}
	}

	stdin := req.Stdin
	cmd := gjCmd{
		Args: spec.RunArgs,
		Env:  []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		Files: []gjFile{
			{Content: &stdin},
			{Name: "stdout", Max: outputLimitBytes},
			{Name: "stderr", Max: outputLimitBytes},
		},
		CPULimit:    int64(req.TimeLimitMS) * int64(time.Millisecond),
		ClockLimit:  2 * int64(req.TimeLimitMS) * int64(time.Millisecond),
		MemoryLimit: int64(req.MemoryLimitMB) << 20,
		ProcLimit:   defaultProcLimit,
		CopyIn:      copyIn,
		CopyOut:     []string{"stdout", "stderr"},
	}

	res, err := e.run(ctx, gjRequest{Cmd: []gjCmd{cmd}})
	if err != nil {
		return RunResult{}, err
	}

	out := RunResult{
		ExitCode:     res.ExitStatus,
		Stdout:       res.Files["stdout"],
		Stderr:       res.Files["stderr"],
		TimeUsedMS:   res.Time / int64(time.Millisecond),
		MemoryUsedKB: res.Memory >> 10,
	}
	switch res.Status {
	case "Accepted":
		out.Status = RunOK
	case "Time Limit Exceeded":
		out.Status = RunTimeLimit
	case "Memory Limit Exceeded":
		out.Status = RunMemoryLimit
	case "Output Limit Exceeded":
		out.Status = RunOutputLimit
	case "Nonzero Exit Status", "Signalled":
		out.Status = RunRuntimeError
	default:
		out.Status = RunInternalError
	}
	return out, nil
}

// Release deletes a cached compile artifact.
func (e *GoJudgeExecutor) Release(ctx context.Context, artifactID string) error {
	if artifactID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.baseURL+"/file/"+artifactID, nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (e *GoJudgeExecutor) run(ctx context.Context, body gjRequest) (gjResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gjResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/run", bytes.NewReader(payload))
	if err != nil {
		return gjResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return gjResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return gjResult{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(data))
	}

	var results []gjResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return gjResult{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(results) == 0 {
		return gjResult{}, fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return results[0], nil
}

func strPtr(s string) *string { return &s }
