package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func paramsFrom(pairs map[string]string) Params {
	p := Params{}
	for k, v := range pairs {
		p.Set(k, v)
	}
	return p
}

func mustCommand(t *testing.T, key string) Command {
	t.Helper()
	cmd, ok := Registry()[key]
	if !ok {
		t.Fatalf("command %q not registered", key)
	}
	return cmd
}

func TestRegistryKeys(t *testing.T) {
	t.Parallel()

	registry := Registry()
	for _, key := range []string{
		"auth register", "auth login", "auth refresh", "auth logout", "auth me",
		"user ban", "user unban",
		"problem create", "problem update", "problem testcases", "problem publish",
		"problem get", "problem list", "problem delete",
		"submit create", "submit get", "submit status", "submit list",
		"submit source", "submit feedback",
		"stats user", "stats me", "stats leaderboard",
		"recommend list",
		"judge status",
	} {
		if _, ok := registry[key]; !ok {
			t.Errorf("missing command %q", key)
		}
	}
}

func TestBuildRequest_PathParameter(t *testing.T) {
	t.Parallel()

	cmd := mustCommand(t, "problem get")

	spec, err := BuildRequest(cmd, paramsFrom(map[string]string{"id": "42"}))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if spec.Method != "GET" || spec.Path != "/api/v1/problems/42" {
		t.Fatalf("unexpected request: %s %s", spec.Method, spec.Path)
	}
	if spec.Body != nil {
		t.Fatalf("GET request must not carry a body")
	}

	if _, err := BuildRequest(cmd, Params{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestBuildRequest_QueryParameters(t *testing.T) {
	t.Parallel()

	cmd := mustCommand(t, "problem list")

	spec, err := BuildRequest(cmd, paramsFrom(map[string]string{
		"difficulty": "easy",
		"tag":        "graphs",
		"page":       "2",
	}))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if !strings.HasPrefix(spec.Path, "/api/v1/problems?") {
		t.Fatalf("unexpected path: %s", spec.Path)
	}
	for _, want := range []string{"difficulty=easy", "tag=graphs", "page=2"} {
		if !strings.Contains(spec.Path, want) {
			t.Fatalf("path %s missing %s", spec.Path, want)
		}
	}
	if strings.Contains(spec.Path, "keyword") {
		t.Fatalf("empty query params must be omitted: %s", spec.Path)
	}
}

func TestBuildRequest_SubmitCreate(t *testing.T) {
	t.Parallel()

	cmd := mustCommand(t, "submit create")

	spec, err := BuildRequest(cmd, paramsFrom(map[string]string{
		"problem_id":      "100",
		"language":        "cpp",
		"source_code":     "int main() {}",
		"idempotency_key": "abc-123",
	}))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if spec.Headers["Idempotency-Key"] != "abc-123" {
		t.Fatalf("idempotency key header not set: %v", spec.Headers)
	}

	var payload struct {
		ProblemID  int64  `json:"problem_id"`
		Language   string `json:"language"`
		SourceCode string `json:"source_code"`
	}
	if err := json.Unmarshal(spec.Body, &payload); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if payload.ProblemID != 100 || payload.Language != "cpp" || payload.SourceCode != "int main() {}" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestBuildRequest_IdempotencyHeaderOnlyWhenSet(t *testing.T) {
	t.Parallel()

	cmd := mustCommand(t, "submit create")

	spec, err := BuildRequest(cmd, paramsFrom(map[string]string{
		"problem_id":  "100",
		"language":    "go",
		"source_code": "package main",
	}))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if _, ok := spec.Headers["Idempotency-Key"]; ok {
		t.Fatalf("header must be absent when no key given")
	}
}

func TestBuildRequest_SubmitCreateFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "main.cpp")
	if err := os.WriteFile(path, []byte("int main() { return 0; }"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	cmd := mustCommand(t, "submit create")
	spec, err := BuildRequest(cmd, paramsFrom(map[string]string{
		"problem_id":  "100",
		"language":    "cpp",
		"source_code": "_file_",
		"source_file": path,
	}))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if !strings.Contains(string(spec.Body), "return 0;") {
		t.Fatalf("file content missing from body: %s", spec.Body)
	}
}

func TestBuildRequest_SubmitCreateMissingSource(t *testing.T) {
	t.Parallel()

	cmd := mustCommand(t, "submit create")
	_, err := BuildRequest(cmd, paramsFrom(map[string]string{
		"problem_id": "100",
		"language":   "cpp",
	}))
	if err == nil || !strings.Contains(err.Error(), "source_code") {
		t.Fatalf("expected missing source error, got %v", err)
	}
}

func TestBuildRequest_ProblemCreatePayload(t *testing.T) {
	t.Parallel()

	cmd := mustCommand(t, "problem create")

	spec, err := BuildRequest(cmd, paramsFrom(map[string]string{
		"title":         "Two Sum",
		"difficulty":    "easy",
		"tags":          "arrays, hashing",
		"time_limit_ms": "2000",
		"cases_json":    `[{"input": "1 2\n", "expected_output": "3\n"}]`,
	}))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(spec.Body, &payload); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if payload["title"] != "Two Sum" || payload["difficulty"] != "easy" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	tags, ok := payload["tags"].([]interface{})
	if !ok || len(tags) != 2 {
		t.Fatalf("tags not split: %v", payload["tags"])
	}
	if payload["time_limit_ms"] != float64(2000) {
		t.Fatalf("time limit not numeric: %v", payload["time_limit_ms"])
	}
	if _, ok := payload["memory_limit_mb"]; ok {
		t.Fatalf("unset limit must be omitted")
	}
	if _, ok := payload["test_cases"]; !ok {
		t.Fatalf("test cases missing from payload")
	}
}

func TestBuildRequest_TestCasesRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	cmd := mustCommand(t, "problem testcases")
	_, err := BuildRequest(cmd, paramsFrom(map[string]string{
		"id":         "5",
		"cases_json": "not json",
	}))
	if err == nil {
		t.Fatalf("expected invalid json error")
	}
}

func TestParamsCanonicalize(t *testing.T) {
	t.Parallel()

	fields := []Field{{Name: "id", Aliases: []string{"problem_id"}}}
	p := paramsFrom(map[string]string{"Problem_ID": "7"})
	p.Canonicalize(fields)
	if p.Get("id") != "7" {
		t.Fatalf("alias not canonicalized: %v", p)
	}
	if p.Has("problem_id") {
		t.Fatalf("alias key should be removed")
	}
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	if got := ParseStringList(" a, ,b ,"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected string list: %v", got)
	}

	ints, err := ParseIntList("1, 2,3")
	if err != nil || len(ints) != 3 || ints[2] != 3 {
		t.Fatalf("unexpected int list: %v %v", ints, err)
	}
	if _, err := ParseIntList("1,x"); err == nil {
		t.Fatalf("expected int list error")
	}

	if _, err := ParseJSON("{"); err == nil {
		t.Fatalf("expected json error")
	}
}
