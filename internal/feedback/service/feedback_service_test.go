package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	probrepo "algoforge/internal/problem/repository"
	subrepo "algoforge/internal/submit/repository"
	appErr "algoforge/pkg/errors"
)

type fakeSubmissions struct {
	submission *subrepo.Submission
	source     string
	sourceErr  error
}

func (f *fakeSubmissions) GetSubmission(ctx context.Context, submissionID, actorID int64, actorRole string) (*subrepo.Submission, error) {
	if f.submission == nil || f.submission.ID != submissionID {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	return f.submission, nil
}

func (f *fakeSubmissions) GetSource(ctx context.Context, submissionID, actorID int64, actorRole string) (string, error) {
	if f.sourceErr != nil {
		return "", f.sourceErr
	}
	return f.source, nil
}

type fakeProblemTitles struct {
	title string
}

func (f *fakeProblemTitles) GetPublished(ctx context.Context, problemID int64) (*probrepo.Problem, error) {
	return &probrepo.Problem{ID: problemID, Title: f.title}, nil
}

type scriptedAI struct {
	response string
	err      error
	prompts  []string
}

func (a *scriptedAI) Complete(ctx context.Context, prompt string) (string, error) {
	a.prompts = append(a.prompts, prompt)
	if a.err != nil {
		return "", a.err
	}
	return a.response, nil
}

func finishedSubmission(verdict string) *subrepo.Submission {
	finishedAt := time.Now()
	return &subrepo.Submission{
		ID:         1,
		ProblemID:  100,
		UserID:     7,
		Language:   "cpp",
		Status:     subrepo.StatusFinished,
		Verdict:    verdict,
		FinishedAt: &finishedAt,
	}
}

func TestGetFeedback_Accepted(t *testing.T) {
	t.Parallel()

	svc := NewFeedbackService(nil, &fakeSubmissions{submission: finishedSubmission("accepted")}, &fakeProblemTitles{})

	feedback, err := svc.GetFeedback(context.Background(), 1, 7, "user")
	if err != nil {
		t.Fatalf("get feedback failed: %v", err)
	}
	if feedback.Generated {
		t.Fatalf("accepted submissions never call the AI")
	}
	if !strings.Contains(feedback.Summary, "Accepted") {
		t.Fatalf("unexpected summary: %q", feedback.Summary)
	}
}

func TestGetFeedback_PendingSubmission(t *testing.T) {
	t.Parallel()

	submission := finishedSubmission("")
	submission.FinishedAt = nil
	submission.Status = subrepo.StatusPending
	svc := NewFeedbackService(nil, &fakeSubmissions{submission: submission}, &fakeProblemTitles{})

	_, err := svc.GetFeedback(context.Background(), 1, 7, "user")
	if err == nil || !appErr.Is(err, appErr.FeedbackUnavailable) {
		t.Fatalf("expected FeedbackUnavailable, got %v", err)
	}
}

func TestGetFeedback_Generated(t *testing.T) {
	t.Parallel()

	ai := &scriptedAI{response: "Here you go:\n```json\n{\"summary\": \"Off-by-one in the loop bound.\", \"hints\": [\"Check the last index.\"]}\n```"}
	submissions := &fakeSubmissions{submission: finishedSubmission("wrong_answer"), source: "int main() {}"}
	svc := NewFeedbackService(ai, submissions, &fakeProblemTitles{title: "A + B"})

	feedback, err := svc.GetFeedback(context.Background(), 1, 7, "user")
	if err != nil {
		t.Fatalf("get feedback failed: %v", err)
	}
	if !feedback.Generated {
		t.Fatalf("expected AI-generated feedback")
	}
	if feedback.Summary != "Off-by-one in the loop bound." {
		t.Fatalf("unexpected summary: %q", feedback.Summary)
	}
	if len(feedback.Hints) != 1 {
		t.Fatalf("unexpected hints: %v", feedback.Hints)
	}
	if feedback.Verdict != "wrong_answer" {
		t.Fatalf("verdict should come from the submission, got %q", feedback.Verdict)
	}

	if len(ai.prompts) != 1 {
		t.Fatalf("expected one completion call, got %d", len(ai.prompts))
	}
	prompt := ai.prompts[0]
	for _, want := range []string{"A + B", "cpp", "wrong_answer", "int main() {}"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGetFeedback_FallsBackOnAIFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ai   *scriptedAI
	}{
		{"completion error", &scriptedAI{err: fmt.Errorf("upstream timeout")}},
		{"no json in response", &scriptedAI{response: "I cannot help with that."}},
		{"empty summary", &scriptedAI{response: `{"summary": "", "hints": []}`}},
		{"malformed json", &scriptedAI{response: `{"summary": `}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			submissions := &fakeSubmissions{submission: finishedSubmission("time_limit_exceeded"), source: "x"}
			svc := NewFeedbackService(tc.ai, submissions, &fakeProblemTitles{})

			feedback, err := svc.GetFeedback(context.Background(), 1, 7, "user")
			if err != nil {
				t.Fatalf("fallback should not error: %v", err)
			}
			if feedback.Generated {
				t.Fatalf("fallback feedback must not be marked generated")
			}
			if !strings.Contains(feedback.Summary, "time limit") {
				t.Fatalf("expected canned time limit advice, got %q", feedback.Summary)
			}
		})
	}
}

func TestGetFeedback_CannedWithoutAI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		verdict string
		want    string
	}{
		{"wrong_answer", "differs from the expected answer"},
		{"time_limit_exceeded", "time limit"},
		{"memory_limit_exceeded", "memory"},
		{"runtime_error", "crashed"},
		{"compilation_error", "compile"},
		{"system_error", "could not be judged"},
	}

	for _, tc := range tests {
		t.Run(tc.verdict, func(t *testing.T) {
			svc := NewFeedbackService(nil, &fakeSubmissions{submission: finishedSubmission(tc.verdict)}, &fakeProblemTitles{})
			feedback, err := svc.GetFeedback(context.Background(), 1, 7, "user")
			if err != nil {
				t.Fatalf("get feedback failed: %v", err)
			}
			if !strings.Contains(feedback.Summary, tc.want) {
				t.Fatalf("verdict %s: expected summary containing %q, got %q", tc.verdict, tc.want, feedback.Summary)
			}
			if len(feedback.Hints) == 0 {
				t.Fatalf("canned feedback should carry hints")
			}
		})
	}
}

func TestParseFeedback(t *testing.T) {
	t.Parallel()

	feedback, err := parseFeedback(`prose before {"summary": "s", "hints": ["h1", "h2"]} prose after`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if feedback.Summary != "s" || len(feedback.Hints) != 2 {
		t.Fatalf("unexpected parse result: %+v", feedback)
	}

	if _, err := parseFeedback("no braces here"); err == nil {
		t.Fatalf("expected parse error")
	}
}
