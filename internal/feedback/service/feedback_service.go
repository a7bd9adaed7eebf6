// Package service generates improvement feedback for failed submissions.
// Feedback comes from an AI completion when available and falls back to
// canned per-verdict guidance otherwise.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"algoforge/internal/judge/model"
	probrepo "algoforge/internal/problem/repository"
	subrepo "algoforge/internal/submit/repository"
	appErr "algoforge/pkg/errors"
	"algoforge/pkg/utils/logger"

	"go.uber.org/zap"
)

const maxPromptSourceBytes = 16 << 10

// SubmissionSource resolves submissions and their source for the caller.
type SubmissionSource interface {
	GetSubmission(ctx context.Context, submissionID, actorID int64, actorRole string) (*subrepo.Submission, error)
	GetSource(ctx context.Context, submissionID, actorID int64, actorRole string) (string, error)
}

// ProblemSource resolves problem metadata for prompts.
type ProblemSource interface {
	GetPublished(ctx context.Context, problemID int64) (*probrepo.Problem, error)
}

// Feedback is the structured advice returned to the user.
type Feedback struct {
	SubmissionID int64    `json:"submission_id"`
	Verdict      string   `json:"verdict"`
	Summary      string   `json:"summary"`
	Hints        []string `json:"hints"`
	Generated    bool     `json:"generated"`
}

// FeedbackService builds feedback for terminal submissions.
type FeedbackService struct {
	ai          AIClient
	submissions SubmissionSource
	problems    ProblemSource
}

// NewFeedbackService creates a feedback service. The AI client may be nil,
// in which case only canned feedback is produced.
func NewFeedbackService(ai AIClient, submissions SubmissionSource, problems ProblemSource) *FeedbackService {
	return &FeedbackService{ai: ai, submissions: submissions, problems: problems}
}

// GetFeedback returns advice for one of the caller's terminal submissions.
func (s *FeedbackService) GetFeedback(ctx context.Context, submissionID, actorID int64, actorRole string) (Feedback, error) {
	submission, err := s.submissions.GetSubmission(ctx, submissionID, actorID, actorRole)
	if err != nil {
		return Feedback{}, err
	}
	if submission.FinishedAt == nil {
		return Feedback{}, appErr.New(appErr.FeedbackUnavailable).WithMessage("submission is still being judged")
	}

	verdict := submission.Verdict
	if verdict == string(model.VerdictAccepted) {
		return Feedback{
			SubmissionID: submissionID,
			Verdict:      verdict,
			Summary:      "Accepted. Nice work.",
			Hints:        []string{"Try a harder problem or optimize your solution further."},
		}, nil
	}

	if s.ai != nil {
		feedback, ok := s.generate(ctx, submission, actorID, actorRole)
		if ok {
			return feedback, nil
		}
	}
	return cannedFeedback(submissionID, verdict), nil
}

// generate asks the AI for structured feedback. Any failure, including
// unparseable output, falls back to canned advice.
func (s *FeedbackService) generate(ctx context.Context, submission *subrepo.Submission, actorID int64, actorRole string) (Feedback, bool) {
	source, err := s.submissions.GetSource(ctx, submission.ID, actorID, actorRole)
	if err != nil {
		logger.Warn(ctx, "fetch source for feedback failed", zap.Int64("submission_id", submission.ID), zap.Error(err))
		return Feedback{}, false
	}
	if len(source) > maxPromptSourceBytes {
		source = source[:maxPromptSourceBytes]
	}

	title := ""
	if problem, err := s.problems.GetPublished(ctx, submission.ProblemID); err == nil {
		title = problem.Title
	}

	prompt := buildPrompt(title, submission.Language, submission.Verdict, source)
	raw, err := s.ai.Complete(ctx, prompt)
	if err != nil {
		logger.Warn(ctx, "feedback completion failed", zap.Int64("submission_id", submission.ID), zap.Error(err))
		return Feedback{}, false
	}

	parsed, err := parseFeedback(raw)
	if err != nil {
		logger.Warn(ctx, "parse feedback failed", zap.Int64("submission_id", submission.ID), zap.Error(err))
		return Feedback{}, false
	}
	parsed.SubmissionID = submission.ID
	parsed.Verdict = submission.Verdict
	parsed.Generated = true
	return parsed, true
}

func buildPrompt(title, language, verdict, source string) string {
	var b strings.Builder
	b.WriteString("You are reviewing a failed competitive programming submission.\n")
	if title != "" {
		fmt.Fprintf(&b, "Problem: %s\n", title)
	}
	fmt.Fprintf(&b, "Language: %s\nVerdict: %s\n", language, verdict)
	b.WriteString("Respond with JSON only: {\"summary\": string, \"hints\": [string]}.\n")
	b.WriteString("Do not reveal a full solution.\n\nCode:\n")
	b.WriteString(source)
	return b.String()
}

// parseFeedback extracts the JSON object from the completion, tolerating
// surrounding prose or code fences.
func parseFeedback(raw string) (Feedback, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Feedback{}, appErr.New(appErr.FeedbackParseFailed)
	}
	var parsed struct {
		Summary string   `json:"summary"`
		Hints   []string `json:"hints"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return Feedback{}, appErr.Wrapf(err, appErr.FeedbackParseFailed, "decode feedback failed")
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return Feedback{}, appErr.New(appErr.FeedbackParseFailed)
	}
	return Feedback{Summary: parsed.Summary, Hints: parsed.Hints}, nil
}

func cannedFeedback(submissionID int64, verdict string) Feedback {
	feedback := Feedback{SubmissionID: submissionID, Verdict: verdict}
	switch model.Verdict(verdict) {
	case model.VerdictWrongAnswer:
		feedback.Summary = "Your output differs from the expected answer on at least one test."
		feedback.Hints = []string{
			"Re-read the problem statement for edge cases.",
			"Check boundary values and off-by-one errors.",
		}
	case model.VerdictTimeLimit:
		feedback.Summary = "Your solution exceeds the time limit."
		feedback.Hints = []string{
			"Estimate the complexity of your algorithm against the input bounds.",
			"Look for a faster data structure or an early exit.",
		}
	case model.VerdictMemoryLimit:
		feedback.Summary = "Your solution uses more memory than allowed."
		feedback.Hints = []string{
			"Avoid storing the whole input when a streaming pass suffices.",
			"Check for unnecessary copies of large containers.",
		}
	case model.VerdictRuntimeError:
		feedback.Summary = "Your program crashed during execution."
		feedback.Hints = []string{
			"Check array bounds and division by zero.",
			"Make sure recursion depth stays within limits.",
		}
	case model.VerdictCompileError:
		feedback.Summary = "Your code failed to compile."
		feedback.Hints = []string{
			"Compile locally with the same language version before submitting.",
		}
	default:
		feedback.Summary = "The submission could not be judged normally."
		feedback.Hints = []string{
			"Resubmit; if the problem persists contact the administrators.",
		}
	}
	return feedback
}
