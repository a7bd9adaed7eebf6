package service

import (
	"context"
	"fmt"
	"strings"

	"algoforge/internal/problem/repository"
	pkgerrors "algoforge/pkg/errors"
	"algoforge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	maxTitleLength       = 128
	maxDescriptionLength = 65536
	maxTags              = 10
	maxTagLength         = 32
	maxTestCases         = 200
	maxTestCaseBytes     = 4 << 20

	minTimeLimitMS   = 100
	maxTimeLimitMS   = 10000
	minMemoryLimitMB = 16
	maxMemoryLimitMB = 1024

	defaultTimeLimitMS   = 1000
	defaultMemoryLimitMB = 256
)

// ProblemService handles the problem catalog: authoring, publishing,
// listing and test data pack lifecycle.
type ProblemService struct {
	repo             repository.ProblemRepository
	packs            *DataPackStore
	cleanupPublisher *ProblemCleanupPublisher
}

// NewProblemService creates a new ProblemService.
func NewProblemService(repo repository.ProblemRepository, packs *DataPackStore, cleanupPublisher *ProblemCleanupPublisher) *ProblemService {
	return &ProblemService{
		repo:             repo,
		packs:            packs,
		cleanupPublisher: cleanupPublisher,
	}
}

// CreateInput represents input for problem creation.
type CreateInput struct {
	Title         string
	Description   string
	Difficulty    string
	Tags          []string
	TimeLimitMS   int32
	MemoryLimitMB int32
	TestCases     []repository.TestCase
	OwnerID       int64
}

// UpdateInput represents input for editing problem metadata.
type UpdateInput struct {
	Title         string
	Description   string
	Difficulty    string
	Tags          []string
	TimeLimitMS   int32
	MemoryLimitMB int32
}

// CreateProblem creates a draft problem. When test cases are supplied the
// data pack is built and uploaded before the row is written, so a failed
// upload never leaves a problem pointing at a missing pack.
func (s *ProblemService) CreateProblem(ctx context.Context, input CreateInput) (int64, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.TimeLimitMS == 0 {
		input.TimeLimitMS = defaultTimeLimitMS
	}
	if input.MemoryLimitMB == 0 {
		input.MemoryLimitMB = defaultMemoryLimitMB
	}
	if err := validateMeta(input.Title, input.Description, input.Difficulty, input.Tags, input.TimeLimitMS, input.MemoryLimitMB); err != nil {
		return 0, err
	}
	if len(input.TestCases) > 0 {
		if err := validateTestCases(input.TestCases); err != nil {
			return 0, err
		}
	}

	problem := &repository.Problem{
		Title:         input.Title,
		Description:   input.Description,
		Difficulty:    input.Difficulty,
		Tags:          normalizeTags(input.Tags),
		TimeLimitMS:   input.TimeLimitMS,
		MemoryLimitMB: input.MemoryLimitMB,
		Status:        repository.ProblemStatusDraft,
		OwnerID:       input.OwnerID,
	}

	id, err := s.repo.Create(ctx, nil, problem)
	if err != nil {
		return 0, pkgerrors.Wrap(fmt.Errorf("create problem failed: %w", err), pkgerrors.ProblemCreateFailed)
	}

	if len(input.TestCases) > 0 {
		if err := s.storeTestCases(ctx, id, input.TestCases); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// UpdateProblem edits metadata of an existing problem. Only the owner or an
// admin may edit.
func (s *ProblemService) UpdateProblem(ctx context.Context, problemID int64, actorID int64, actorRole string, input UpdateInput) error {
	problem, err := s.getOwned(ctx, problemID, actorID, actorRole)
	if err != nil {
		return err
	}

	input.Title = strings.TrimSpace(input.Title)
	if err := validateMeta(input.Title, input.Description, input.Difficulty, input.Tags, input.TimeLimitMS, input.MemoryLimitMB); err != nil {
		return err
	}

	problem.Title = input.Title
	problem.Description = input.Description
	problem.Difficulty = input.Difficulty
	problem.Tags = normalizeTags(input.Tags)
	problem.TimeLimitMS = input.TimeLimitMS
	problem.MemoryLimitMB = input.MemoryLimitMB

	if err := s.repo.Update(ctx, nil, problem); err != nil {
		if err == repository.ErrProblemNotFound {
			return pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return pkgerrors.Wrap(fmt.Errorf("update problem failed: %w", err), pkgerrors.ProblemUpdateFailed)
	}
	return nil
}

// ReplaceTestCases rebuilds the data pack for a problem from a new test case
// set.
func (s *ProblemService) ReplaceTestCases(ctx context.Context, problemID int64, actorID int64, actorRole string, cases []repository.TestCase) error {
	if _, err := s.getOwned(ctx, problemID, actorID, actorRole); err != nil {
		return err
	}
	if err := validateTestCases(cases); err != nil {
		return err
	}
	return s.storeTestCases(ctx, problemID, cases)
}

// PublishProblem moves a draft to published. A problem with no test data
// cannot be published.
func (s *ProblemService) PublishProblem(ctx context.Context, problemID int64, actorID int64, actorRole string) error {
	problem, err := s.getOwned(ctx, problemID, actorID, actorRole)
	if err != nil {
		return err
	}
	if problem.TestCaseCount == 0 || problem.DataPackKey == "" {
		return pkgerrors.New(pkgerrors.TestCaseSetEmpty)
	}
	if problem.Status == repository.ProblemStatusPublished {
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, nil, problemID, repository.ProblemStatusPublished); err != nil {
		if err == repository.ErrProblemNotFound {
			return pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return pkgerrors.Wrap(fmt.Errorf("publish problem failed: %w", err), pkgerrors.ProblemUpdateFailed)
	}
	return nil
}

// GetProblem returns a problem visible to the caller. Drafts and archived
// problems are visible only to their owner and admins; everyone else gets a
// not-found, not a forbidden, so drafts are unguessable.
func (s *ProblemService) GetProblem(ctx context.Context, problemID int64, actorID int64, actorRole string) (*repository.Problem, error) {
	if problemID <= 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}
	problem, err := s.repo.GetByID(ctx, nil, problemID)
	if err != nil {
		if err == repository.ErrProblemNotFound {
			return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get problem failed: %w", err), pkgerrors.DatabaseError)
	}
	if problem.Status != repository.ProblemStatusPublished && !canManage(problem, actorID, actorRole) {
		return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
	}
	return problem, nil
}

// GetPublished returns a published problem for judging and submission
// intake.
func (s *ProblemService) GetPublished(ctx context.Context, problemID int64) (*repository.Problem, error) {
	if problemID <= 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}
	problem, err := s.repo.GetByID(ctx, nil, problemID)
	if err != nil {
		if err == repository.ErrProblemNotFound {
			return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get problem failed: %w", err), pkgerrors.DatabaseError)
	}
	if problem.Status != repository.ProblemStatusPublished {
		return nil, pkgerrors.New(pkgerrors.ProblemNotPublished)
	}
	return problem, nil
}

// ListProblems lists published problems matching the filter. Admins may list
// any status.
func (s *ProblemService) ListProblems(ctx context.Context, filter repository.ListFilter, actorRole string) ([]*repository.Problem, int64, error) {
	if !isAdmin(actorRole) {
		published := repository.ProblemStatusPublished
		filter.Status = &published
	}
	problems, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(fmt.Errorf("list problems failed: %w", err), pkgerrors.DatabaseError)
	}
	return problems, total, nil
}

// LoadTestCases fetches and decodes the test data pack for a problem.
func (s *ProblemService) LoadTestCases(ctx context.Context, problem *repository.Problem) ([]repository.TestCase, error) {
	if problem.DataPackKey == "" {
		return nil, pkgerrors.New(pkgerrors.TestCaseSetEmpty)
	}
	return s.packs.Load(ctx, problem.DataPackKey, problem.DataPackHash)
}

// DeleteProblem removes a problem and fires an async cleanup of its stored
// objects.
func (s *ProblemService) DeleteProblem(ctx context.Context, problemID int64, actorID int64, actorRole string) error {
	if _, err := s.getOwned(ctx, problemID, actorID, actorRole); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, nil, problemID); err != nil {
		if err == repository.ErrProblemNotFound {
			return pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return pkgerrors.Wrap(fmt.Errorf("delete problem failed: %w", err), pkgerrors.ProblemDeleteFailed)
	}
	if s.cleanupPublisher != nil {
		if err := s.cleanupPublisher.PublishProblemDeleted(ctx, problemID); err != nil {
			logger.Warn(ctx, "publish cleanup event failed", zap.Int64("problem_id", problemID), zap.Error(err))
		}
	}
	return nil
}

func (s *ProblemService) storeTestCases(ctx context.Context, problemID int64, cases []repository.TestCase) error {
	packed, hash, err := s.packs.Build(problemID, cases)
	if err != nil {
		return err
	}
	key, err := s.packs.Upload(ctx, problemID, hash, packed)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateDataPack(ctx, nil, problemID, key, hash, int32(len(cases))); err != nil {
		if err == repository.ErrProblemNotFound {
			return pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return pkgerrors.Wrap(fmt.Errorf("record data pack failed: %w", err), pkgerrors.ProblemUpdateFailed)
	}
	return nil
}

func (s *ProblemService) getOwned(ctx context.Context, problemID int64, actorID int64, actorRole string) (*repository.Problem, error) {
	if problemID <= 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}
	problem, err := s.repo.GetByID(ctx, nil, problemID)
	if err != nil {
		if err == repository.ErrProblemNotFound {
			return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get problem failed: %w", err), pkgerrors.DatabaseError)
	}
	if !canManage(problem, actorID, actorRole) {
		return nil, pkgerrors.New(pkgerrors.ProblemAccessDenied)
	}
	return problem, nil
}

func canManage(problem *repository.Problem, actorID int64, actorRole string) bool {
	return isAdmin(actorRole) || (actorID > 0 && problem.OwnerID == actorID)
}

func isAdmin(role string) bool {
	return role == "admin"
}

func validateMeta(title, description, difficulty string, tags []string, timeLimitMS, memoryLimitMB int32) error {
	if title == "" || len(title) > maxTitleLength {
		return pkgerrors.ValidationError("title", "must be 1-128 characters")
	}
	if len(description) > maxDescriptionLength {
		return pkgerrors.ValidationError("description", "too long")
	}
	switch difficulty {
	case repository.DifficultyEasy, repository.DifficultyMedium, repository.DifficultyHard:
	default:
		return pkgerrors.ValidationError("difficulty", "must be easy, medium or hard")
	}
	if len(tags) > maxTags {
		return pkgerrors.New(pkgerrors.TooManyTags)
	}
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" || len(trimmed) > maxTagLength {
			return pkgerrors.New(pkgerrors.InvalidTag)
		}
	}
	if timeLimitMS < minTimeLimitMS || timeLimitMS > maxTimeLimitMS {
		return pkgerrors.ValidationError("time_limit_ms", "must be 100-10000")
	}
	if memoryLimitMB < minMemoryLimitMB || memoryLimitMB > maxMemoryLimitMB {
		return pkgerrors.ValidationError("memory_limit_mb", "must be 16-1024")
	}
	return nil
}

func validateTestCases(cases []repository.TestCase) error {
	if len(cases) == 0 {
		return pkgerrors.New(pkgerrors.TestCaseSetEmpty)
	}
	if len(cases) > maxTestCases {
		return pkgerrors.New(pkgerrors.TestCaseInvalid)
	}
	for _, tc := range cases {
		if tc.Expected == "" {
			return pkgerrors.New(pkgerrors.TestCaseInvalid)
		}
		if len(tc.Input) > maxTestCaseBytes || len(tc.Expected) > maxTestCaseBytes {
			return pkgerrors.New(pkgerrors.TestCaseTooLarge)
		}
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.ToLower(strings.TrimSpace(tag))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
