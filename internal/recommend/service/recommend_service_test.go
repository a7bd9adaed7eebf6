package service

import (
	"context"
	"testing"

	"algoforge/internal/common/db"
	probrepo "algoforge/internal/problem/repository"
	statsrepo "algoforge/internal/stats/repository"
)

type fakeProgress struct {
	solvedCount int64
	solved      map[int64]struct{}
	recent      []statsrepo.RecentEntry
}

func (f *fakeProgress) SolvedCount(ctx context.Context, userID int64) (int64, error) {
	return f.solvedCount, nil
}

func (f *fakeProgress) SolvedProblems(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	return f.solved, nil
}

func (f *fakeProgress) Recent(ctx context.Context, userID int64) ([]statsrepo.RecentEntry, error) {
	return f.recent, nil
}

type fakeCatalog struct {
	problems map[int64]*probrepo.Problem
}

func (f *fakeCatalog) Create(ctx context.Context, tx db.Transaction, problem *probrepo.Problem) (int64, error) {
	panic("not used")
}

func (f *fakeCatalog) Update(ctx context.Context, tx db.Transaction, problem *probrepo.Problem) error {
	panic("not used")
}

func (f *fakeCatalog) UpdateStatus(ctx context.Context, tx db.Transaction, problemID int64, status int32) error {
	panic("not used")
}

func (f *fakeCatalog) UpdateDataPack(ctx context.Context, tx db.Transaction, problemID int64, key, hash string, testCaseCount int32) error {
	panic("not used")
}

func (f *fakeCatalog) GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*probrepo.Problem, error) {
	problem, ok := f.problems[problemID]
	if !ok {
		return nil, probrepo.ErrProblemNotFound
	}
	return problem, nil
}

func (f *fakeCatalog) List(ctx context.Context, filter probrepo.ListFilter) ([]*probrepo.Problem, int64, error) {
	out := make([]*probrepo.Problem, 0, len(f.problems))
	for _, problem := range f.problems {
		if filter.Difficulty != "" && problem.Difficulty != filter.Difficulty {
			continue
		}
		if filter.Status != nil && problem.Status != *filter.Status {
			continue
		}
		out = append(out, problem)
	}
	// Deterministic order for assertions.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ID < out[i].ID {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeCatalog) Exists(ctx context.Context, tx db.Transaction, problemID int64) (bool, error) {
	_, ok := f.problems[problemID]
	return ok, nil
}

func (f *fakeCatalog) Delete(ctx context.Context, tx db.Transaction, problemID int64) error {
	panic("not used")
}

func (f *fakeCatalog) InvalidateCache(ctx context.Context, problemID int64) error {
	return nil
}

func publishedProblem(id int64, difficulty string, tags ...string) *probrepo.Problem {
	return &probrepo.Problem{
		ID:         id,
		Title:      "problem",
		Difficulty: difficulty,
		Tags:       tags,
		Status:     probrepo.ProblemStatusPublished,
	}
}

func TestDifficultyFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		solved int64
		want   string
	}{
		{0, probrepo.DifficultyEasy},
		{4, probrepo.DifficultyEasy},
		{5, probrepo.DifficultyMedium},
		{14, probrepo.DifficultyMedium},
		{15, probrepo.DifficultyHard},
		{100, probrepo.DifficultyHard},
	}
	for _, tc := range tests {
		if got := difficultyFor(tc.solved); got != tc.want {
			t.Fatalf("difficultyFor(%d) = %s, want %s", tc.solved, got, tc.want)
		}
	}
}

func TestRecommend_LadderAndSolvedFilter(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{problems: map[int64]*probrepo.Problem{
		1: publishedProblem(1, probrepo.DifficultyEasy, "math"),
		2: publishedProblem(2, probrepo.DifficultyEasy, "greedy"),
		3: publishedProblem(3, probrepo.DifficultyMedium, "dp"),
	}}
	progress := &fakeProgress{
		solvedCount: 2,
		solved:      map[int64]struct{}{1: {}},
	}
	svc := NewRecommendService(progress, catalog)

	recs, err := svc.Recommend(context.Background(), 7, 5)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(recs))
	}
	if recs[0].ProblemID != 2 {
		t.Fatalf("solved problems and other difficulties should be filtered, got %d", recs[0].ProblemID)
	}
	if recs[0].Difficulty != probrepo.DifficultyEasy {
		t.Fatalf("a beginner should get easy problems, got %s", recs[0].Difficulty)
	}
}

func TestRecommend_WeakTagBoost(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{problems: map[int64]*probrepo.Problem{
		1: publishedProblem(1, probrepo.DifficultyEasy, "math"),
		2: publishedProblem(2, probrepo.DifficultyEasy, "graphs"),
		3: publishedProblem(3, probrepo.DifficultyEasy, "strings"),
		9: publishedProblem(9, probrepo.DifficultyMedium, "graphs"),
	}}
	progress := &fakeProgress{
		solvedCount: 0,
		solved:      map[int64]struct{}{},
		recent: []statsrepo.RecentEntry{
			{SubmissionID: 50, ProblemID: 9, Verdict: "wrong_answer"},
			{SubmissionID: 51, ProblemID: 1, Verdict: "accepted"},
		},
	}
	svc := NewRecommendService(progress, catalog)

	recs, err := svc.Recommend(context.Background(), 7, 5)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 recommendations, got %d", len(recs))
	}
	if recs[0].ProblemID != 2 {
		t.Fatalf("problems sharing tags with recent failures should rank first, got %d", recs[0].ProblemID)
	}
	if recs[0].Reason != "practices topics you recently struggled with" {
		t.Fatalf("unexpected reason: %q", recs[0].Reason)
	}
	if recs[1].Reason != "matches your current level" {
		t.Fatalf("unboosted problems keep the level reason, got %q", recs[1].Reason)
	}
}

func TestRecommend_LimitClamping(t *testing.T) {
	t.Parallel()

	problems := make(map[int64]*probrepo.Problem)
	for i := int64(1); i <= 30; i++ {
		problems[i] = publishedProblem(i, probrepo.DifficultyEasy)
	}
	catalog := &fakeCatalog{problems: problems}
	progress := &fakeProgress{solved: map[int64]struct{}{}}
	svc := NewRecommendService(progress, catalog)

	recs, err := svc.Recommend(context.Background(), 7, 0)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("zero limit should default to 5, got %d", len(recs))
	}

	recs, err = svc.Recommend(context.Background(), 7, 1000)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(recs) != 20 {
		t.Fatalf("limit should clamp to 20, got %d", len(recs))
	}
}

func TestRecommend_RequiresUser(t *testing.T) {
	t.Parallel()

	svc := NewRecommendService(&fakeProgress{}, &fakeCatalog{})
	if _, err := svc.Recommend(context.Background(), 0, 5); err == nil {
		t.Fatalf("expected validation error for missing user")
	}
}
