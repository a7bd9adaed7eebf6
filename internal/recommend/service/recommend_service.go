// Package service picks practice problems matched to a user's progress.
package service

import (
	"context"
	"sort"

	probrepo "algoforge/internal/problem/repository"
	statsrepo "algoforge/internal/stats/repository"
	appErr "algoforge/pkg/errors"
	"algoforge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	easyThreshold   = 5
	mediumThreshold = 15

	candidatePool = 100
	defaultLimit  = 5
	maxLimit      = 20
	weakTagBoost  = 10
)

// ProgressSource exposes the per-user aggregates the ladder is built on.
type ProgressSource interface {
	SolvedCount(ctx context.Context, userID int64) (int64, error)
	SolvedProblems(ctx context.Context, userID int64) (map[int64]struct{}, error)
	Recent(ctx context.Context, userID int64) ([]statsrepo.RecentEntry, error)
}

// Recommendation is one suggested problem.
type Recommendation struct {
	ProblemID  int64    `json:"problem_id"`
	Title      string   `json:"title"`
	Difficulty string   `json:"difficulty"`
	Tags       []string `json:"tags"`
	Reason     string   `json:"reason"`
}

// RecommendService suggests unsolved problems at the user's level.
type RecommendService struct {
	progress ProgressSource
	problems probrepo.ProblemRepository
}

// NewRecommendService creates a recommend service.
func NewRecommendService(progress ProgressSource, problems probrepo.ProblemRepository) *RecommendService {
	return &RecommendService{progress: progress, problems: problems}
}

// Recommend returns up to limit unsolved published problems. The difficulty
// follows a solved-count ladder, and problems sharing tags with recently
// failed ones are ranked first.
func (s *RecommendService) Recommend(ctx context.Context, userID int64, limit int) ([]Recommendation, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	solvedCount, err := s.progress.SolvedCount(ctx, userID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RecommendationFailed, "read solved count failed")
	}
	difficulty := difficultyFor(solvedCount)

	solved, err := s.progress.SolvedProblems(ctx, userID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RecommendationFailed, "read solved set failed")
	}
	weakTags := s.weakTags(ctx, userID)

	published := probrepo.ProblemStatusPublished
	candidates, _, err := s.problems.List(ctx, probrepo.ListFilter{
		Difficulty: difficulty,
		Status:     &published,
		Page:       1,
		PageSize:   candidatePool,
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RecommendationFailed, "list candidates failed")
	}

	type scored struct {
		problem *probrepo.Problem
		score   int
	}
	ranked := make([]scored, 0, len(candidates))
	for _, problem := range candidates {
		if _, ok := solved[problem.ID]; ok {
			continue
		}
		score := 0
		for _, tag := range problem.Tags {
			if _, ok := weakTags[tag]; ok {
				score += weakTagBoost
			}
		}
		ranked = append(ranked, scored{problem: problem, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]Recommendation, 0, limit)
	for _, item := range ranked {
		if len(out) >= limit {
			break
		}
		reason := "matches your current level"
		if item.score > 0 {
			reason = "practices topics you recently struggled with"
		}
		out = append(out, Recommendation{
			ProblemID:  item.problem.ID,
			Title:      item.problem.Title,
			Difficulty: item.problem.Difficulty,
			Tags:       item.problem.Tags,
			Reason:     reason,
		})
	}
	return out, nil
}

// weakTags collects tags of recently failed problems. Lookup failures only
// degrade ranking, so they are logged and skipped.
func (s *RecommendService) weakTags(ctx context.Context, userID int64) map[string]struct{} {
	tags := make(map[string]struct{})
	recent, err := s.progress.Recent(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "read recent submissions failed", zap.Int64("user_id", userID), zap.Error(err))
		return tags
	}
	for _, entry := range recent {
		if entry.Verdict == "accepted" || entry.ProblemID <= 0 {
			continue
		}
		problem, err := s.problems.GetByID(ctx, nil, entry.ProblemID)
		if err != nil {
			continue
		}
		for _, tag := range problem.Tags {
			tags[tag] = struct{}{}
		}
	}
	return tags
}

func difficultyFor(solvedCount int64) string {
	switch {
	case solvedCount < easyThreshold:
		return probrepo.DifficultyEasy
	case solvedCount < mediumThreshold:
		return probrepo.DifficultyMedium
	default:
		return probrepo.DifficultyHard
	}
}
