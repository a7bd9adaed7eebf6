package service

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"

	"algoforge/internal/judge/model"
	"algoforge/internal/stats/repository"
	appErr "algoforge/pkg/errors"
	"algoforge/pkg/utils/logger"

	"go.uber.org/zap"
)

const mutexStripes = 64

// UserStats is the aggregate view for one user. The averages are derived
// from the running sums on every read, never stored.
type UserStats struct {
	UserID          int64                    `json:"user_id"`
	TotalCount      int64                    `json:"total_count"`
	AcceptedCount   int64                    `json:"accepted_count"`
	AcceptanceRate  float64                  `json:"acceptance_rate"`
	SolvedCount     int64                    `json:"solved_count"`
	Rank            int64                    `json:"rank,omitempty"`
	TimeUsedMSSum   int64                    `json:"time_used_ms_sum"`
	MemoryUsedKBSum int64                    `json:"memory_used_kb_sum"`
	AverageTimeMS   float64                  `json:"average_time_ms"`
	AverageMemoryKB float64                  `json:"average_memory_kb"`
	ByVerdict       map[string]int64         `json:"by_verdict"`
	ByLanguage      map[string]int64         `json:"by_language"`
	Recent          []repository.RecentEntry `json:"recent"`
}

// StatsService aggregates terminal submission results per user.
type StatsService struct {
	repo *repository.StatsRepository

	// Per-user striped locks serialize the read-modify-write on solved
	// sets, so two concurrent accepts of the same problem count once.
	locks [mutexStripes]sync.Mutex
}

// NewStatsService creates a stats service.
func NewStatsService(repo *repository.StatsRepository) *StatsService {
	return &StatsService{repo: repo}
}

// HandleFinalResult records one terminal result. Duplicate deliveries are
// swallowed after logging.
func (s *StatsService) HandleFinalResult(ctx context.Context, record model.StatusRecord) error {
	err := s.Record(ctx, record)
	if err != nil && appErr.GetCode(err) == appErr.StatsAlreadyRecorded {
		logger.Info(ctx, "skip already recorded submission",
			zap.Int64("submission_id", record.SubmissionID))
		return nil
	}
	return err
}

// Record aggregates one terminal result into the user's statistics. Each
// submission counts exactly once; a second call returns StatsAlreadyRecorded.
func (s *StatsService) Record(ctx context.Context, record model.StatusRecord) error {
	if record.SubmissionID <= 0 || record.UserID <= 0 {
		return appErr.New(appErr.InvalidParams).WithMessage("result missing ids")
	}
	if !record.Status.Terminal() {
		return appErr.New(appErr.InvalidParams).WithMessage("result is not terminal")
	}
	verdict := record.Verdict
	if !verdict.Valid() {
		verdict = model.VerdictSystemError
	}

	lock := s.userLock(record.UserID)
	lock.Lock()
	defer lock.Unlock()

	first, err := s.repo.MarkRecorded(ctx, record.SubmissionID)
	if err != nil {
		return err
	}
	if !first {
		return appErr.New(appErr.StatsAlreadyRecorded)
	}

	if err := s.record(ctx, record, verdict); err != nil {
		// Release the guard so a redelivery can retry the aggregation.
		if delErr := s.repo.UnmarkRecorded(ctx, record.SubmissionID); delErr != nil {
			logger.Warn(ctx, "release stats guard failed",
				zap.Int64("submission_id", record.SubmissionID), zap.Error(delErr))
		}
		return err
	}
	return nil
}

func (s *StatsService) record(ctx context.Context, record model.StatusRecord, verdict model.Verdict) error {
	accepted := verdict == model.VerdictAccepted
	if err := s.repo.IncrCounters(ctx, record.UserID, repository.CounterDelta{
		Verdict:      string(verdict),
		Language:     record.Language,
		Accepted:     accepted,
		TimeUsedMS:   record.TimeUsedMS,
		MemoryUsedKB: record.MemoryUsedKB,
	}); err != nil {
		return err
	}
	if record.ProblemID > 0 {
		if err := s.repo.IncrProblemCounters(ctx, record.ProblemID, accepted); err != nil {
			return err
		}
	}
	if accepted && record.ProblemID > 0 {
		if _, err := s.repo.MarkSolved(ctx, record.UserID, record.ProblemID); err != nil {
			return err
		}
	}
	return s.repo.PushRecent(ctx, record.UserID, repository.RecentEntry{
		SubmissionID: record.SubmissionID,
		ProblemID:    record.ProblemID,
		Verdict:      string(verdict),
		Language:     record.Language,
		FinishedAt:   record.FinishedAt,
	})
}

// GetUserStats returns the aggregate view for one user.
func (s *StatsService) GetUserStats(ctx context.Context, userID int64) (UserStats, error) {
	if userID <= 0 {
		return UserStats{}, appErr.ValidationError("user_id", "required")
	}
	counters, err := s.repo.Counters(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	stats := UserStats{
		UserID:     userID,
		ByVerdict:  make(map[string]int64),
		ByLanguage: make(map[string]int64),
	}
	for field, raw := range counters {
		value := parseCount(raw)
		switch {
		case field == "total":
			stats.TotalCount = value
		case field == "accepted":
			stats.AcceptedCount = value
		case field == "time_ms_sum":
			stats.TimeUsedMSSum = value
		case field == "memory_kb_sum":
			stats.MemoryUsedKBSum = value
		case strings.HasPrefix(field, "verdict:"):
			stats.ByVerdict[strings.TrimPrefix(field, "verdict:")] = value
		case strings.HasPrefix(field, "lang:"):
			stats.ByLanguage[strings.TrimPrefix(field, "lang:")] = value
		}
	}
	stats.AcceptanceRate = AcceptanceRate(stats.AcceptedCount, stats.TotalCount)
	stats.AverageTimeMS = averageOf(stats.TimeUsedMSSum, stats.TotalCount)
	stats.AverageMemoryKB = averageOf(stats.MemoryUsedKBSum, stats.TotalCount)

	solved, err := s.repo.SolvedCount(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	stats.SolvedCount = solved

	recent, err := s.repo.Recent(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	stats.Recent = recent

	if rank, err := s.repo.Rank(ctx, userID); err == nil {
		stats.Rank = rank
	}
	return stats, nil
}

// ProblemStats is the aggregate view for one problem.
type ProblemStats struct {
	ProblemID      int64   `json:"problem_id"`
	TotalCount     int64   `json:"total_count"`
	AcceptedCount  int64   `json:"accepted_count"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// GetProblemStats returns submission aggregates for one problem.
func (s *StatsService) GetProblemStats(ctx context.Context, problemID int64) (ProblemStats, error) {
	if problemID <= 0 {
		return ProblemStats{}, appErr.ValidationError("problem_id", "required")
	}
	counters, err := s.repo.ProblemCounters(ctx, problemID)
	if err != nil {
		return ProblemStats{}, err
	}
	stats := ProblemStats{ProblemID: problemID}
	stats.TotalCount = parseCount(counters["total"])
	stats.AcceptedCount = parseCount(counters["accepted"])
	stats.AcceptanceRate = AcceptanceRate(stats.AcceptedCount, stats.TotalCount)
	return stats, nil
}

// GetLeaderboard returns the top users by distinct problems solved.
func (s *StatsService) GetLeaderboard(ctx context.Context, limit int64) ([]repository.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return s.repo.Top(ctx, limit)
}

// SolvedCount exposes the distinct-problems-solved counter.
func (s *StatsService) SolvedCount(ctx context.Context, userID int64) (int64, error) {
	return s.repo.SolvedCount(ctx, userID)
}

// SolvedProblems returns the set of problem ids the user has solved.
func (s *StatsService) SolvedProblems(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	return s.repo.SolvedProblems(ctx, userID)
}

// Recent returns the user's most recent finished submissions.
func (s *StatsService) Recent(ctx context.Context, userID int64) ([]repository.RecentEntry, error) {
	return s.repo.Recent(ctx, userID)
}

// VerdictCounts exposes the per-verdict counters for one user.
func (s *StatsService) VerdictCounts(ctx context.Context, userID int64) (map[string]int64, error) {
	stats, err := s.GetUserStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	return stats.ByVerdict, nil
}

// LanguageCounts exposes the per-language counters for one user.
func (s *StatsService) LanguageCounts(ctx context.Context, userID int64) (map[string]int64, error) {
	stats, err := s.GetUserStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	return stats.ByLanguage, nil
}

// AcceptanceRate computes accepted/total as a percentage rounded to one
// decimal place. Zero submissions yield a rate of zero.
func AcceptanceRate(accepted, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(accepted)/float64(total)*1000) / 10
}

// averageOf computes sum/total rounded to one decimal place.
func averageOf(sum, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(sum)/float64(total)*10) / 10
}

func (s *StatsService) userLock(userID int64) *sync.Mutex {
	return &s.locks[uint64(userID)%mutexStripes]
}

func parseCount(raw string) int64 {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}
