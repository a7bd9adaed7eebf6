package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"algoforge/internal/common/cache"
	appErr "algoforge/pkg/errors"
)

const (
	recordedKeyPrefix     = "stats:recorded:"
	userStatsKeyPrefix    = "stats:user:"
	problemStatsKeyPrefix = "stats:problem:"
	leaderboardKey        = "stats:leaderboard:solved"

	fieldTotal          = "total"
	fieldAccepted       = "accepted"
	fieldTimeSum        = "time_ms_sum"
	fieldMemorySum      = "memory_kb_sum"
	verdictFieldPrefix  = "verdict:"
	languageFieldPrefix = "lang:"

	recentLimit = 5

	defaultRecordedTTL = 7 * 24 * time.Hour
)

// RecentEntry is one row of a user's recent submission ring.
type RecentEntry struct {
	SubmissionID int64  `json:"submission_id"`
	ProblemID    int64  `json:"problem_id"`
	Verdict      string `json:"verdict"`
	Language     string `json:"language"`
	FinishedAt   int64  `json:"finished_at"`
}

// LeaderboardEntry is one ranked row of the solved-count leaderboard.
type LeaderboardEntry struct {
	Rank        int   `json:"rank"`
	UserID      int64 `json:"user_id"`
	SolvedCount int64 `json:"solved_count"`
}

// StatsRepository stores per-user aggregates in Redis.
type StatsRepository struct {
	cache       cache.Cache
	recordedTTL time.Duration
}

// NewStatsRepository creates a stats repository.
func NewStatsRepository(cacheClient cache.Cache, recordedTTL time.Duration) *StatsRepository {
	if recordedTTL <= 0 {
		recordedTTL = defaultRecordedTTL
	}
	return &StatsRepository{cache: cacheClient, recordedTTL: recordedTTL}
}

// MarkRecorded reserves the per-submission guard. Returns false when the
// submission was already counted.
func (r *StatsRepository) MarkRecorded(ctx context.Context, submissionID int64) (bool, error) {
	ok, err := r.cache.SetNX(ctx, recordedKey(submissionID), "1", r.recordedTTL)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "reserve stats guard failed")
	}
	return ok, nil
}

// UnmarkRecorded releases the guard so a failed aggregation can be retried.
func (r *StatsRepository) UnmarkRecorded(ctx context.Context, submissionID int64) error {
	return r.cache.Del(ctx, recordedKey(submissionID))
}

// CounterDelta carries the per-submission increments folded into a user's
// counter hash.
type CounterDelta struct {
	Verdict      string
	Language     string
	Accepted     bool
	TimeUsedMS   int64
	MemoryUsedKB int64
}

// IncrCounters bumps the per-user counters for one terminal submission. The
// running time and memory sums back the average metrics recomputed on read.
func (r *StatsRepository) IncrCounters(ctx context.Context, userID int64, delta CounterDelta) error {
	key := userStatsKey(userID)
	if _, err := r.cache.HIncrBy(ctx, key, fieldTotal, 1); err != nil {
		return appErr.Wrapf(err, appErr.StatsUpdateFailed, "incr total failed")
	}
	if _, err := r.cache.HIncrBy(ctx, key, verdictFieldPrefix+delta.Verdict, 1); err != nil {
		return appErr.Wrapf(err, appErr.StatsUpdateFailed, "incr verdict failed")
	}
	if _, err := r.cache.HIncrBy(ctx, key, languageFieldPrefix+delta.Language, 1); err != nil {
		return appErr.Wrapf(err, appErr.StatsUpdateFailed, "incr language failed")
	}
	if _, err := r.cache.HIncrBy(ctx, key, fieldTimeSum, delta.TimeUsedMS); err != nil {
		return appErr.Wrapf(err, appErr.StatsUpdateFailed, "incr time sum failed")
	}
	if _, err := r.cache.HIncrBy(ctx, key, fieldMemorySum, delta.MemoryUsedKB); err != nil {
		return appErr.Wrapf(err, appErr.StatsUpdateFailed, "incr memory sum failed")
	}
	if delta.Accepted {
		if _, err := r.cache.HIncrBy(ctx, key, fieldAccepted, 1); err != nil {
			return appErr.Wrapf(err, appErr.StatsUpdateFailed, "incr accepted failed")
		}
	}
	return nil
}

// IncrProblemCounters bumps the per-problem counters for one terminal submission.
func (r *StatsRepository) IncrProblemCounters(ctx context.Context, problemID int64, accepted bool) error {
	key := problemStatsKey(problemID)
	if _, err := r.cache.HIncrBy(ctx, key, fieldTotal, 1); err != nil {
		return appErr.Wrapf(err, appErr.StatsUpdateFailed, "incr problem total failed")
	}
	if accepted {
		if _, err := r.cache.HIncrBy(ctx, key, fieldAccepted, 1); err != nil {
			return appErr.Wrapf(err, appErr.StatsUpdateFailed, "incr problem accepted failed")
		}
	}
	return nil
}

// ProblemCounters returns the raw per-problem counter hash.
func (r *StatsRepository) ProblemCounters(ctx context.Context, problemID int64) (map[string]string, error) {
	fields, err := r.cache.HGetAll(ctx, problemStatsKey(problemID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read problem stats failed")
	}
	return fields, nil
}

// MarkSolved records the first accept of a problem. Returns true when the
// problem was not solved by this user before.
func (r *StatsRepository) MarkSolved(ctx context.Context, userID, problemID int64) (bool, error) {
	key := solvedKey(userID)
	member := strconv.FormatInt(problemID, 10)
	already, err := r.cache.SIsMember(ctx, key, member)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "check solved failed")
	}
	if already {
		return false, nil
	}
	if err := r.cache.SAdd(ctx, key, member); err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "mark solved failed")
	}
	if _, err := r.cache.ZIncrBy(ctx, leaderboardKey, 1, strconv.FormatInt(userID, 10)); err != nil {
		return false, appErr.Wrapf(err, appErr.LeaderboardError, "update leaderboard failed")
	}
	return true, nil
}

// PushRecent prepends an entry to the user's recent ring and trims it.
func (r *StatsRepository) PushRecent(ctx context.Context, userID int64, entry RecentEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := recentKey(userID)
	if err := r.cache.LPush(ctx, key, string(payload)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "push recent failed")
	}
	if err := r.cache.LTrim(ctx, key, 0, recentLimit-1); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "trim recent failed")
	}
	return nil
}

// Counters returns the raw per-user counter hash.
func (r *StatsRepository) Counters(ctx context.Context, userID int64) (map[string]string, error) {
	fields, err := r.cache.HGetAll(ctx, userStatsKey(userID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read stats failed")
	}
	return fields, nil
}

// SolvedProblems returns the ids of all problems the user has solved.
func (r *StatsRepository) SolvedProblems(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	members, err := r.cache.SMembers(ctx, solvedKey(userID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read solved set failed")
	}
	solved := make(map[int64]struct{}, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		solved[id] = struct{}{}
	}
	return solved, nil
}

// SolvedCount returns how many distinct problems the user has solved.
func (r *StatsRepository) SolvedCount(ctx context.Context, userID int64) (int64, error) {
	count, err := r.cache.SCard(ctx, solvedKey(userID))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "read solved count failed")
	}
	return count, nil
}

// Recent returns the user's recent submissions, newest first.
func (r *StatsRepository) Recent(ctx context.Context, userID int64) ([]RecentEntry, error) {
	values, err := r.cache.LRange(ctx, recentKey(userID), 0, recentLimit-1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read recent failed")
	}
	entries := make([]RecentEntry, 0, len(values))
	for _, value := range values {
		var entry RecentEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Rank returns the user's 1-based leaderboard rank, or 0 when unranked.
func (r *StatsRepository) Rank(ctx context.Context, userID int64) (int64, error) {
	rank, err := r.cache.ZRevRank(ctx, leaderboardKey, strconv.FormatInt(userID, 10))
	if err != nil {
		return 0, nil
	}
	return rank + 1, nil
}

// Top returns the first limit leaderboard entries.
func (r *StatsRepository) Top(ctx context.Context, limit int64) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	members, err := r.cache.ZRevRangeWithScores(ctx, leaderboardKey, 0, limit-1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LeaderboardError, "read leaderboard failed")
	}
	entries := make([]LeaderboardEntry, 0, len(members))
	for i, member := range members {
		userID, err := strconv.ParseInt(member.Member, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Rank:        i + 1,
			UserID:      userID,
			SolvedCount: int64(member.Score),
		})
	}
	return entries, nil
}

func recordedKey(submissionID int64) string {
	return recordedKeyPrefix + strconv.FormatInt(submissionID, 10)
}

func userStatsKey(userID int64) string {
	return userStatsKeyPrefix + strconv.FormatInt(userID, 10)
}

func problemStatsKey(problemID int64) string {
	return problemStatsKeyPrefix + strconv.FormatInt(problemID, 10)
}

func solvedKey(userID int64) string {
	return userStatsKey(userID) + ":solved"
}

func recentKey(userID int64) string {
	return userStatsKey(userID) + ":recent"
}
