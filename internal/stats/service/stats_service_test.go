package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/judge/model"
	"algoforge/internal/stats/repository"
	"algoforge/internal/stats/service"
	appErr "algoforge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStatsServiceForTest(t *testing.T) *service.StatsService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cacheClient, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	repo := repository.NewStatsRepository(cacheClient, time.Hour)
	return service.NewStatsService(repo)
}

func finishedRecord(submissionID, userID, problemID int64, verdict model.Verdict) model.StatusRecord {
	return model.StatusRecord{
		SubmissionID: submissionID,
		ProblemID:    problemID,
		UserID:       userID,
		Language:     "cpp",
		Status:       model.StatusFinished,
		Verdict:      verdict,
		FinishedAt:   time.Now().Unix(),
	}
}

func TestStatsService_Record(t *testing.T) {
	t.Parallel()

	statsService := newStatsServiceForTest(t)
	ctx := context.Background()

	records := []model.StatusRecord{
		finishedRecord(1, 7, 100, model.VerdictAccepted),
		finishedRecord(2, 7, 101, model.VerdictWrongAnswer),
		finishedRecord(3, 7, 101, model.VerdictAccepted),
	}
	for _, record := range records {
		if err := statsService.Record(ctx, record); err != nil {
			t.Fatalf("record %d failed: %v", record.SubmissionID, err)
		}
	}

	stats, err := statsService.GetUserStats(ctx, 7)
	if err != nil {
		t.Fatalf("get user stats failed: %v", err)
	}
	if stats.TotalCount != 3 {
		t.Fatalf("expected total 3, got %d", stats.TotalCount)
	}
	if stats.AcceptedCount != 2 {
		t.Fatalf("expected accepted 2, got %d", stats.AcceptedCount)
	}
	if stats.AcceptanceRate != 66.7 {
		t.Fatalf("expected acceptance rate 66.7, got %v", stats.AcceptanceRate)
	}
	if stats.SolvedCount != 2 {
		t.Fatalf("expected 2 solved problems, got %d", stats.SolvedCount)
	}
	if stats.ByVerdict["accepted"] != 2 || stats.ByVerdict["wrong_answer"] != 1 {
		t.Fatalf("unexpected verdict counters: %v", stats.ByVerdict)
	}
	if stats.ByLanguage["cpp"] != 3 {
		t.Fatalf("unexpected language counters: %v", stats.ByLanguage)
	}
	if len(stats.Recent) != 3 {
		t.Fatalf("expected 3 recent entries, got %d", len(stats.Recent))
	}
	if stats.Recent[0].SubmissionID != 3 {
		t.Fatalf("recent entries should be newest first, got %d", stats.Recent[0].SubmissionID)
	}
}

func TestStatsService_RecordExactlyOnce(t *testing.T) {
	t.Parallel()

	statsService := newStatsServiceForTest(t)
	ctx := context.Background()

	record := finishedRecord(42, 9, 100, model.VerdictAccepted)
	if err := statsService.Record(ctx, record); err != nil {
		t.Fatalf("first record failed: %v", err)
	}

	err := statsService.Record(ctx, record)
	if err == nil || appErr.GetCode(err) != appErr.StatsAlreadyRecorded {
		t.Fatalf("expected StatsAlreadyRecorded, got %v", err)
	}

	// The message handler swallows duplicate deliveries.
	if err := statsService.HandleFinalResult(ctx, record); err != nil {
		t.Fatalf("duplicate delivery should be swallowed, got %v", err)
	}

	stats, err := statsService.GetUserStats(ctx, 9)
	if err != nil {
		t.Fatalf("get user stats failed: %v", err)
	}
	if stats.TotalCount != 1 {
		t.Fatalf("expected total 1 after duplicates, got %d", stats.TotalCount)
	}
}

func TestStatsService_RecordRejectsNonTerminal(t *testing.T) {
	t.Parallel()

	statsService := newStatsServiceForTest(t)

	record := finishedRecord(1, 2, 3, model.VerdictAccepted)
	record.Status = model.StatusRunning
	err := statsService.Record(context.Background(), record)
	if err == nil || appErr.GetCode(err) != appErr.InvalidParams {
		t.Fatalf("expected InvalidParams, got %v", err)
	}

	record = finishedRecord(0, 2, 3, model.VerdictAccepted)
	err = statsService.Record(context.Background(), record)
	if err == nil || appErr.GetCode(err) != appErr.InvalidParams {
		t.Fatalf("expected InvalidParams for missing ids, got %v", err)
	}
}

func TestStatsService_SolvedCountsOncePerProblem(t *testing.T) {
	t.Parallel()

	statsService := newStatsServiceForTest(t)
	ctx := context.Background()

	if err := statsService.Record(ctx, finishedRecord(1, 5, 100, model.VerdictAccepted)); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := statsService.Record(ctx, finishedRecord(2, 5, 100, model.VerdictAccepted)); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	solved, err := statsService.SolvedCount(ctx, 5)
	if err != nil {
		t.Fatalf("solved count failed: %v", err)
	}
	if solved != 1 {
		t.Fatalf("re-accepting the same problem should count once, got %d", solved)
	}

	leaderboard, err := statsService.GetLeaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(leaderboard) != 1 || leaderboard[0].UserID != 5 || leaderboard[0].SolvedCount != 1 {
		t.Fatalf("unexpected leaderboard: %+v", leaderboard)
	}
}

func TestStatsService_ConcurrentRecords(t *testing.T) {
	t.Parallel()

	statsService := newStatsServiceForTest(t)
	ctx := context.Background()

	const workers = 100
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(submissionID int64) {
			defer wg.Done()
			record := finishedRecord(submissionID, 3, 100+submissionID%4, model.VerdictAccepted)
			if err := statsService.Record(ctx, record); err != nil {
				errs <- err
			}
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent record failed: %v", err)
	}

	stats, err := statsService.GetUserStats(ctx, 3)
	if err != nil {
		t.Fatalf("get user stats failed: %v", err)
	}
	if stats.TotalCount != workers {
		t.Fatalf("expected total %d, got %d", workers, stats.TotalCount)
	}
	if stats.SolvedCount != 4 {
		t.Fatalf("expected 4 distinct problems solved, got %d", stats.SolvedCount)
	}
}

func TestStatsService_RecentRingIsBounded(t *testing.T) {
	t.Parallel()

	statsService := newStatsServiceForTest(t)
	ctx := context.Background()

	for i := int64(1); i <= 8; i++ {
		if err := statsService.Record(ctx, finishedRecord(i, 11, 100+i, model.VerdictWrongAnswer)); err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	recent, err := statsService.Recent(ctx, 11)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 5 {
		t.Fatalf("expected recent ring of 5, got %d", len(recent))
	}
	if recent[0].SubmissionID != 8 || recent[4].SubmissionID != 4 {
		t.Fatalf("unexpected recent window: first=%d last=%d", recent[0].SubmissionID, recent[4].SubmissionID)
	}
}

func TestStatsService_GetProblemStats(t *testing.T) {
	t.Parallel()

	statsService := newStatsServiceForTest(t)
	ctx := context.Background()

	records := []model.StatusRecord{
		finishedRecord(1, 1, 200, model.VerdictAccepted),
		finishedRecord(2, 2, 200, model.VerdictWrongAnswer),
		finishedRecord(3, 3, 200, model.VerdictTimeLimit),
		finishedRecord(4, 4, 200, model.VerdictAccepted),
	}
	for _, record := range records {
		if err := statsService.Record(ctx, record); err != nil {
			t.Fatalf("record %d failed: %v", record.SubmissionID, err)
		}
	}

	stats, err := statsService.GetProblemStats(ctx, 200)
	if err != nil {
		t.Fatalf("get problem stats failed: %v", err)
	}
	if stats.TotalCount != 4 || stats.AcceptedCount != 2 {
		t.Fatalf("expected 4/2, got %d/%d", stats.TotalCount, stats.AcceptedCount)
	}
	if stats.AcceptanceRate != 50 {
		t.Fatalf("expected acceptance rate 50, got %v", stats.AcceptanceRate)
	}

	empty, err := statsService.GetProblemStats(ctx, 999)
	if err != nil {
		t.Fatalf("get problem stats for unknown problem failed: %v", err)
	}
	if empty.TotalCount != 0 || empty.AcceptanceRate != 0 {
		t.Fatalf("unknown problem should have zero stats, got %+v", empty)
	}
}

func TestStatsService_LeaderboardOrdering(t *testing.T) {
	t.Parallel()

	statsService := newStatsServiceForTest(t)
	ctx := context.Background()

	// User 1 solves three problems, user 2 solves one.
	submissionID := int64(1)
	for _, problemID := range []int64{100, 101, 102} {
		if err := statsService.Record(ctx, finishedRecord(submissionID, 1, problemID, model.VerdictAccepted)); err != nil {
			t.Fatalf("record failed: %v", err)
		}
		submissionID++
	}
	if err := statsService.Record(ctx, finishedRecord(submissionID, 2, 100, model.VerdictAccepted)); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	leaderboard, err := statsService.GetLeaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(leaderboard) != 2 {
		t.Fatalf("expected 2 leaderboard entries, got %d", len(leaderboard))
	}
	if leaderboard[0].UserID != 1 || leaderboard[0].Rank != 1 || leaderboard[0].SolvedCount != 3 {
		t.Fatalf("unexpected first entry: %+v", leaderboard[0])
	}
	if leaderboard[1].UserID != 2 || leaderboard[1].Rank != 2 {
		t.Fatalf("unexpected second entry: %+v", leaderboard[1])
	}

	stats, err := statsService.GetUserStats(ctx, 2)
	if err != nil {
		t.Fatalf("get user stats failed: %v", err)
	}
	if stats.Rank != 2 {
		t.Fatalf("expected rank 2, got %d", stats.Rank)
	}
}

func TestStatsService_RuntimeAndMemoryAverages(t *testing.T) {
	t.Parallel()

	statsService := newStatsServiceForTest(t)
	ctx := context.Background()

	records := []model.StatusRecord{
		finishedRecord(1, 13, 100, model.VerdictAccepted),
		finishedRecord(2, 13, 101, model.VerdictWrongAnswer),
		finishedRecord(3, 13, 102, model.VerdictAccepted),
	}
	records[0].TimeUsedMS, records[0].MemoryUsedKB = 10, 1024
	records[1].TimeUsedMS, records[1].MemoryUsedKB = 25, 2048
	records[2].TimeUsedMS, records[2].MemoryUsedKB = 30, 512

	for _, record := range records {
		if err := statsService.Record(ctx, record); err != nil {
			t.Fatalf("record %d failed: %v", record.SubmissionID, err)
		}
	}

	stats, err := statsService.GetUserStats(ctx, 13)
	if err != nil {
		t.Fatalf("get user stats failed: %v", err)
	}
	if stats.TimeUsedMSSum != 65 || stats.MemoryUsedKBSum != 3584 {
		t.Fatalf("expected sums 65/3584, got %d/%d", stats.TimeUsedMSSum, stats.MemoryUsedKBSum)
	}
	if stats.AverageTimeMS != 21.7 {
		t.Fatalf("expected average time 21.7, got %v", stats.AverageTimeMS)
	}
	if stats.AverageMemoryKB != 1194.7 {
		t.Fatalf("expected average memory 1194.7, got %v", stats.AverageMemoryKB)
	}
}

func TestAcceptanceRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		accepted int64
		total    int64
		want     float64
	}{
		{0, 0, 0},
		{0, 5, 0},
		{2, 3, 66.7},
		{1, 3, 33.3},
		{5, 5, 100},
	}
	for _, tc := range tests {
		if got := service.AcceptanceRate(tc.accepted, tc.total); got != tc.want {
			t.Fatalf("AcceptanceRate(%d, %d) = %v, want %v", tc.accepted, tc.total, got, tc.want)
		}
	}
}
