package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/common/db"
	"algoforge/internal/judge/model"
)

const (
	defaultSubmissionCacheTTL      = 30 * time.Minute
	defaultSubmissionCacheEmptyTTL = 5 * time.Minute
	submissionCacheKeyPrefix       = "submission:info:"
)

var (
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrAlreadyFinalized    = errors.New("submission already finalized")
	ErrSubmissionImmutable = errors.New("submission result is immutable")
)

// Submission statuses. Pending and running submissions carry no verdict;
// once a terminal result lands the row never changes again.
const (
	StatusPending  = "pending"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Submission represents one code submission record. TestResults is the
// ordered per-case outcome list written at finalize time.
type Submission struct {
	ID           int64
	ProblemID    int64
	UserID       int64
	Language     string
	SourceKey    string
	SourceHash   string
	Status       string
	Verdict      string
	TimeUsedMS   int64
	MemoryUsedKB int64
	FailedTest   int32
	ErrorMessage string
	TestResults  []model.TestCaseResult
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// FinalResult carries the terminal outcome written back to a submission.
type FinalResult struct {
	SubmissionID int64
	Status       string
	Verdict      string
	TimeUsedMS   int64
	MemoryUsedKB int64
	FailedTest   int32
	ErrorMessage string
	TestResults  []model.TestCaseResult
	FinishedAt   time.Time
}

// ListFilter narrows a submission listing.
type ListFilter struct {
	UserID    int64
	ProblemID int64
	Status    string
	Language  string
	Page      int
	PageSize  int
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID int64) (*Submission, error)
	List(ctx context.Context, filter ListFilter) ([]*Submission, int64, error)
	Finalize(ctx context.Context, tx db.Transaction, result FinalResult) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	dbProvider db.Provider
	cache      cache.Cache
	ttl        time.Duration
	emptyTTL   time.Duration
}

// NewSubmissionRepository creates a submission repository with defaults.
func NewSubmissionRepository(provider db.Provider, cacheClient cache.Cache) SubmissionRepository {
	return NewSubmissionRepositoryWithTTL(provider, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(provider db.Provider, cacheClient cache.Cache, ttl, emptyTTL time.Duration) SubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		dbProvider: provider,
		cache:      cacheClient,
		ttl:        ttl,
		emptyTTL:   emptyTTL,
	}
}

const submissionColumns = "id, problem_id, user_id, language, source_key, source_hash, status, verdict, time_used_ms, memory_used_kb, failed_test, error_message, test_results, created_at, finished_at"

// Create inserts a submission record. The id is assigned by the caller so it
// stays monotonic across instances.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID <= 0 {
		return errors.New("submission id is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if submission.UserID <= 0 {
		return errors.New("userID is required")
	}
	if submission.Language == "" {
		return errors.New("language is required")
	}
	if submission.SourceKey == "" {
		return errors.New("sourceKey is required")
	}
	if submission.Status == "" {
		submission.Status = StatusPending
	}

	query := `
		INSERT INTO submissions
		(id, problem_id, user_id, language, source_key, source_hash, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	_, err = querier.Exec(
		ctx,
		query,
		submission.ID,
		submission.ProblemID,
		submission.UserID,
		submission.Language,
		submission.SourceKey,
		submission.SourceHash,
		submission.Status,
	)
	return err
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID int64) (*Submission, error) {
	if submissionID <= 0 {
		return nil, errors.New("submission id is required")
	}
	if r.cache != nil && tx == nil {
		submission, err := cache.GetWithCached[*Submission](
			ctx,
			r.cache,
			submissionCacheKey(submissionID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(submission *Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*Submission, error) {
				submission, err := r.getByIDFromDB(ctx, nil, submissionID)
				if err != nil {
					if errors.Is(err, ErrSubmissionNotFound) {
						return nil, nil
					}
					return nil, err
				}
				// Only terminal rows are safe to cache; a pending row would
				// mask its own result for the cache TTL.
				if submission.FinishedAt == nil {
					return nil, nil
				}
				return submission, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if submission != nil {
			return submission, nil
		}
		return r.getByIDFromDB(ctx, nil, submissionID)
	}
	return r.getByIDFromDB(ctx, tx, submissionID)
}

// List returns submissions matching the filter, newest first.
func (r *MySQLSubmissionRepository) List(ctx context.Context, filter ListFilter) ([]*Submission, int64, error) {
	where := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)

	if filter.UserID > 0 {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ProblemID > 0 {
		where = append(where, "problem_id = ?")
		args = append(args, filter.ProblemID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Language != "" {
		where = append(where, "language = ?")
		args = append(args, filter.Language)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	countRow := querier.QueryRow(ctx, "SELECT COUNT(*) FROM submissions"+whereClause, args...)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := "SELECT " + submissionColumns + " FROM submissions" + whereClause + " ORDER BY id DESC LIMIT ? OFFSET ?"
	listArgs := append(append([]interface{}{}, args...), pageSize, offset)

	rows, err := querier.Query(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	submissions := make([]*Submission, 0, pageSize)
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		submissions = append(submissions, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return submissions, total, nil
}

// Finalize writes the terminal result exactly once. The guard on finished_at
// makes redelivered result events a no-op.
func (r *MySQLSubmissionRepository) Finalize(ctx context.Context, tx db.Transaction, result FinalResult) error {
	if result.SubmissionID <= 0 {
		return errors.New("submission id is required")
	}
	if result.Status != StatusFinished && result.Status != StatusFailed {
		return ErrSubmissionImmutable
	}

	testResults, err := marshalTestResults(result.TestResults)
	if err != nil {
		return err
	}

	query := `
		UPDATE submissions
		SET status = ?, verdict = ?, time_used_ms = ?, memory_used_kb = ?,
			failed_test = ?, error_message = ?, test_results = ?, finished_at = ?
		WHERE id = ? AND finished_at IS NULL
	`
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	res, err := querier.Exec(
		ctx,
		query,
		result.Status,
		result.Verdict,
		result.TimeUsedMS,
		result.MemoryUsedKB,
		result.FailedTest,
		result.ErrorMessage,
		testResults,
		result.FinishedAt,
		result.SubmissionID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		exists, err := r.exists(ctx, tx, result.SubmissionID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrSubmissionNotFound
		}
		return ErrAlreadyFinalized
	}
	if r.cache != nil {
		_ = r.cache.Del(ctx, submissionCacheKey(result.SubmissionID))
	}
	return nil
}

func (r *MySQLSubmissionRepository) exists(ctx context.Context, tx db.Transaction, submissionID int64) (bool, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return false, err
	}
	row := querier.QueryRow(ctx, "SELECT 1 FROM submissions WHERE id = ?", submissionID)
	var one int
	if err := row.Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, submissionID int64) (*Submission, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ? LIMIT 1"
	row := querier.QueryRow(ctx, query, submissionID)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func scanSubmission(scanner db.Scanner) (*Submission, error) {
	submission := &Submission{}
	var verdict sql.NullString
	var errorMessage sql.NullString
	var testResults sql.NullString
	var finishedAt sql.NullTime
	if err := scanner.Scan(
		&submission.ID,
		&submission.ProblemID,
		&submission.UserID,
		&submission.Language,
		&submission.SourceKey,
		&submission.SourceHash,
		&submission.Status,
		&verdict,
		&submission.TimeUsedMS,
		&submission.MemoryUsedKB,
		&submission.FailedTest,
		&errorMessage,
		&testResults,
		&submission.CreatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	submission.Verdict = verdict.String
	submission.ErrorMessage = errorMessage.String
	if testResults.Valid && testResults.String != "" {
		if err := json.Unmarshal([]byte(testResults.String), &submission.TestResults); err != nil {
			return nil, err
		}
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		submission.FinishedAt = &t
	}
	return submission, nil
}

// marshalTestResults encodes per-case results for the test_results column.
// An empty slice stores SQL NULL.
func marshalTestResults(results []model.TestCaseResult) (interface{}, error) {
	if len(results) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func submissionCacheKey(submissionID int64) string {
	return submissionCacheKeyPrefix + strconv.FormatInt(submissionID, 10)
}

func marshalSubmission(submission *Submission) string {
	if submission == nil {
		return ""
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}
