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
)

const (
	defaultProblemCacheTTL      = 30 * time.Minute
	defaultProblemCacheEmptyTTL = 5 * time.Minute
	problemInfoKeyPrefix        = "problem:info:"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

type ProblemRepository interface {
	Create(ctx context.Context, tx db.Transaction, problem *Problem) (int64, error)
	Update(ctx context.Context, tx db.Transaction, problem *Problem) error
	UpdateStatus(ctx context.Context, tx db.Transaction, problemID int64, status int32) error
	UpdateDataPack(ctx context.Context, tx db.Transaction, problemID int64, key, hash string, testCaseCount int32) error
	GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*Problem, error)
	List(ctx context.Context, filter ListFilter) ([]*Problem, int64, error)
	Exists(ctx context.Context, tx db.Transaction, problemID int64) (bool, error)
	Delete(ctx context.Context, tx db.Transaction, problemID int64) error
	InvalidateCache(ctx context.Context, problemID int64) error
}

type MySQLProblemRepository struct {
	dbProvider db.Provider
	cache      cache.Cache
	ttl        time.Duration
	emptyTTL   time.Duration
}

func NewProblemRepository(provider db.Provider, cacheClient cache.Cache) ProblemRepository {
	return NewProblemRepositoryWithTTL(provider, cacheClient, defaultProblemCacheTTL, defaultProblemCacheEmptyTTL)
}

func NewProblemRepositoryWithTTL(provider db.Provider, cacheClient cache.Cache, ttl, emptyTTL time.Duration) ProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemCacheEmptyTTL
	}
	return &MySQLProblemRepository{
		dbProvider: provider,
		cache:      cacheClient,
		ttl:        ttl,
		emptyTTL:   emptyTTL,
	}
}

const problemColumns = "id, title, description, difficulty, tags, time_limit_ms, memory_limit_mb, status, owner_id, test_case_count, data_pack_key, data_pack_hash, created_at, updated_at"

func (r *MySQLProblemRepository) Create(ctx context.Context, tx db.Transaction, problem *Problem) (int64, error) {
	if problem == nil {
		return 0, errors.New("problem is nil")
	}
	if problem.Status == 0 {
		problem.Status = ProblemStatusDraft
	}

	tags, err := marshalTags(problem.Tags)
	if err != nil {
		return 0, err
	}

	query := `INSERT INTO problems
		(title, description, difficulty, tags, time_limit_ms, memory_limit_mb, status, owner_id, test_case_count, data_pack_key, data_pack_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return 0, err
	}
	result, err := querier.Exec(ctx, query,
		problem.Title,
		problem.Description,
		problem.Difficulty,
		tags,
		problem.TimeLimitMS,
		problem.MemoryLimitMB,
		problem.Status,
		problem.OwnerID,
		problem.TestCaseCount,
		problem.DataPackKey,
		problem.DataPackHash,
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	problem.ID = id
	return id, nil
}

func (r *MySQLProblemRepository) Update(ctx context.Context, tx db.Transaction, problem *Problem) error {
	if problem == nil || problem.ID <= 0 {
		return errors.New("problem id is required")
	}

	tags, err := marshalTags(problem.Tags)
	if err != nil {
		return err
	}

	query := `UPDATE problems SET
		title = ?, description = ?, difficulty = ?, tags = ?,
		time_limit_ms = ?, memory_limit_mb = ?, updated_at = NOW()
		WHERE id = ?`
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	result, err := querier.Exec(ctx, query,
		problem.Title,
		problem.Description,
		problem.Difficulty,
		tags,
		problem.TimeLimitMS,
		problem.MemoryLimitMB,
		problem.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProblemNotFound
	}
	return r.InvalidateCache(ctx, problem.ID)
}

func (r *MySQLProblemRepository) UpdateStatus(ctx context.Context, tx db.Transaction, problemID int64, status int32) error {
	query := "UPDATE problems SET status = ?, updated_at = NOW() WHERE id = ?"
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	result, err := querier.Exec(ctx, query, status, problemID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProblemNotFound
	}
	return r.InvalidateCache(ctx, problemID)
}

func (r *MySQLProblemRepository) UpdateDataPack(ctx context.Context, tx db.Transaction, problemID int64, key, hash string, testCaseCount int32) error {
	query := "UPDATE problems SET data_pack_key = ?, data_pack_hash = ?, test_case_count = ?, updated_at = NOW() WHERE id = ?"
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	result, err := querier.Exec(ctx, query, key, hash, testCaseCount, problemID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProblemNotFound
	}
	return r.InvalidateCache(ctx, problemID)
}

func (r *MySQLProblemRepository) GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*Problem, error) {
	if r.cache != nil && tx == nil {
		problem, err := cache.GetWithCached[*Problem](
			ctx,
			r.cache,
			problemInfoKey(problemID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(problem *Problem) bool { return problem == nil },
			marshalProblem,
			unmarshalProblem,
			func(ctx context.Context) (*Problem, error) {
				problem, err := r.getByIDFromDB(ctx, nil, problemID)
				if err != nil {
					if errors.Is(err, ErrProblemNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return problem, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if problem == nil {
			return nil, ErrProblemNotFound
		}
		return problem, nil
	}
	return r.getByIDFromDB(ctx, tx, problemID)
}

func (r *MySQLProblemRepository) List(ctx context.Context, filter ListFilter) ([]*Problem, int64, error) {
	where := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Difficulty != "" {
		where = append(where, "difficulty = ?")
		args = append(args, filter.Difficulty)
	}
	if filter.Tag != "" {
		where = append(where, "JSON_CONTAINS(tags, JSON_QUOTE(?))")
		args = append(args, filter.Tag)
	}
	if filter.Keyword != "" {
		where = append(where, "title LIKE ?")
		args = append(args, "%"+filter.Keyword+"%")
	}
	if filter.OwnerID > 0 {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
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
	countRow := querier.QueryRow(ctx, "SELECT COUNT(*) FROM problems"+whereClause, args...)
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

	query := "SELECT " + problemColumns + " FROM problems" + whereClause + " ORDER BY id DESC LIMIT ? OFFSET ?"
	listArgs := append(append([]interface{}{}, args...), pageSize, offset)

	rows, err := querier.Query(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	problems := make([]*Problem, 0, pageSize)
	for rows.Next() {
		problem, err := scanProblem(rows)
		if err != nil {
			return nil, 0, err
		}
		problems = append(problems, problem)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return problems, total, nil
}

func (r *MySQLProblemRepository) Exists(ctx context.Context, tx db.Transaction, problemID int64) (bool, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return false, err
	}
	row := querier.QueryRow(ctx, "SELECT 1 FROM problems WHERE id = ?", problemID)
	var one int
	if err := row.Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MySQLProblemRepository) Delete(ctx context.Context, tx db.Transaction, problemID int64) error {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	result, err := querier.Exec(ctx, "DELETE FROM problems WHERE id = ?", problemID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProblemNotFound
	}
	return r.InvalidateCache(ctx, problemID)
}

func (r *MySQLProblemRepository) InvalidateCache(ctx context.Context, problemID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, problemInfoKey(problemID))
}

func (r *MySQLProblemRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, problemID int64) (*Problem, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	row := querier.QueryRow(ctx, "SELECT "+problemColumns+" FROM problems WHERE id = ?", problemID)
	problem, err := scanProblem(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return problem, nil
}

func problemInfoKey(problemID int64) string {
	return problemInfoKeyPrefix + strconv.FormatInt(problemID, 10)
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	payload, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func marshalProblem(problem *Problem) string {
	payload, err := json.Marshal(problem)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalProblem(data string) (*Problem, error) {
	if data == "" {
		return nil, nil
	}
	var problem Problem
	if err := json.Unmarshal([]byte(data), &problem); err != nil {
		return nil, err
	}
	return &problem, nil
}

func scanProblem(scanner db.Scanner) (*Problem, error) {
	var problem Problem
	var tags sql.NullString
	var dataPackKey sql.NullString
	var dataPackHash sql.NullString

	err := scanner.Scan(
		&problem.ID,
		&problem.Title,
		&problem.Description,
		&problem.Difficulty,
		&tags,
		&problem.TimeLimitMS,
		&problem.MemoryLimitMB,
		&problem.Status,
		&problem.OwnerID,
		&problem.TestCaseCount,
		&dataPackKey,
		&dataPackHash,
		&problem.CreatedAt,
		&problem.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &problem.Tags); err != nil {
			problem.Tags = nil
		}
	}
	problem.DataPackKey = dataPackKey.String
	problem.DataPackHash = dataPackHash.String
	return &problem, nil
}
