package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/common/db"
)

// RefreshSession is one persisted refresh token. Access tokens are stateless
// JWTs and never hit the database; only the long-lived refresh side is
// recorded so it can be rotated and revoked.
type RefreshSession struct {
	ID         int64
	UserID     int64
	TokenHash  string
	DeviceInfo string
	IPAddress  string
	ExpiresAt  time.Time
	Revoked    bool
	CreatedAt  time.Time
}

type SessionRepository interface {
	Create(ctx context.Context, tx db.Transaction, session *RefreshSession) error
	GetByHash(ctx context.Context, tx db.Transaction, tokenHash string) (*RefreshSession, error)
	Revoke(ctx context.Context, tx db.Transaction, tokenHash string, expiresAt time.Time) error
	RevokeAllForUser(ctx context.Context, tx db.Transaction, userID int64) error
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
}

const revokedKeyPrefix = "auth:revoked:"

const sessionColumns = "id, user_id, token_hash, device_info, ip_address, expires_at, revoked, created_at"

// MySQLSessionRepository stores refresh sessions in MySQL and mirrors
// revocations into redis so token checks stay off the database.
type MySQLSessionRepository struct {
	dbProvider db.Provider
	cache      cache.Cache
}

func NewSessionRepository(provider db.Provider, cacheClient cache.Cache) SessionRepository {
	return &MySQLSessionRepository{dbProvider: provider, cache: cacheClient}
}

func (r *MySQLSessionRepository) Create(ctx context.Context, tx db.Transaction, session *RefreshSession) error {
	if session == nil {
		return errors.New("session is nil")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	_, err = querier.Exec(ctx,
		"INSERT INTO refresh_sessions (user_id, token_hash, device_info, ip_address, expires_at, revoked) VALUES (?, ?, ?, ?, ?, ?)",
		session.UserID,
		session.TokenHash,
		nullable(session.DeviceInfo),
		nullable(session.IPAddress),
		session.ExpiresAt,
		session.Revoked,
	)
	return err
}

func (r *MySQLSessionRepository) GetByHash(ctx context.Context, tx db.Transaction, tokenHash string) (*RefreshSession, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	row := querier.QueryRow(ctx, "SELECT "+sessionColumns+" FROM refresh_sessions WHERE token_hash = ?", tokenHash)
	return scanSession(row)
}

func (r *MySQLSessionRepository) Revoke(ctx context.Context, tx db.Transaction, tokenHash string, expiresAt time.Time) error {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	result, err := querier.Exec(ctx, "UPDATE refresh_sessions SET revoked = TRUE WHERE token_hash = ?", tokenHash)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return r.markRevoked(ctx, tokenHash, expiresAt)
}

func (r *MySQLSessionRepository) RevokeAllForUser(ctx context.Context, tx db.Transaction, userID int64) error {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}

	now := time.Now()
	rows, err := querier.Query(ctx,
		"SELECT token_hash, expires_at FROM refresh_sessions WHERE user_id = ? AND revoked = FALSE AND expires_at > ?",
		userID, now)
	if err != nil {
		return err
	}
	defer rows.Close()

	live := make([]RefreshSession, 0, 4)
	for rows.Next() {
		var session RefreshSession
		if err := rows.Scan(&session.TokenHash, &session.ExpiresAt); err != nil {
			return err
		}
		live = append(live, session)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := querier.Exec(ctx, "UPDATE refresh_sessions SET revoked = TRUE WHERE user_id = ?", userID); err != nil {
		return err
	}
	for _, session := range live {
		if err := r.markRevoked(ctx, session.TokenHash, session.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *MySQLSessionRepository) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	if r.cache == nil {
		return false, errors.New("cache is nil")
	}
	count, err := r.cache.Exists(ctx, revokedKeyPrefix+tokenHash)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// markRevoked writes a redis tombstone that lives exactly as long as the
// token could still be replayed.
func (r *MySQLSessionRepository) markRevoked(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	if r.cache == nil {
		return errors.New("cache is nil")
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.cache.Set(ctx, revokedKeyPrefix+tokenHash, "1", ttl)
}

func scanSession(row db.Row) (*RefreshSession, error) {
	var session RefreshSession
	var deviceInfo, ipAddress sql.NullString

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&deviceInfo,
		&ipAddress,
		&session.ExpiresAt,
		&session.Revoked,
		&session.CreatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	session.DeviceInfo = deviceInfo.String
	session.IPAddress = ipAddress.String
	return &session, nil
}
