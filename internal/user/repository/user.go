package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/common/db"
)

type UserStatus string

const (
	UserStatusActive UserStatus = "active"
	UserStatusBanned UserStatus = "banned"
)

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// User is one account row. Profile and preference fields are optional and
// empty until the user fills them in.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         UserRole
	Status       UserStatus

	DisplayName string
	Bio         string
	Location    string
	Website     string
	AvatarURL   string

	PreferredLanguage   string
	PreferredDifficulty string
	PreferredTopics     []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	DisplayName string
	Bio         string
	Location    string
	Website     string
	AvatarURL   string
}

// PreferencesUpdate carries the editable practice preferences.
type PreferencesUpdate struct {
	Language   string
	Difficulty string
	Topics     []string
}

type UserRepository interface {
	Create(ctx context.Context, tx db.Transaction, user *User) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, id int64) (*User, error)
	GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error)
	UpdatePassword(ctx context.Context, tx db.Transaction, userID int64, newHash string) error
	UpdateStatus(ctx context.Context, tx db.Transaction, userID int64, status UserStatus) error
	UpdateProfile(ctx context.Context, tx db.Transaction, userID int64, profile ProfileUpdate) error
	UpdatePreferences(ctx context.Context, tx db.Transaction, userID int64, prefs PreferencesUpdate) error
}

const (
	userIDKeyPrefix = "user:id:"

	defaultUserCacheTTL      = 30 * time.Minute
	defaultUserCacheEmptyTTL = 5 * time.Minute
)

const userColumns = "id, username, email, password_hash, role, status, " +
	"display_name, bio, location, website, avatar_url, " +
	"pref_language, pref_difficulty, pref_topics, created_at, updated_at"

// MySQLUserRepository stores accounts in MySQL. Only the by-ID lookup is
// cached: it runs on every authenticated request, while username lookups
// only happen at login.
type MySQLUserRepository struct {
	dbProvider db.Provider
	cache      cache.Cache
	ttl        time.Duration
	emptyTTL   time.Duration
}

func NewUserRepository(provider db.Provider, cacheClient cache.Cache) UserRepository {
	return NewUserRepositoryWithTTL(provider, cacheClient, defaultUserCacheTTL, defaultUserCacheEmptyTTL)
}

func NewUserRepositoryWithTTL(provider db.Provider, cacheClient cache.Cache, ttl, emptyTTL time.Duration) UserRepository {
	if ttl <= 0 {
		ttl = defaultUserCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultUserCacheEmptyTTL
	}
	return &MySQLUserRepository{
		dbProvider: provider,
		cache:      cacheClient,
		ttl:        ttl,
		emptyTTL:   emptyTTL,
	}
}

func (r *MySQLUserRepository) Create(ctx context.Context, tx db.Transaction, user *User) (int64, error) {
	if user == nil {
		return 0, errors.New("user is nil")
	}
	if user.Role == "" {
		user.Role = UserRoleUser
	}
	if user.Status == "" {
		user.Status = UserStatusActive
	}

	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return 0, err
	}
	result, err := querier.Exec(ctx,
		"INSERT INTO users (username, email, password_hash, role, status) VALUES (?, ?, ?, ?, ?)",
		user.Username, user.Email, user.PasswordHash, user.Role, user.Status)
	if err != nil {
		return 0, mapInsertError(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	user.ID = id
	return id, nil
}

func mapInsertError(err error) error {
	key, ok := db.UniqueViolation(err)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(strings.ToLower(key), "username"):
		return ErrUsernameExists
	case strings.Contains(strings.ToLower(key), "email"):
		return ErrEmailExists
	default:
		return ErrDuplicate
	}
}

func (r *MySQLUserRepository) GetByID(ctx context.Context, tx db.Transaction, id int64) (*User, error) {
	if r.cache == nil || tx != nil {
		return r.fetchByID(ctx, tx, id)
	}

	user, err := cache.GetWithCached[*User](
		ctx,
		r.cache,
		userIDKey(id),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(user *User) bool { return user == nil },
		marshalUser,
		unmarshalUser,
		func(ctx context.Context) (*User, error) {
			user, err := r.fetchByID(ctx, nil, id)
			if errors.Is(err, ErrUserNotFound) {
				return nil, nil
			}
			return user, err
		},
	)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (r *MySQLUserRepository) GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	row := querier.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	return scanUserRow(row)
}

func (r *MySQLUserRepository) UpdatePassword(ctx context.Context, tx db.Transaction, userID int64, newHash string) error {
	return r.update(ctx, tx, userID,
		"UPDATE users SET password_hash = ?, updated_at = NOW() WHERE id = ?", newHash, userID)
}

func (r *MySQLUserRepository) UpdateStatus(ctx context.Context, tx db.Transaction, userID int64, status UserStatus) error {
	return r.update(ctx, tx, userID,
		"UPDATE users SET status = ?, updated_at = NOW() WHERE id = ?", status, userID)
}

func (r *MySQLUserRepository) UpdateProfile(ctx context.Context, tx db.Transaction, userID int64, profile ProfileUpdate) error {
	return r.update(ctx, tx, userID,
		"UPDATE users SET display_name = ?, bio = ?, location = ?, website = ?, avatar_url = ?, updated_at = NOW() WHERE id = ?",
		nullable(profile.DisplayName), nullable(profile.Bio), nullable(profile.Location),
		nullable(profile.Website), nullable(profile.AvatarURL), userID)
}

func (r *MySQLUserRepository) UpdatePreferences(ctx context.Context, tx db.Transaction, userID int64, prefs PreferencesUpdate) error {
	topics, err := marshalTopics(prefs.Topics)
	if err != nil {
		return err
	}
	return r.update(ctx, tx, userID,
		"UPDATE users SET pref_language = ?, pref_difficulty = ?, pref_topics = ?, updated_at = NOW() WHERE id = ?",
		nullable(prefs.Language), nullable(prefs.Difficulty), topics, userID)
}

// update runs one UPDATE ... WHERE id = ? statement and drops the cached row.
func (r *MySQLUserRepository) update(ctx context.Context, tx db.Transaction, userID int64, query string, args ...interface{}) error {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	result, err := querier.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	if r.cache != nil {
		_ = r.cache.Del(ctx, userIDKey(userID))
	}
	return nil
}

func (r *MySQLUserRepository) fetchByID(ctx context.Context, tx db.Transaction, id int64) (*User, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	row := querier.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUserRow(row)
}

func scanUserRow(row db.Row) (*User, error) {
	var user User
	var displayName, bio, location, website, avatarURL sql.NullString
	var prefLanguage, prefDifficulty, prefTopics sql.NullString

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Status,
		&displayName,
		&bio,
		&location,
		&website,
		&avatarURL,
		&prefLanguage,
		&prefDifficulty,
		&prefTopics,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	user.DisplayName = displayName.String
	user.Bio = bio.String
	user.Location = location.String
	user.Website = website.String
	user.AvatarURL = avatarURL.String
	user.PreferredLanguage = prefLanguage.String
	user.PreferredDifficulty = prefDifficulty.String
	if prefTopics.Valid && prefTopics.String != "" {
		if err := json.Unmarshal([]byte(prefTopics.String), &user.PreferredTopics); err != nil {
			return nil, err
		}
	}
	return &user, nil
}

func marshalTopics(topics []string) (interface{}, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(topics)
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

func nullable(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func userIDKey(id int64) string {
	return userIDKeyPrefix + formatID(id)
}

func marshalUser(user *User) string {
	payload, err := json.Marshal(user)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalUser(data string) (*User, error) {
	if data == "" {
		return nil, nil
	}
	var user User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	return &user, nil
}
