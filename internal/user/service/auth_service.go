package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/common/db"
	"algoforge/internal/user/repository"
	pkgerrors "algoforge/pkg/errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultLoginFailTTL    = 15 * time.Minute
	defaultLoginFailLimit  = 5
)

// AuthServiceConfig holds configuration for AuthService.
type AuthServiceConfig struct {
	JWTSecret       []byte
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	LoginFailTTL    time.Duration
	LoginFailLimit  int
}

// StatsProvider supplies the aggregate counters achievements derive from.
type StatsProvider interface {
	SolvedCount(ctx context.Context, userID int64) (int64, error)
	VerdictCounts(ctx context.Context, userID int64) (map[string]int64, error)
	LanguageCounts(ctx context.Context, userID int64) (map[string]int64, error)
}

// AuthService owns accounts: registration, login, sessions, bans, profile
// and preferences.
type AuthService struct {
	dbProvider db.Provider
	users      repository.UserRepository
	sessions   repository.SessionRepository
	bans       repository.BanCacheRepository
	attempts   cache.BasicOps
	stats      StatsProvider
	config     AuthServiceConfig
}

// NewAuthService creates a new AuthService. stats may be nil; achievements
// then report none earned.
func NewAuthService(
	provider db.Provider,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	bans repository.BanCacheRepository,
	attempts cache.BasicOps,
	stats StatsProvider,
	cfg AuthServiceConfig,
) *AuthService {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if cfg.LoginFailTTL == 0 {
		cfg.LoginFailTTL = defaultLoginFailTTL
	}
	if cfg.LoginFailLimit == 0 {
		cfg.LoginFailLimit = defaultLoginFailLimit
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "algoforge"
	}

	return &AuthService{
		dbProvider: provider,
		users:      users,
		sessions:   sessions,
		bans:       bans,
		attempts:   attempts,
		stats:      stats,
		config:     cfg,
	}
}

// RegisterInput represents input for user registration.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput represents input for user login.
type LoginInput struct {
	Username   string
	Password   string
	IP         string
	DeviceInfo string
}

// ChangePasswordInput represents input for a password change.
type ChangePasswordInput struct {
	UserID      int64
	OldPassword string
	NewPassword string
}

// UserInfo represents basic user info for auth responses.
type UserInfo struct {
	ID       int64
	Username string
	Role     repository.UserRole
}

// AuthResult represents the result of auth operations.
type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             UserInfo
}

// Register creates an active account and opens a first session. There is no
// email verification step; accounts are usable immediately.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	if err := validateUsername(input.Username); err != nil {
		return AuthResult{}, err
	}
	if err := validateEmail(input.Email); err != nil {
		return AuthResult{}, err
	}
	if err := validatePassword(input.Password); err != nil {
		return AuthResult{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("hash password failed: %w", err), pkgerrors.InternalServerError)
	}

	user := &repository.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: string(passwordHash),
		Role:         repository.UserRoleUser,
		Status:       repository.UserStatusActive,
	}

	var result AuthResult
	err = s.withTransaction(ctx, func(tx db.Transaction) error {
		if _, createErr := s.users.Create(ctx, tx, user); createErr != nil {
			return mapUserCreateError(createErr)
		}
		opened, sessionErr := s.openSession(ctx, tx, user, "", "")
		if sessionErr != nil {
			return sessionErr
		}
		result = opened
		return nil
	})
	if err != nil {
		return AuthResult{}, err
	}
	return result, nil
}

// Login verifies credentials and opens a session. Repeated failures from
// the same username and IP are throttled.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	if err := validateUsername(input.Username); err != nil {
		return AuthResult{}, err
	}
	if err := validateLoginPassword(input.Password); err != nil {
		return AuthResult{}, err
	}
	if err := s.checkLoginLimit(ctx, input.Username, input.IP); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.GetByUsername(ctx, nil, input.Username)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			s.recordLoginFailure(ctx, input.Username, input.IP)
			return AuthResult{}, pkgerrors.New(pkgerrors.InvalidCredentials)
		}
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("get user failed: %w", err), pkgerrors.DatabaseError)
	}
	if user.Status == repository.UserStatusBanned {
		return AuthResult{}, pkgerrors.New(pkgerrors.AccountSuspended)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordLoginFailure(ctx, input.Username, input.IP)
		return AuthResult{}, pkgerrors.New(pkgerrors.InvalidCredentials)
	}
	s.clearLoginFailure(ctx, input.Username, input.IP)

	var result AuthResult
	err = s.withTransaction(ctx, func(tx db.Transaction) error {
		opened, sessionErr := s.openSession(ctx, tx, user, input.DeviceInfo, input.IP)
		if sessionErr != nil {
			return sessionErr
		}
		result = opened
		return nil
	})
	if err != nil {
		return AuthResult{}, err
	}
	return result, nil
}

// ChangePassword verifies the old password, stores the new hash and revokes
// every open session, so stolen refresh tokens die with the old password.
func (s *AuthService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	if err := validatePassword(input.NewPassword); err != nil {
		return err
	}

	user, err := s.getUserByID(ctx, input.UserID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.OldPassword)); err != nil {
		return pkgerrors.New(pkgerrors.InvalidCredentials)
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return pkgerrors.Wrap(fmt.Errorf("hash password failed: %w", err), pkgerrors.InternalServerError)
	}

	return s.withTransaction(ctx, func(tx db.Transaction) error {
		if err := s.users.UpdatePassword(ctx, tx, input.UserID, string(newHash)); err != nil {
			return pkgerrors.Wrap(fmt.Errorf("update password failed: %w", err), pkgerrors.DatabaseError)
		}
		if err := s.sessions.RevokeAllForUser(ctx, tx, input.UserID); err != nil {
			return pkgerrors.Wrap(fmt.Errorf("revoke sessions failed: %w", err), pkgerrors.DatabaseError)
		}
		return nil
	})
}

func (s *AuthService) withTransaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	database, err := db.CurrentDatabase(s.dbProvider)
	if err != nil {
		return fn(nil)
	}
	if err := database.Transaction(ctx, fn); err != nil {
		if _, ok := err.(*pkgerrors.Error); ok {
			return err
		}
		return pkgerrors.Wrap(fmt.Errorf("transaction failed: %w", err), pkgerrors.TransactionFailed)
	}
	return nil
}

func (s *AuthService) getUserByID(ctx context.Context, userID int64) (*repository.User, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			return nil, pkgerrors.New(pkgerrors.UserNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get user failed: %w", err), pkgerrors.DatabaseError)
	}
	return user, nil
}

func mapUserCreateError(err error) error {
	switch {
	case stderrors.Is(err, repository.ErrUsernameExists):
		return pkgerrors.New(pkgerrors.UsernameAlreadyExists)
	case stderrors.Is(err, repository.ErrEmailExists):
		return pkgerrors.New(pkgerrors.EmailAlreadyExists)
	case stderrors.Is(err, repository.ErrDuplicate):
		return pkgerrors.New(pkgerrors.RecordAlreadyExists)
	default:
		return pkgerrors.Wrap(fmt.Errorf("create user failed: %w", err), pkgerrors.DatabaseError)
	}
}
