package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"algoforge/internal/common/db"
	"algoforge/internal/user/repository"
	pkgerrors "algoforge/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// sessionClaims carries identity, role and token type inside the JWT.
type sessionClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// RefreshInput represents input for token refresh.
type RefreshInput struct {
	RefreshToken string
}

// LogoutInput represents input for logout.
type LogoutInput struct {
	RefreshToken string
}

// openSession signs an access/refresh token pair and persists the refresh
// side. Access tokens stay stateless; they expire on their own.
func (s *AuthService) openSession(ctx context.Context, tx db.Transaction, user *repository.User, deviceInfo, ip string) (AuthResult, error) {
	accessToken, accessExp, err := s.signToken(user, tokenTypeAccess, s.config.AccessTokenTTL)
	if err != nil {
		return AuthResult{}, err
	}
	refreshToken, refreshExp, err := s.signToken(user, tokenTypeRefresh, s.config.RefreshTokenTTL)
	if err != nil {
		return AuthResult{}, err
	}

	if err := s.sessions.Create(ctx, tx, &repository.RefreshSession{
		UserID:     user.ID,
		TokenHash:  hashToken(refreshToken),
		DeviceInfo: deviceInfo,
		IPAddress:  ip,
		ExpiresAt:  refreshExp,
	}); err != nil {
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("create session failed: %w", err), pkgerrors.DatabaseError)
	}

	return AuthResult{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		User: UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Role:     user.Role,
		},
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// session is opened on the same device record.
func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (AuthResult, error) {
	userID, err := s.verifyToken(input.RefreshToken, tokenTypeRefresh)
	if err != nil {
		return AuthResult{}, err
	}

	hash := hashToken(input.RefreshToken)
	session, err := s.lookupSession(ctx, hash, userID)
	if err != nil {
		return AuthResult{}, err
	}

	var result AuthResult
	err = s.withTransaction(ctx, func(tx db.Transaction) error {
		if err := s.sessions.Revoke(ctx, tx, hash, session.ExpiresAt); err != nil {
			if stderrors.Is(err, repository.ErrSessionNotFound) {
				return pkgerrors.New(pkgerrors.TokenInvalid)
			}
			return pkgerrors.Wrap(fmt.Errorf("revoke session failed: %w", err), pkgerrors.DatabaseError)
		}

		user, err := s.getUserByID(ctx, session.UserID)
		if err != nil {
			return err
		}
		if user.Status == repository.UserStatusBanned {
			return pkgerrors.New(pkgerrors.AccountSuspended)
		}

		opened, sessionErr := s.openSession(ctx, tx, user, session.DeviceInfo, session.IPAddress)
		if sessionErr != nil {
			return sessionErr
		}
		result = opened
		return nil
	})
	return result, err
}

// Logout revokes the presented refresh token. The paired access token is
// short-lived and simply runs out.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) error {
	userID, err := s.verifyToken(input.RefreshToken, tokenTypeRefresh)
	if err != nil {
		return err
	}

	hash := hashToken(input.RefreshToken)
	session, err := s.sessions.GetByHash(ctx, nil, hash)
	if err != nil {
		if stderrors.Is(err, repository.ErrSessionNotFound) {
			return pkgerrors.New(pkgerrors.TokenInvalid)
		}
		return pkgerrors.Wrap(fmt.Errorf("get session failed: %w", err), pkgerrors.DatabaseError)
	}
	if session.UserID != userID {
		return pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if session.Revoked {
		return nil
	}

	if err := s.sessions.Revoke(ctx, nil, hash, session.ExpiresAt); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("revoke session failed: %w", err), pkgerrors.DatabaseError)
	}
	return nil
}

// Authenticate validates an access token and returns the caller's identity.
// Runs on every protected request, so it leans on the ban cache and the
// cached user row.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (UserInfo, error) {
	userID, err := s.verifyToken(accessToken, tokenTypeAccess)
	if err != nil {
		return UserInfo{}, err
	}

	if s.bans != nil {
		if banned, banErr := s.bans.IsUserBanned(ctx, userID); banErr == nil && banned {
			return UserInfo{}, pkgerrors.New(pkgerrors.AccountSuspended)
		}
	}

	user, err := s.getUserByID(ctx, userID)
	if err != nil {
		return UserInfo{}, err
	}
	if user.Status == repository.UserStatusBanned {
		return UserInfo{}, pkgerrors.New(pkgerrors.AccountSuspended)
	}

	return UserInfo{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
	}, nil
}

// lookupSession fetches a refresh session by hash and rejects anything that
// is revoked, expired or belongs to another user.
func (s *AuthService) lookupSession(ctx context.Context, hash string, userID int64) (*repository.RefreshSession, error) {
	session, err := s.sessions.GetByHash(ctx, nil, hash)
	if err != nil {
		if stderrors.Is(err, repository.ErrSessionNotFound) {
			return nil, pkgerrors.New(pkgerrors.TokenInvalid)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get session failed: %w", err), pkgerrors.DatabaseError)
	}
	if session.Revoked || session.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, pkgerrors.New(pkgerrors.TokenExpired)
	}

	revoked, err := s.sessions.IsRevoked(ctx, hash)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("check session revocation failed: %w", err), pkgerrors.CacheError)
	}
	if revoked {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return session, nil
}

func (s *AuthService) signToken(user *repository.User, tokenType string, ttl time.Duration) (string, time.Time, error) {
	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", time.Time{}, pkgerrors.Wrap(fmt.Errorf("generate token id failed: %w", err), pkgerrors.TokenGenerationFailed)
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := sessionClaims{
		Role:      string(user.Role),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(jti),
			Issuer:    s.config.JWTIssuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.JWTSecret)
	if err != nil {
		return "", time.Time{}, pkgerrors.Wrap(fmt.Errorf("sign token failed: %w", err), pkgerrors.TokenGenerationFailed)
	}
	return signed, expiresAt, nil
}

// verifyToken parses and validates a JWT of the expected type and returns
// the subject user id.
func (s *AuthService) verifyToken(tokenString, expectedType string) (int64, error) {
	if tokenString == "" {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.config.JWTSecret, nil
	}, jwt.WithIssuer(s.config.JWTIssuer))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return 0, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if !token.Valid || claims.TokenType != expectedType {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return userID, nil
}

// hashToken produces a storable digest so raw tokens never hit the database.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func loginFailKey(username, ip string) string {
	return fmt.Sprintf("auth:login_fail:%s:%s", username, ip)
}

func (s *AuthService) checkLoginLimit(ctx context.Context, username, ip string) error {
	if s.attempts == nil {
		return nil
	}
	raw, err := s.attempts.Get(ctx, loginFailKey(username, ip))
	if err != nil || raw == "" {
		return nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	if count >= s.config.LoginFailLimit {
		return pkgerrors.New(pkgerrors.TooManyRequests).
			WithMessage("too many failed login attempts, please try again later")
	}
	return nil
}

func (s *AuthService) recordLoginFailure(ctx context.Context, username, ip string) {
	if s.attempts == nil {
		return
	}
	key := loginFailKey(username, ip)
	count, err := s.attempts.Incr(ctx, key)
	if err != nil {
		return
	}
	if count == 1 {
		_ = s.attempts.Expire(ctx, key, s.config.LoginFailTTL)
	}
}

func (s *AuthService) clearLoginFailure(ctx context.Context, username, ip string) {
	if s.attempts == nil {
		return
	}
	_ = s.attempts.Del(ctx, loginFailKey(username, ip))
}
