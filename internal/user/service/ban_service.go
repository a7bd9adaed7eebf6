package service

import (
	"context"
	"fmt"
	"time"

	"algoforge/internal/user/repository"
	pkgerrors "algoforge/pkg/errors"
	"algoforge/pkg/utils/logger"

	"go.uber.org/zap"
)

const banCacheTTL = 24 * time.Hour

// BanUser suspends an account and revokes its open sessions. The database
// row is the source of truth; the ban cache only short-circuits token checks.
func (s *AuthService) BanUser(ctx context.Context, userID int64) error {
	user, err := s.getUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role == repository.UserRoleAdmin {
		return pkgerrors.New(pkgerrors.Forbidden).WithMessage("cannot ban an admin account")
	}
	if user.Status == repository.UserStatusBanned {
		return nil
	}
	if err := s.users.UpdateStatus(ctx, nil, userID, repository.UserStatusBanned); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("update user status failed: %w", err), pkgerrors.DatabaseError)
	}
	if err := s.sessions.RevokeAllForUser(ctx, nil, userID); err != nil {
		logger.Warn(ctx, "revoke sessions on ban failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	if s.bans != nil {
		if err := s.bans.MarkBanned(ctx, userID, banCacheTTL); err != nil {
			logger.Warn(ctx, "mark ban cache failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// UnbanUser restores a suspended account. Revoked sessions stay revoked;
// the user logs in again.
func (s *AuthService) UnbanUser(ctx context.Context, userID int64) error {
	user, err := s.getUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status != repository.UserStatusBanned {
		return nil
	}
	if err := s.users.UpdateStatus(ctx, nil, userID, repository.UserStatusActive); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("update user status failed: %w", err), pkgerrors.DatabaseError)
	}
	if s.bans != nil {
		if err := s.bans.UnmarkBanned(ctx, userID); err != nil {
			logger.Warn(ctx, "clear ban cache failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}
