package controller

import (
	"strconv"
	"strings"
	"time"

	"algoforge/internal/user/service"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AuthController handles auth-related HTTP endpoints.
type AuthController struct {
	authService *service.AuthService
}

// NewAuthController creates a new AuthController.
func NewAuthController(authService *service.AuthService) *AuthController {
	return &AuthController{authService: authService}
}

// Register handles user registration.
func (h *AuthController) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	result, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, toAuthResponse(result))
}

// Login handles user login.
func (h *AuthController) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Username:   strings.TrimSpace(req.Username),
		Password:   req.Password,
		IP:         c.ClientIP(),
		DeviceInfo: c.GetHeader("User-Agent"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, toAuthResponse(result))
}

// Refresh handles token refresh.
func (h *AuthController) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), service.RefreshInput{
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, toAuthResponse(result))
}

// Logout handles refresh token revocation.
func (h *AuthController) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), service.LogoutInput{
		RefreshToken: req.RefreshToken,
	}); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "Logout success", nil)
}

// Me returns the authenticated user's profile.
func (h *AuthController) Me(c *gin.Context) {
	userID := c.GetInt64("user_id")
	if userID == 0 {
		response.Unauthorized(c, "")
		return
	}

	profile, err := h.authService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, toProfileResponse(profile))
}

// ChangePassword rotates the authenticated user's password and
// revokes every open session.
func (h *AuthController) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), service.ChangePasswordInput{
		UserID:      c.GetInt64("user_id"),
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
	}); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "Password updated", nil)
}

// Ban suspends an account. Admin only.
func (h *AuthController) Ban(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	if err := h.authService.BanUser(c.Request.Context(), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Unban restores a suspended account. Admin only.
func (h *AuthController) Unban(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	if err := h.authService.UnbanUser(c.Request.Context(), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func userIDParam(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(c, "Invalid user id")
		return 0, false
	}
	return userID, true
}

// RegisterRequest defines registration payload.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest defines login payload.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest defines refresh payload.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// LogoutRequest defines logout payload.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// AuthResponse defines auth response payload.
type AuthResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	User             UserInfo  `json:"user"`
}

// UserInfo defines basic user info payload.
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ChangePasswordRequest defines the password rotation payload.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func toAuthResponse(result service.AuthResult) AuthResponse {
	return AuthResponse{
		AccessToken:      result.AccessToken,
		RefreshToken:     result.RefreshToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshExpiresAt: result.RefreshExpiresAt,
		User: UserInfo{
			ID:       result.User.ID,
			Username: result.User.Username,
			Role:     string(result.User.Role),
		},
	}
}
