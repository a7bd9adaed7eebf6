package controller

import (
	"time"

	"algoforge/internal/user/service"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// GetProfile returns the authenticated user's profile.
func (h *AuthController) GetProfile(c *gin.Context) {
	profile, err := h.authService.GetProfile(c.Request.Context(), c.GetInt64("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toProfileResponse(profile))
}

// UpdateProfile replaces the authenticated user's profile fields.
func (h *AuthController) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	profile, err := h.authService.UpdateProfile(c.Request.Context(), c.GetInt64("user_id"), service.UpdateProfileInput{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		Location:    req.Location,
		Website:     req.Website,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toProfileResponse(profile))
}

// GetPreferences returns the authenticated user's practice preferences.
func (h *AuthController) GetPreferences(c *gin.Context) {
	prefs, err := h.authService.GetPreferences(c.Request.Context(), c.GetInt64("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toPreferencesResponse(prefs))
}

// UpdatePreferences replaces the authenticated user's practice preferences.
func (h *AuthController) UpdatePreferences(c *gin.Context) {
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	prefs, err := h.authService.UpdatePreferences(c.Request.Context(), c.GetInt64("user_id"), service.Preferences{
		Language:   req.Language,
		Difficulty: req.Difficulty,
		Topics:     req.Topics,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toPreferencesResponse(prefs))
}

// Achievements returns the authenticated user's earned milestones.
func (h *AuthController) Achievements(c *gin.Context) {
	earned, err := h.authService.Achievements(c.Request.Context(), c.GetInt64("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]AchievementResponse, 0, len(earned))
	for _, achievement := range earned {
		items = append(items, AchievementResponse{
			ID:          achievement.ID,
			Name:        achievement.Name,
			Description: achievement.Description,
		})
	}
	response.Success(c, AchievementsResponse{Achievements: items})
}

// UpdateProfileRequest defines the profile edit payload.
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	Location    string `json:"location"`
	Website     string `json:"website"`
	AvatarURL   string `json:"avatar_url"`
}

// PreferencesRequest defines the preferences payload.
type PreferencesRequest struct {
	Language   string   `json:"language"`
	Difficulty string   `json:"difficulty"`
	Topics     []string `json:"topics"`
}

// PreferencesResponse defines the preferences view.
type PreferencesResponse struct {
	Language   string   `json:"language"`
	Difficulty string   `json:"difficulty"`
	Topics     []string `json:"topics"`
}

// ProfileResponse defines the profile view.
type ProfileResponse struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	Location    string    `json:"location,omitempty"`
	Website     string    `json:"website,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AchievementResponse is one earned milestone.
type AchievementResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AchievementsResponse defines the achievements view.
type AchievementsResponse struct {
	Achievements []AchievementResponse `json:"achievements"`
}

func toProfileResponse(profile service.Profile) ProfileResponse {
	return ProfileResponse{
		ID:          profile.ID,
		Username:    profile.Username,
		Email:       profile.Email,
		Role:        string(profile.Role),
		DisplayName: profile.DisplayName,
		Bio:         profile.Bio,
		Location:    profile.Location,
		Website:     profile.Website,
		AvatarURL:   profile.AvatarURL,
		CreatedAt:   profile.CreatedAt,
	}
}

func toPreferencesResponse(prefs service.Preferences) PreferencesResponse {
	topics := prefs.Topics
	if topics == nil {
		topics = []string{}
	}
	return PreferencesResponse{
		Language:   prefs.Language,
		Difficulty: prefs.Difficulty,
		Topics:     topics,
	}
}
