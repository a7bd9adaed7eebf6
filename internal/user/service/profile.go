package service

import (
	"context"
	"strings"
	"time"

	"algoforge/internal/judge/executor"
	"algoforge/internal/user/repository"
	pkgerrors "algoforge/pkg/errors"
)

const (
	maxDisplayNameLength = 100
	maxBioLength         = 500
	maxLocationLength    = 100
	maxWebsiteLength     = 200
	maxAvatarURLLength   = 255
	maxPreferredTopics   = 20
	maxTopicLength       = 32
)

// Profile is the account view a user sees and edits.
type Profile struct {
	ID          int64
	Username    string
	Email       string
	Role        repository.UserRole
	DisplayName string
	Bio         string
	Location    string
	Website     string
	AvatarURL   string
	CreatedAt   time.Time
}

// Preferences are the user's practice defaults.
type Preferences struct {
	Language   string
	Difficulty string
	Topics     []string
}

// Achievement is one earned milestone, derived from submission statistics
// rather than stored.
type Achievement struct {
	ID          string
	Name        string
	Description string
}

// GetProfile returns the profile for the given user id.
func (s *AuthService) GetProfile(ctx context.Context, userID int64) (Profile, error) {
	user, err := s.getUserByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Role:        user.Role,
		DisplayName: user.DisplayName,
		Bio:         user.Bio,
		Location:    user.Location,
		Website:     user.Website,
		AvatarURL:   user.AvatarURL,
		CreatedAt:   user.CreatedAt,
	}, nil
}

// UpdateProfileInput carries the editable profile fields. Empty fields clear
// the stored value.
type UpdateProfileInput struct {
	DisplayName string
	Bio         string
	Location    string
	Website     string
	AvatarURL   string
}

// UpdateProfile validates and stores the user's profile fields.
func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, input UpdateProfileInput) (Profile, error) {
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	input.Bio = strings.TrimSpace(input.Bio)
	input.Location = strings.TrimSpace(input.Location)
	input.Website = strings.TrimSpace(input.Website)
	input.AvatarURL = strings.TrimSpace(input.AvatarURL)

	if len(input.DisplayName) > maxDisplayNameLength {
		return Profile{}, pkgerrors.ValidationError("display_name", "must be at most 100 characters")
	}
	if len(input.Bio) > maxBioLength {
		return Profile{}, pkgerrors.ValidationError("bio", "must be at most 500 characters")
	}
	if len(input.Location) > maxLocationLength {
		return Profile{}, pkgerrors.ValidationError("location", "must be at most 100 characters")
	}
	if err := validateURLField("website", input.Website, maxWebsiteLength); err != nil {
		return Profile{}, err
	}
	if err := validateURLField("avatar_url", input.AvatarURL, maxAvatarURLLength); err != nil {
		return Profile{}, err
	}

	err := s.users.UpdateProfile(ctx, nil, userID, repository.ProfileUpdate{
		DisplayName: input.DisplayName,
		Bio:         input.Bio,
		Location:    input.Location,
		Website:     input.Website,
		AvatarURL:   input.AvatarURL,
	})
	if err != nil {
		return Profile{}, mapUserUpdateError(err)
	}
	return s.GetProfile(ctx, userID)
}

// GetPreferences returns the user's practice preferences.
func (s *AuthService) GetPreferences(ctx context.Context, userID int64) (Preferences, error) {
	user, err := s.getUserByID(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	return Preferences{
		Language:   user.PreferredLanguage,
		Difficulty: user.PreferredDifficulty,
		Topics:     user.PreferredTopics,
	}, nil
}

// UpdatePreferences validates and stores the user's practice preferences.
// The preferred language must be one the judge can actually run.
func (s *AuthService) UpdatePreferences(ctx context.Context, userID int64, prefs Preferences) (Preferences, error) {
	prefs.Language = strings.ToLower(strings.TrimSpace(prefs.Language))
	if prefs.Language != "" && !executor.IsSupported(prefs.Language) {
		return Preferences{}, pkgerrors.ValidationError("language", "is not a supported language")
	}

	prefs.Difficulty = strings.ToLower(strings.TrimSpace(prefs.Difficulty))
	switch prefs.Difficulty {
	case "", "easy", "medium", "hard":
	default:
		return Preferences{}, pkgerrors.ValidationError("difficulty", "must be easy, medium or hard")
	}

	if len(prefs.Topics) > maxPreferredTopics {
		return Preferences{}, pkgerrors.ValidationError("topics", "must be at most 20 entries")
	}
	topics := make([]string, 0, len(prefs.Topics))
	for _, topic := range prefs.Topics {
		trimmed := strings.ToLower(strings.TrimSpace(topic))
		if trimmed == "" || len(trimmed) > maxTopicLength {
			return Preferences{}, pkgerrors.ValidationError("topics", "entries must be 1-32 characters")
		}
		topics = append(topics, trimmed)
	}
	prefs.Topics = topics

	err := s.users.UpdatePreferences(ctx, nil, userID, repository.PreferencesUpdate{
		Language:   prefs.Language,
		Difficulty: prefs.Difficulty,
		Topics:     prefs.Topics,
	})
	if err != nil {
		return Preferences{}, mapUserUpdateError(err)
	}
	return prefs, nil
}

// Achievements derives the user's earned milestones from their submission
// statistics.
func (s *AuthService) Achievements(ctx context.Context, userID int64) ([]Achievement, error) {
	if _, err := s.getUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if s.stats == nil {
		return []Achievement{}, nil
	}

	solved, err := s.stats.SolvedCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	verdicts, err := s.stats.VerdictCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	languages, err := s.stats.LanguageCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, count := range verdicts {
		total += count
	}
	accepted := verdicts["accepted"]

	earned := make([]Achievement, 0, 6)
	if accepted >= 1 {
		earned = append(earned, Achievement{
			ID:          "first_accepted",
			Name:        "First Blood",
			Description: "Get a submission accepted",
		})
	}
	if solved >= 10 {
		earned = append(earned, Achievement{
			ID:          "solved_10",
			Name:        "Problem Solver",
			Description: "Solve 10 distinct problems",
		})
	}
	if solved >= 50 {
		earned = append(earned, Achievement{
			ID:          "solved_50",
			Name:        "Seasoned Solver",
			Description: "Solve 50 distinct problems",
		})
	}
	if total >= 100 {
		earned = append(earned, Achievement{
			ID:          "submissions_100",
			Name:        "Persistent",
			Description: "Make 100 submissions",
		})
	}
	if len(languages) >= 3 {
		earned = append(earned, Achievement{
			ID:          "polyglot",
			Name:        "Polyglot",
			Description: "Submit in 3 different languages",
		})
	}
	return earned, nil
}

func validateURLField(field, value string, maxLength int) error {
	if value == "" {
		return nil
	}
	if len(value) > maxLength {
		return pkgerrors.ValidationError(field, "too long")
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return pkgerrors.ValidationError(field, "must be an http(s) URL")
	}
	return nil
}

func mapUserUpdateError(err error) error {
	if err == repository.ErrUserNotFound {
		return pkgerrors.New(pkgerrors.UserNotFound)
	}
	return pkgerrors.Wrap(err, pkgerrors.DatabaseError)
}
