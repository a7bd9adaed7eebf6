package service_test

import (
	"context"
	"strings"
	"testing"

	"algoforge/internal/user/service"
	pkgerrors "algoforge/pkg/errors"
)

func TestAuthService_ProfileRoundTrip(t *testing.T) {
	t.Parallel()

	userRepo := newFakeUserRepo()
	authService := newAuthServiceWithFakes(userRepo, newFakeSessionRepo(), newFakeCache())
	userID := createActiveUser(t, userRepo, "grace")

	profile, err := authService.GetProfile(context.Background(), userID)
	if err != nil {
		t.Fatalf("get profile failed: %v", err)
	}
	if profile.Username != "grace" || profile.DisplayName != "" {
		t.Fatalf("fresh profile should be bare, got %+v", profile)
	}

	updated, err := authService.UpdateProfile(context.Background(), userID, service.UpdateProfileInput{
		DisplayName: "  Grace Hopper ",
		Bio:         "compilers",
		Location:    "Arlington",
		Website:     "https://example.com/grace",
		AvatarURL:   "https://cdn.example.com/grace.png",
	})
	if err != nil {
		t.Fatalf("update profile failed: %v", err)
	}
	if updated.DisplayName != "Grace Hopper" {
		t.Fatalf("display name should be trimmed, got %q", updated.DisplayName)
	}
	if updated.Bio != "compilers" || updated.Website != "https://example.com/grace" {
		t.Fatalf("unexpected profile after update: %+v", updated)
	}

	again, err := authService.GetProfile(context.Background(), userID)
	if err != nil {
		t.Fatalf("get profile failed: %v", err)
	}
	if again.DisplayName != "Grace Hopper" || again.AvatarURL != "https://cdn.example.com/grace.png" {
		t.Fatalf("profile should persist, got %+v", again)
	}

	// Clearing a field stores the empty value.
	cleared, err := authService.UpdateProfile(context.Background(), userID, service.UpdateProfileInput{
		DisplayName: "Grace Hopper",
	})
	if err != nil {
		t.Fatalf("update profile failed: %v", err)
	}
	if cleared.Bio != "" || cleared.Website != "" {
		t.Fatalf("omitted fields should clear, got %+v", cleared)
	}
}

func TestAuthService_UpdateProfileValidation(t *testing.T) {
	t.Parallel()

	userRepo := newFakeUserRepo()
	authService := newAuthServiceWithFakes(userRepo, newFakeSessionRepo(), newFakeCache())
	userID := createActiveUser(t, userRepo, "heidi")

	tests := []struct {
		name  string
		input service.UpdateProfileInput
	}{
		{
			name:  "bio too long",
			input: service.UpdateProfileInput{Bio: strings.Repeat("a", 501)},
		},
		{
			name:  "display name too long",
			input: service.UpdateProfileInput{DisplayName: strings.Repeat("a", 101)},
		},
		{
			name:  "website not http",
			input: service.UpdateProfileInput{Website: "ftp://example.com"},
		},
		{
			name:  "avatar not http",
			input: service.UpdateProfileInput{AvatarURL: "javascript:alert(1)"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := authService.UpdateProfile(context.Background(), userID, tc.input)
			if err == nil || !pkgerrors.Is(err, pkgerrors.ValidationFailed) {
				t.Fatalf("expected ValidationFailed, got %v", err)
			}
		})
	}

	if _, err := authService.UpdateProfile(context.Background(), 9999, service.UpdateProfileInput{}); err == nil || !pkgerrors.Is(err, pkgerrors.UserNotFound) {
		t.Fatalf("expected UserNotFound, got %v", err)
	}
}

func TestAuthService_Preferences(t *testing.T) {
	t.Parallel()

	userRepo := newFakeUserRepo()
	authService := newAuthServiceWithFakes(userRepo, newFakeSessionRepo(), newFakeCache())
	userID := createActiveUser(t, userRepo, "ivan")

	prefs, err := authService.UpdatePreferences(context.Background(), userID, service.Preferences{
		Language:   " JavaScript ",
		Difficulty: "Medium",
		Topics:     []string{" Graphs ", "DP"},
	})
	if err != nil {
		t.Fatalf("update preferences failed: %v", err)
	}
	if prefs.Language != "javascript" || prefs.Difficulty != "medium" {
		t.Fatalf("preferences should normalize, got %+v", prefs)
	}
	if len(prefs.Topics) != 2 || prefs.Topics[0] != "graphs" || prefs.Topics[1] != "dp" {
		t.Fatalf("topics should normalize, got %v", prefs.Topics)
	}

	stored, err := authService.GetPreferences(context.Background(), userID)
	if err != nil {
		t.Fatalf("get preferences failed: %v", err)
	}
	if stored.Language != "javascript" || len(stored.Topics) != 2 {
		t.Fatalf("preferences should persist, got %+v", stored)
	}

	if _, err := authService.UpdatePreferences(context.Background(), userID, service.Preferences{
		Language: "cobol",
	}); err == nil || !pkgerrors.Is(err, pkgerrors.ValidationFailed) {
		t.Fatalf("unsupported language should be rejected, got %v", err)
	}
	if _, err := authService.UpdatePreferences(context.Background(), userID, service.Preferences{
		Difficulty: "impossible",
	}); err == nil || !pkgerrors.Is(err, pkgerrors.ValidationFailed) {
		t.Fatalf("bad difficulty should be rejected, got %v", err)
	}
	if _, err := authService.UpdatePreferences(context.Background(), userID, service.Preferences{
		Topics: make([]string, 21),
	}); err == nil || !pkgerrors.Is(err, pkgerrors.ValidationFailed) {
		t.Fatalf("too many topics should be rejected, got %v", err)
	}
}

func TestAuthService_Achievements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stats   *fakeStats
		wantIDs []string
	}{
		{
			name: "no submissions",
			stats: &fakeStats{
				verdicts:  map[string]int64{},
				languages: map[string]int64{},
			},
			wantIDs: []string{},
		},
		{
			name: "first accepted and polyglot",
			stats: &fakeStats{
				solved:    1,
				verdicts:  map[string]int64{"accepted": 1, "wrong_answer": 2},
				languages: map[string]int64{"python": 1, "cpp": 1, "javascript": 1},
			},
			wantIDs: []string{"first_accepted", "polyglot"},
		},
		{
			name: "veteran",
			stats: &fakeStats{
				solved:    52,
				verdicts:  map[string]int64{"accepted": 80, "wrong_answer": 30},
				languages: map[string]int64{"python": 110},
			},
			wantIDs: []string{"first_accepted", "solved_10", "solved_50", "submissions_100"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			userRepo := newFakeUserRepo()
			authService := service.NewAuthService(nil, userRepo, newFakeSessionRepo(), newFakeBanCache(), newFakeCache(), tc.stats, testAuthConfig())
			userID := createActiveUser(t, userRepo, "judy")

			earned, err := authService.Achievements(context.Background(), userID)
			if err != nil {
				t.Fatalf("achievements failed: %v", err)
			}
			if len(earned) != len(tc.wantIDs) {
				t.Fatalf("expected %d achievements, got %d: %+v", len(tc.wantIDs), len(earned), earned)
			}
			for i, want := range tc.wantIDs {
				if earned[i].ID != want {
					t.Fatalf("achievement %d: expected %s, got %s", i, want, earned[i].ID)
				}
			}
		})
	}
}

func TestAuthService_AchievementsWithoutStats(t *testing.T) {
	t.Parallel()

	userRepo := newFakeUserRepo()
	authService := newAuthServiceWithFakes(userRepo, newFakeSessionRepo(), newFakeCache())
	userID := createActiveUser(t, userRepo, "karl")

	earned, err := authService.Achievements(context.Background(), userID)
	if err != nil {
		t.Fatalf("achievements failed: %v", err)
	}
	if len(earned) != 0 {
		t.Fatalf("no stats provider should mean no achievements, got %+v", earned)
	}
}
