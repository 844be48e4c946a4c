package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShahidDS/game-time-tracker/models"
)

func strPtr(s string) *string { return &s }

func TestCreateUserDefaultsAvatarAndNormalizesEmail(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db, nil, testLog)

	user, err := svc.CreateUser(context.Background(), &CreateUserRequest{
		FirstName: "  Ada ",
		LastName:  "Lovelace",
		Email:     "Ada@Example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if user.FirstName != "Ada" || user.Email != "ada@example.com" {
		t.Fatalf("user = %+v", user)
	}
	if !strings.HasPrefix(user.ProfileImage, avatarBaseURL) || !strings.Contains(user.ProfileImage, "ada%40example.com") {
		t.Fatalf("profile image = %q", user.ProfileImage)
	}
}

func TestCreateUserValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db, nil, testLog)
	ctx := context.Background()

	cases := []struct {
		name  string
		req   CreateUserRequest
		field string
	}{
		{"missing first name", CreateUserRequest{LastName: "L", Email: "a@b.co"}, "firstName"},
		{"bad email", CreateUserRequest{FirstName: "A", LastName: "L", Email: "not-an-email"}, "email"},
		{"bad image", CreateUserRequest{FirstName: "A", LastName: "L", Email: "a@b.co", ProfileImage: "nope"}, "profileImage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateUser(ctx, &tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db, nil, testLog)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, &CreateUserRequest{FirstName: "A", LastName: "L", Email: "dup@example.com"}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.CreateUser(ctx, &CreateUserRequest{FirstName: "B", LastName: "M", Email: "DUP@example.com"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "email" {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
}

func TestListUsersSearch(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db, nil, testLog)
	seedUser(t, db, "Ada", "Lovelace")
	seedUser(t, db, "Alan", "Turing")
	seedUser(t, db, "Grace", "Hopper")

	all, err := svc.ListUsers(context.Background(), "")
	if err != nil || len(all) != 3 {
		t.Fatalf("all users = %d, %v", len(all), err)
	}
	found, err := svc.ListUsers(context.Background(), "TURING")
	if err != nil || len(found) != 1 || found[0].FirstName != "Alan" {
		t.Fatalf("search = %+v, %v", found, err)
	}
}

func TestUpdateUserPartial(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db, nil, testLog)
	ctx := context.Background()
	user := seedUser(t, db, "Ada", "Lovelace")
	other := seedUser(t, db, "Alan", "Turing")

	updated, err := svc.UpdateUser(ctx, user.ID, &UpdateUserRequest{LastName: strPtr("King")})
	if err != nil {
		t.Fatal(err)
	}
	if updated.FirstName != "Ada" || updated.LastName != "King" {
		t.Fatalf("updated = %+v", updated)
	}

	_, err = svc.UpdateUser(ctx, user.ID, &UpdateUserRequest{Email: strPtr(other.Email)})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "email" {
		t.Fatalf("expected email clash, got %v", err)
	}

	_, err = svc.UpdateUser(ctx, user.ID, &UpdateUserRequest{FirstName: strPtr("  ")})
	if !errors.As(err, &verr) || verr.Field != "firstName" {
		t.Fatalf("expected empty first name error, got %v", err)
	}

	if _, err := svc.UpdateUser(ctx, 999, &UpdateUserRequest{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	db := newTestDB(t)
	_, client := newTestRedis(t)
	board := NewLeaderboard(db, client, testLog)
	sessions := NewSessionService(db, testLog, board)
	svc := NewUserService(db, board, testLog)
	ctx := context.Background()
	start := time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)

	gone := seedUser(t, db, "Ada", "Lovelace")
	stays := seedUser(t, db, "Alan", "Turing")
	game := seedGame(t, db, "Chess")
	record(t, sessions, gone.ID, game.ID, start, 30)
	record(t, sessions, stays.ID, game.ID, start, 12)
	if _, err := board.Top(ctx, game.ID, 10); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteUser(ctx, gone.ID); err != nil {
		t.Fatal(err)
	}

	var g models.Game
	reload(t, db, &g, game.ID)
	if g.TotalMinutesPlayed != 12 {
		t.Fatalf("game total = %d, want 12", g.TotalMinutesPlayed)
	}
	var count int64
	db.Model(&models.PlaySession{}).Where("user_id = ?", gone.ID).Count(&count)
	if count != 0 {
		t.Fatalf("sessions left = %d", count)
	}
	db.Model(&models.UserStats{}).Where("user_id = ?", gone.ID).Count(&count)
	if count != 0 {
		t.Fatalf("day buckets left = %d", count)
	}
	if _, err := client.ZScore(ctx, leaderboardKey(game.ID), member(gone.ID)).Result(); err == nil {
		t.Fatal("deleted user still on leaderboard")
	}

	if err := svc.DeleteUser(ctx, gone.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
