package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mini, client
}

func TestLeaderboardTracksSessions(t *testing.T) {
	db := newTestDB(t)
	mini, client := newTestRedis(t)
	board := NewLeaderboard(db, client, testLog)
	sessions := NewSessionService(db, testLog, board)
	ctx := context.Background()
	start := time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)

	a := seedUser(t, db, "Ada", "Lovelace")
	b := seedUser(t, db, "Alan", "Turing")
	c := seedUser(t, db, "Grace", "Hopper")
	game := seedGame(t, db, "Chess")

	record(t, sessions, a.ID, game.ID, start, 10)
	if mini.Exists(leaderboardKey(game.ID)) {
		t.Fatal("increment should not create a board")
	}
	if _, err := board.Top(ctx, game.ID, 10); err != nil {
		t.Fatal(err)
	}
	record(t, sessions, b.ID, game.ID, start, 40)
	drop := record(t, sessions, c.ID, game.ID, start, 25)

	if score, err := client.ZScore(ctx, leaderboardKey(game.ID), member(c.ID)).Result(); err != nil || score != 25 {
		t.Fatalf("incremented score = %v, %v", score, err)
	}

	report, err := board.Top(ctx, game.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 2 {
		t.Fatalf("entries = %+v", report.Entries)
	}
	if report.Entries[0].UserID != b.ID || report.Entries[0].Rank != 1 || report.Entries[0].MinutesPlayed != 40 {
		t.Fatalf("first entry = %+v", report.Entries[0])
	}
	if report.Entries[1].UserID != c.ID || report.Entries[1].UserName != "Grace Hopper" {
		t.Fatalf("second entry = %+v", report.Entries[1])
	}

	if _, err := sessions.DeleteSession(ctx, drop.ID); err != nil {
		t.Fatal(err)
	}
	members, err := client.ZRange(ctx, leaderboardKey(game.ID), 0, -1).Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("zeroed member should be removed, got %v", members)
	}
}

func TestLeaderboardRebuildsFromDatabase(t *testing.T) {
	db := newTestDB(t)
	_, client := newTestRedis(t)
	sessions := NewSessionService(db, testLog)
	board := NewLeaderboard(db, client, testLog)
	ctx := context.Background()
	start := time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)

	a := seedUser(t, db, "Ada", "Lovelace")
	b := seedUser(t, db, "Alan", "Turing")
	game := seedGame(t, db, "Chess")
	record(t, sessions, a.ID, game.ID, start, 15)
	record(t, sessions, b.ID, game.ID, start, 15)

	report, err := board.Top(ctx, game.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 2 || report.Entries[0].UserID != a.ID {
		t.Fatalf("entries = %+v", report.Entries)
	}

	score, err := client.ZScore(ctx, leaderboardKey(game.ID), member(b.ID)).Result()
	if err != nil || score != 15 {
		t.Fatalf("rebuilt score = %v, %v", score, err)
	}

	if err := board.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := client.Exists(ctx, leaderboardKey(game.ID)).Result(); n != 0 {
		t.Fatal("reset should drop the board")
	}
}

func TestLeaderboardAfterReconcileKeepsEveryPlayer(t *testing.T) {
	db := newTestDB(t)
	_, client := newTestRedis(t)
	board := NewLeaderboard(db, client, testLog)
	sessions := NewSessionService(db, testLog, board)
	reconciler := NewReconciler(db, board, testLog)
	ctx := context.Background()
	start := time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)

	a := seedUser(t, db, "Ada", "Lovelace")
	b := seedUser(t, db, "Alan", "Turing")
	c := seedUser(t, db, "Grace", "Hopper")
	game := seedGame(t, db, "Chess")
	record(t, sessions, a.ID, game.ID, start, 100)
	record(t, sessions, b.ID, game.ID, start, 80)
	if _, err := board.Top(ctx, game.ID, 10); err != nil {
		t.Fatal(err)
	}

	if _, err := reconciler.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	record(t, sessions, c.ID, game.ID, start.Add(time.Hour), 5)

	report, err := board.Top(ctx, game.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 3 {
		t.Fatalf("entries = %+v", report.Entries)
	}
	want := []uint{a.ID, b.ID, c.ID}
	for i, e := range report.Entries {
		if e.UserID != want[i] || e.Rank != i+1 {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}

	board.DropGame(ctx, game.ID)
	record(t, sessions, c.ID, game.ID, start.Add(2*time.Hour), 5)
	report, err = board.Top(ctx, game.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 3 || report.Entries[2].MinutesPlayed != 10 {
		t.Fatalf("entries after drop = %+v", report.Entries)
	}
}

func TestLeaderboardTiesFavorLowestUserID(t *testing.T) {
	db := newTestDB(t)
	_, client := newTestRedis(t)
	board := NewLeaderboard(db, client, testLog)
	sessions := NewSessionService(db, testLog, board)
	stats := NewStatisticsService(db, 0)
	ctx := context.Background()
	start := time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)

	a := seedUser(t, db, "Ada", "Lovelace")
	b := seedUser(t, db, "Alan", "Turing")
	c := seedUser(t, db, "Grace", "Hopper")
	d := seedUser(t, db, "Edsger", "Dijkstra")
	game := seedGame(t, db, "Chess")
	record(t, sessions, a.ID, game.ID, start, 20)
	record(t, sessions, b.ID, game.ID, start, 20)
	record(t, sessions, c.ID, game.ID, start, 20)
	record(t, sessions, d.ID, game.ID, start, 30)

	top, err := stats.TopPlayer(ctx, game.ID)
	if err != nil {
		t.Fatal(err)
	}

	// first read rebuilds from the database, second is served from Redis
	for _, source := range []string{"database", "cache"} {
		report, err := board.Top(ctx, game.ID, 3)
		if err != nil {
			t.Fatal(err)
		}
		want := []uint{d.ID, a.ID, b.ID}
		if len(report.Entries) != len(want) {
			t.Fatalf("%s entries = %+v", source, report.Entries)
		}
		for i, e := range report.Entries {
			if e.UserID != want[i] {
				t.Fatalf("%s entry %d = %+v", source, i, e)
			}
		}
	}
	if top.TopPlayerID != d.ID {
		t.Fatalf("top player = %d", top.TopPlayerID)
	}

	tied := seedGame(t, db, "Go")
	record(t, sessions, b.ID, tied.ID, start, 20)
	record(t, sessions, a.ID, tied.ID, start, 20)
	if _, err := board.Top(ctx, tied.ID, 10); err != nil {
		t.Fatal(err)
	}
	report, err := board.Top(ctx, tied.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	top, err = stats.TopPlayer(ctx, tied.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 1 || report.Entries[0].UserID != a.ID || top.TopPlayerID != a.ID {
		t.Fatalf("leaderboard %+v, top player %d", report.Entries, top.TopPlayerID)
	}
}

func TestLeaderboardWithoutRedis(t *testing.T) {
	db := newTestDB(t)
	board := NewLeaderboard(db, nil, testLog)
	sessions := NewSessionService(db, testLog, board)
	ctx := context.Background()

	a := seedUser(t, db, "Ada", "Lovelace")
	game := seedGame(t, db, "Chess")
	record(t, sessions, a.ID, game.ID, time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC), 5)

	report, err := board.Top(ctx, game.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 1 || report.Entries[0].MinutesPlayed != 5 || report.GameName != "Chess" {
		t.Fatalf("report = %+v", report)
	}

	if _, err := board.Top(ctx, 999, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	var nilBoard *Leaderboard
	nilBoard.SessionRecorded(ctx, nil)
	nilBoard.RemoveUser(ctx, 1, []uint{1})
	if err := nilBoard.Reset(ctx); err != nil {
		t.Fatal(err)
	}
}
