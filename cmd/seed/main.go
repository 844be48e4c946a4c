// Command seed resets the database to a small demo dataset. Sessions are
// placed relative to today so statistics windows always have data.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ShahidDS/game-time-tracker/config"
	"github.com/ShahidDS/game-time-tracker/logging"
	"github.com/ShahidDS/game-time-tracker/models"
	"github.com/ShahidDS/game-time-tracker/services"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

type seedSession struct {
	email     string
	game      string
	minutes   int
	daysAgo   int
	startHour int
}

var seedUsers = []services.CreateUserRequest{
	{FirstName: "Kunnikar", LastName: "Boonbunlu", Email: "kunnikar@gmail.com"},
	{FirstName: "Israt", LastName: "Erin", Email: "israt@gmail.com"},
	{FirstName: "Shahid", LastName: "Manzoor", Email: "shahid@gmail.com"},
	{FirstName: "Charlie", LastName: "Brown", Email: "charlie@gmail.com"},
	{FirstName: "David", LastName: "Williams", Email: "david@gmail.com"},
	{FirstName: "Eve", LastName: "Davis", Email: "eve@gmail.com"},
	{FirstName: "Frank", LastName: "Miller", Email: "frank@gmail.com"},
	{FirstName: "Grace", LastName: "Wilson", Email: "grace@gmail.com"},
	{FirstName: "Hannah", LastName: "Moore", Email: "hannah@gmail.com"},
}

var seedGames = []string{"Chess", "Sudoku", "Tetris", "Tic-Tac-Toe"}

var seedSessions = []seedSession{
	{"kunnikar@gmail.com", "Chess", 120, 6, 10},
	{"kunnikar@gmail.com", "Sudoku", 140, 5, 10},
	{"kunnikar@gmail.com", "Tetris", 60, 4, 10},
	{"israt@gmail.com", "Chess", 90, 6, 11},
	{"israt@gmail.com", "Tic-Tac-Toe", 45, 3, 12},
	{"israt@gmail.com", "Sudoku", 30, 1, 9},
	{"shahid@gmail.com", "Tetris", 150, 5, 14},
	{"shahid@gmail.com", "Chess", 75, 2, 16},
	{"shahid@gmail.com", "Chess", 40, 1, 8},
	{"charlie@gmail.com", "Sudoku", 80, 3, 13},
	{"david@gmail.com", "Tetris", 55, 2, 18},
	{"eve@gmail.com", "Tic-Tac-Toe", 20, 1, 19},
	{"frank@gmail.com", "Chess", 110, 4, 20},
	{"grace@gmail.com", "Sudoku", 65, 2, 7},
	{"hannah@gmail.com", "Tetris", 35, 1, 15},
}

func main() {
	if err := run(); err != nil {
		slog.Error("seed_failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := config.InitDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := clearTables(db); err != nil {
		return err
	}
	logger.Info("seed_tables_cleared")

	leaderboard := services.NewLeaderboard(db, config.InitRedis(cfg), logger)
	if err := leaderboard.Reset(ctx); err != nil {
		logger.Warn("leaderboard_reset_failed", slog.Any("error", err))
	}
	userService := services.NewUserService(db, leaderboard, logger)
	gameService := services.NewGameService(db, nil, leaderboard, cfg.StatsWindow, logger)
	sessionService := services.NewSessionService(db, logger, leaderboard)

	users := make(map[string]uint, len(seedUsers))
	for i := range seedUsers {
		user, err := userService.CreateUser(ctx, &seedUsers[i])
		if err != nil {
			return fmt.Errorf("create user %s: %w", seedUsers[i].Email, err)
		}
		users[user.Email] = user.ID
	}

	games := make(map[string]uint, len(seedGames))
	for _, name := range seedGames {
		game, err := gameService.CreateGame(ctx, &services.CreateGameRequest{Name: name})
		if err != nil {
			return fmt.Errorf("create game %s: %w", name, err)
		}
		games[name] = game.ID
	}

	today := services.DayBucket(time.Now())
	for _, s := range seedSessions {
		start := today.AddDate(0, 0, -s.daysAgo).Add(time.Duration(s.startHour) * time.Hour)
		end := start.Add(time.Duration(s.minutes) * time.Minute)
		_, err := sessionService.RecordSession(ctx, &services.RecordSessionRequest{
			UserID:    int64(users[s.email]),
			GameID:    int64(games[s.game]),
			StartedAt: start.Format(time.RFC3339),
			EndedAt:   end.Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("record session for %s: %w", s.email, err)
		}
	}

	logger.Info("seed_complete",
		slog.Int("users", len(users)),
		slog.Int("games", len(games)),
		slog.Int("sessions", len(seedSessions)),
	)
	return nil
}

func clearTables(db *gorm.DB) error {
	for _, model := range []interface{}{&models.UserStats{}, &models.PlaySession{}, &models.Game{}, &models.User{}} {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return fmt.Errorf("clear %T: %w", model, err)
		}
	}
	return nil
}
