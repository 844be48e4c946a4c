package services

import (
	"context"
	"testing"
	"time"

	"github.com/ShahidDS/game-time-tracker/logging"
	"github.com/ShahidDS/game-time-tracker/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatal(err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, first, last string) *models.User {
	t.Helper()
	user := &models.User{FirstName: first, LastName: last, Email: first + "." + last + "@example.com"}
	if err := db.Create(user).Error; err != nil {
		t.Fatal(err)
	}
	return user
}

func seedGame(t *testing.T, db *gorm.DB, name string) *models.Game {
	t.Helper()
	game := &models.Game{Name: name, Slug: name}
	if err := db.Create(game).Error; err != nil {
		t.Fatal(err)
	}
	return game
}

func record(t *testing.T, svc *SessionService, userID, gameID uint, start time.Time, minutes int) *models.PlaySession {
	t.Helper()
	session, err := svc.RecordSession(context.Background(), &RecordSessionRequest{
		UserID:    int64(userID),
		GameID:    int64(gameID),
		StartedAt: start.UTC().Format(time.RFC3339),
		EndedAt:   start.Add(time.Duration(minutes) * time.Minute).UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("record session: %v", err)
	}
	return session
}

func reload(t *testing.T, db *gorm.DB, dest interface{}, id uint) {
	t.Helper()
	if err := db.First(dest, id).Error; err != nil {
		t.Fatal(err)
	}
}

func bucketMinutes(t *testing.T, db *gorm.DB, userID uint, day time.Time) int {
	t.Helper()
	var stats models.UserStats
	err := db.Where("user_id = ? AND date = ?", userID, DayBucket(day)).First(&stats).Error
	if err == gorm.ErrRecordNotFound {
		return -1
	}
	if err != nil {
		t.Fatal(err)
	}
	return stats.MinutesPlayed
}

var testLog = logging.Discard()
