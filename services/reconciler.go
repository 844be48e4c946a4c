package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShahidDS/game-time-tracker/models"

	"gorm.io/gorm"
)

type ReconcileResult struct {
	UsersCorrected   int       `json:"usersCorrected"`
	GamesCorrected   int       `json:"gamesCorrected"`
	BucketsCorrected int       `json:"bucketsCorrected"`
	CheckedAt        time.Time `json:"checkedAt"`
}

func (r ReconcileResult) Drifted() bool {
	return r.UsersCorrected+r.GamesCorrected+r.BucketsCorrected > 0
}

// Reconciler rebuilds the stored counters from the session table.
type Reconciler struct {
	db          *gorm.DB
	leaderboard *Leaderboard
	log         *slog.Logger
	observers   []TotalsObserver
}

func NewReconciler(db *gorm.DB, leaderboard *Leaderboard, log *slog.Logger, observers ...TotalsObserver) *Reconciler {
	return &Reconciler{db: db, leaderboard: leaderboard, log: log, observers: observers}
}

type bucketKey struct {
	userID uint
	day    int64
}

func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	result := &ReconcileResult{CheckedAt: time.Now().UTC()}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	var err error
	if result.UsersCorrected, err = reconcileTotals(tx, &models.User{}, "user_id"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if result.GamesCorrected, err = reconcileTotals(tx, &models.Game{}, "game_id"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if result.BucketsCorrected, err = reconcileBuckets(tx); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}

	if err := r.leaderboard.Reset(ctx); err != nil {
		r.log.Warn("leaderboard_reset_failed", slog.Any("error", err))
	}
	if result.GamesCorrected > 0 {
		for _, o := range r.observers {
			o.TotalsChanged(ctx)
		}
	}

	level := slog.LevelDebug
	if result.Drifted() {
		level = slog.LevelWarn
	}
	r.log.Log(ctx, level, "counters_reconciled",
		slog.Int("users", result.UsersCorrected),
		slog.Int("games", result.GamesCorrected),
		slog.Int("buckets", result.BucketsCorrected),
	)
	return result, nil
}

// reconcileTotals corrects total_minutes_played on model's table against
// the session sums grouped by column.
func reconcileTotals(tx *gorm.DB, model interface{}, column string) (int, error) {
	var sums []groupedMinutes
	if err := tx.Model(&models.PlaySession{}).
		Select(column + " AS group_id, SUM(minutes_played) AS minutes").
		Group(column).
		Scan(&sums).Error; err != nil {
		return 0, fmt.Errorf("sum sessions by %s: %w", column, err)
	}
	expected := make(map[uint]int, len(sums))
	for _, s := range sums {
		expected[s.GroupID] = s.Minutes
	}

	type row struct {
		ID                 uint
		TotalMinutesPlayed int
	}
	var rows []row
	if err := tx.Model(model).Select("id", "total_minutes_played").Scan(&rows).Error; err != nil {
		return 0, fmt.Errorf("load totals: %w", err)
	}

	corrected := 0
	for _, rw := range rows {
		want := expected[rw.ID]
		if rw.TotalMinutesPlayed == want {
			continue
		}
		if err := tx.Model(model).
			Where("id = ?", rw.ID).
			UpdateColumn("total_minutes_played", want).Error; err != nil {
			return corrected, fmt.Errorf("correct total: %w", err)
		}
		corrected++
	}
	return corrected, nil
}

func reconcileBuckets(tx *gorm.DB) (int, error) {
	var sessions []models.PlaySession
	if err := tx.Select("user_id", "ended_at", "minutes_played").Find(&sessions).Error; err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}
	expected := make(map[bucketKey]int)
	for _, s := range sessions {
		expected[bucketKey{s.UserID, DayBucket(s.EndedAt).Unix()}] += s.MinutesPlayed
	}

	var buckets []models.UserStats
	if err := tx.Find(&buckets).Error; err != nil {
		return 0, fmt.Errorf("load day buckets: %w", err)
	}

	corrected := 0
	seen := make(map[bucketKey]bool, len(buckets))
	for _, b := range buckets {
		key := bucketKey{b.UserID, DayBucket(b.Date).Unix()}
		seen[key] = true
		want := expected[key]
		if b.MinutesPlayed == want {
			continue
		}
		if err := tx.Model(&models.UserStats{}).
			Where("id = ?", b.ID).
			UpdateColumn("minutes_played", want).Error; err != nil {
			return corrected, fmt.Errorf("correct day bucket: %w", err)
		}
		corrected++
	}

	for key, minutes := range expected {
		if seen[key] {
			continue
		}
		bucket := models.UserStats{
			UserID:        key.userID,
			Date:          time.Unix(key.day, 0).UTC(),
			MinutesPlayed: minutes,
		}
		if err := tx.Create(&bucket).Error; err != nil {
			return corrected, fmt.Errorf("create day bucket: %w", err)
		}
		corrected++
	}
	return corrected, nil
}
