package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ShahidDS/game-time-tracker/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionObserver is notified after a session change has been committed.
type SessionObserver interface {
	SessionRecorded(ctx context.Context, session *models.PlaySession)
	SessionDeleted(ctx context.Context, session *models.PlaySession)
}

// TotalsObserver is notified when stored totals change outside a session
// write, such as a user delete or a reconcile.
type TotalsObserver interface {
	TotalsChanged(ctx context.Context)
}

type SessionService struct {
	db        *gorm.DB
	log       *slog.Logger
	observers []SessionObserver
}

func NewSessionService(db *gorm.DB, log *slog.Logger, observers ...SessionObserver) *SessionService {
	return &SessionService{
		db:        db,
		log:       log,
		observers: observers,
	}
}

type RecordSessionRequest struct {
	UserID    int64  `json:"userId" binding:"required,gt=0"`
	GameID    int64  `json:"gameId" binding:"required,gt=0"`
	StartedAt string `json:"startedAt" binding:"required"`
	EndedAt   string `json:"endedAt" binding:"required"`
}

// MinutesPlayed rounds the played interval up to whole minutes with a floor
// of one minute. It is the only rounding rule used for sessions.
func MinutesPlayed(startedAt, endedAt time.Time) int {
	d := endedAt.Sub(startedAt)
	if d <= 0 {
		return 1
	}
	minutes := int((d + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		return 1
	}
	return minutes
}

// DayBucket normalizes t to midnight UTC of its calendar day.
func DayBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func parseTimestamp(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, invalid(field, "is required")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, invalid(field, "must be an ISO-8601 datetime")
	}
	return t.UTC(), nil
}

func (r *RecordSessionRequest) parse() (startedAt, endedAt time.Time, err error) {
	if r.UserID <= 0 {
		return startedAt, endedAt, invalid("userId", "must be a positive integer")
	}
	if r.GameID <= 0 {
		return startedAt, endedAt, invalid("gameId", "must be a positive integer")
	}
	if startedAt, err = parseTimestamp("startedAt", r.StartedAt); err != nil {
		return
	}
	if endedAt, err = parseTimestamp("endedAt", r.EndedAt); err != nil {
		return
	}
	if endedAt.Before(startedAt) {
		err = invalid("endedAt", "must not be before startedAt")
	}
	return
}

// RecordSession stores a finished session and applies its minutes to the
// user, game and day-bucket totals in one transaction.
func (s *SessionService) RecordSession(ctx context.Context, req *RecordSessionRequest) (*models.PlaySession, error) {
	startedAt, endedAt, err := req.parse()
	if err != nil {
		return nil, err
	}

	session := models.PlaySession{
		UserID:        uint(req.UserID),
		GameID:        uint(req.GameID),
		StartedAt:     startedAt,
		EndedAt:       endedAt,
		MinutesPlayed: MinutesPlayed(startedAt, endedAt),
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := requireRow(tx, &models.User{}, session.UserID, "User"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := requireRow(tx, &models.Game{}, session.GameID, "Game"); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Create(&session).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := adjustAggregates(tx, &session, session.MinutesPlayed); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit session: %w", err)
	}

	s.log.Info("session_recorded",
		slog.Uint64("session_id", uint64(session.ID)),
		slog.Uint64("user_id", uint64(session.UserID)),
		slog.Uint64("game_id", uint64(session.GameID)),
		slog.Int("minutes", session.MinutesPlayed),
	)
	for _, o := range s.observers {
		o.SessionRecorded(ctx, &session)
	}

	return &session, nil
}

// DeleteSession removes a session and reverses exactly what RecordSession applied.
func (s *SessionService) DeleteSession(ctx context.Context, sessionID uint) (*models.PlaySession, error) {
	var session models.PlaySession

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.First(&session, sessionID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("Play session")
		}
		return nil, err
	}

	if err := tx.Delete(&models.PlaySession{}, session.ID).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("delete session: %w", err)
	}

	if err := adjustAggregates(tx, &session, -session.MinutesPlayed); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit session delete: %w", err)
	}

	s.log.Info("session_deleted",
		slog.Uint64("session_id", uint64(session.ID)),
		slog.Int("minutes", session.MinutesPlayed),
	)
	for _, o := range s.observers {
		o.SessionDeleted(ctx, &session)
	}

	return &session, nil
}

func (s *SessionService) ListSessions(ctx context.Context) ([]models.PlaySession, error) {
	var sessions []models.PlaySession
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Game").
		Order("ended_at DESC, id DESC").
		Find(&sessions).Error
	return sessions, err
}

func (s *SessionService) ListUserSessions(ctx context.Context, userID uint) ([]models.PlaySession, error) {
	db := s.db.WithContext(ctx)
	if err := requireRow(db, &models.User{}, userID, "User"); err != nil {
		return nil, err
	}

	var sessions []models.PlaySession
	err := db.Where("user_id = ?", userID).
		Preload("Game").
		Order("ended_at DESC, id DESC").
		Find(&sessions).Error
	return sessions, err
}

// adjustAggregates moves the user total, game total and day bucket of
// session by delta minutes. Increments are evaluated by the database so
// concurrent writers never lose updates.
func adjustAggregates(tx *gorm.DB, session *models.PlaySession, delta int) error {
	if err := tx.Model(&models.User{}).
		Where("id = ?", session.UserID).
		UpdateColumn("total_minutes_played", gorm.Expr("total_minutes_played + ?", delta)).Error; err != nil {
		return fmt.Errorf("update user total: %w", err)
	}

	if err := tx.Model(&models.Game{}).
		Where("id = ?", session.GameID).
		UpdateColumn("total_minutes_played", gorm.Expr("total_minutes_played + ?", delta)).Error; err != nil {
		return fmt.Errorf("update game total: %w", err)
	}

	day := DayBucket(session.EndedAt)
	if delta < 0 {
		if err := tx.Model(&models.UserStats{}).
			Where("user_id = ? AND date = ?", session.UserID, day).
			UpdateColumn("minutes_played", gorm.Expr("minutes_played + ?", delta)).Error; err != nil {
			return fmt.Errorf("update day bucket: %w", err)
		}
		return nil
	}

	bucket := models.UserStats{
		UserID:        session.UserID,
		Date:          day,
		MinutesPlayed: delta,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"minutes_played": gorm.Expr("\"user_stats\".\"minutes_played\" + ?", delta),
		}),
	}).Create(&bucket).Error; err != nil {
		return fmt.Errorf("upsert day bucket: %w", err)
	}
	return nil
}

func requireRow(db *gorm.DB, model interface{}, id uint, entity string) error {
	var count int64
	if err := db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("lookup %s: %w", strings.ToLower(entity), err)
	}
	if count == 0 {
		return notFound(entity)
	}
	return nil
}
