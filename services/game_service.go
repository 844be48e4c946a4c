package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ShahidDS/game-time-tracker/models"

	"github.com/goccy/go-json"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	overviewCacheKey    = "games:overview"
	overviewCacheTTL    = time.Minute
	overviewRecentLimit = 10
)

type GameService struct {
	db          *gorm.DB
	redis       *redis.Client
	leaderboard *Leaderboard
	window      time.Duration
	log         *slog.Logger
	now         func() time.Time
}

func NewGameService(db *gorm.DB, redis *redis.Client, leaderboard *Leaderboard, window time.Duration, log *slog.Logger) *GameService {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &GameService{
		db:          db,
		redis:       redis,
		leaderboard: leaderboard,
		window:      window,
		log:         log,
		now:         time.Now,
	}
}

type CreateGameRequest struct {
	Name string `json:"name" binding:"required"`
}

type UpdateGameRequest struct {
	Name *string `json:"name"`
}

// GameSummary is a game with the number of sessions recorded against it.
type GameSummary struct {
	models.Game
	SessionCount int64 `json:"sessionCount"`
}

type PlayerRef struct {
	ID        uint   `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type RecentSession struct {
	ID            uint       `json:"id"`
	MinutesPlayed int        `json:"minutesPlayed"`
	EndedAt       time.Time  `json:"endedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	User          *PlayerRef `json:"user,omitempty"`
}

type GameOverview struct {
	ID                   uint            `json:"id"`
	Name                 string          `json:"name"`
	TotalMinutesPlayed   int             `json:"totalMinutesPlayed"`
	CreatedAt            time.Time       `json:"createdAt"`
	SessionCount         int64           `json:"sessionCount"`
	AverageSessionLength int             `json:"averageSessionLength"`
	RecentSessions       []RecentSession `json:"recentSessions"`
}

type GameDetail struct {
	GameSummary
	AverageSessionLength int                  `json:"averageSessionLength"`
	UniquePlayers        int64                `json:"uniquePlayers"`
	RecentSessionsCount  int64                `json:"recentSessionsCount"`
	RecentMinutesPlayed  int                  `json:"recentMinutesPlayed"`
	Sessions             []models.PlaySession `json:"sessions"`
}

func averageLength(total int, count int64) int {
	if count == 0 {
		return 0
	}
	return int(math.Round(float64(total) / float64(count)))
}

func normalizeGameName(name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", invalid("name", "is required")
	}
	if len(name) > 100 {
		return "", "", invalid("name", "must be at most 100 characters")
	}
	s := slug.Make(name)
	if s == "" {
		return "", "", invalid("name", "must contain letters or digits")
	}
	return name, s, nil
}

func (s *GameService) ensureSlugFree(db *gorm.DB, gameSlug string, exceptID uint) error {
	var count int64
	query := db.Model(&models.Game{}).Where("slug = ?", gameSlug)
	if exceptID != 0 {
		query = query.Where("id <> ?", exceptID)
	}
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check slug: %w", err)
	}
	if count > 0 {
		return invalid("name", "a game with this name already exists")
	}
	return nil
}

func (s *GameService) sessionCounts(db *gorm.DB, ids []uint) (map[uint]int64, error) {
	type row struct {
		GameID uint
		Count  int64
	}
	var rows []row
	query := db.Model(&models.PlaySession{}).Select("game_id, COUNT(*) AS count").Group("game_id")
	if ids != nil {
		query = query.Where("game_id IN ?", ids)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.GameID] = r.Count
	}
	return counts, nil
}

func (s *GameService) ListGames(ctx context.Context) ([]GameSummary, error) {
	db := s.db.WithContext(ctx)

	var games []models.Game
	if err := db.Order("id").Find(&games).Error; err != nil {
		return nil, err
	}
	counts, err := s.sessionCounts(db, nil)
	if err != nil {
		return nil, err
	}

	out := make([]GameSummary, len(games))
	for i, g := range games {
		out[i] = GameSummary{Game: g, SessionCount: counts[g.ID]}
	}
	return out, nil
}

func (s *GameService) GetGame(ctx context.Context, id uint) (*GameSummary, error) {
	db := s.db.WithContext(ctx)

	var game models.Game
	if err := db.First(&game, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("Game")
		}
		return nil, err
	}
	var count int64
	if err := db.Model(&models.PlaySession{}).Where("game_id = ?", id).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	return &GameSummary{Game: game, SessionCount: count}, nil
}

func (s *GameService) CreateGame(ctx context.Context, req *CreateGameRequest) (*models.Game, error) {
	name, gameSlug, err := normalizeGameName(req.Name)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if err := s.ensureSlugFree(db, gameSlug, 0); err != nil {
		return nil, err
	}

	game := models.Game{Name: name, Slug: gameSlug}
	if err := db.Create(&game).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, invalid("name", "a game with this name already exists")
		}
		return nil, fmt.Errorf("create game: %w", err)
	}

	s.invalidateOverview(ctx)
	s.log.Info("game_created", slog.Uint64("game_id", uint64(game.ID)), slog.String("slug", game.Slug))
	return &game, nil
}

func (s *GameService) UpdateGame(ctx context.Context, id uint, req *UpdateGameRequest) (*models.Game, error) {
	db := s.db.WithContext(ctx)

	var game models.Game
	if err := db.First(&game, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("Game")
		}
		return nil, err
	}
	if req.Name == nil {
		return &game, nil
	}

	name, gameSlug, err := normalizeGameName(*req.Name)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSlugFree(db, gameSlug, game.ID); err != nil {
		return nil, err
	}

	if err := db.Model(&game).Updates(map[string]interface{}{"name": name, "slug": gameSlug}).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, invalid("name", "a game with this name already exists")
		}
		return nil, fmt.Errorf("update game: %w", err)
	}

	s.invalidateOverview(ctx)
	game.Name, game.Slug = name, gameSlug
	return &game, nil
}

// DeleteGame removes the game and its sessions, taking the minutes back off
// each player's total and day buckets.
func (s *GameService) DeleteGame(ctx context.Context, id uint) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := requireRow(tx, &models.Game{}, id, "Game"); err != nil {
		tx.Rollback()
		return err
	}

	var sessions []models.PlaySession
	if err := tx.Select("id", "user_id", "ended_at", "minutes_played").
		Where("game_id = ?", id).
		Find(&sessions).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("load game sessions: %w", err)
	}

	type dayKey struct {
		userID uint
		day    time.Time
	}
	perUser := make(map[uint]int)
	perDay := make(map[dayKey]int)
	for _, session := range sessions {
		perUser[session.UserID] += session.MinutesPlayed
		perDay[dayKey{session.UserID, DayBucket(session.EndedAt)}] += session.MinutesPlayed
	}

	for userID, minutes := range perUser {
		if err := tx.Model(&models.User{}).
			Where("id = ?", userID).
			UpdateColumn("total_minutes_played", gorm.Expr("total_minutes_played - ?", minutes)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("update user total: %w", err)
		}
	}
	for key, minutes := range perDay {
		if err := tx.Model(&models.UserStats{}).
			Where("user_id = ? AND date = ?", key.userID, key.day).
			UpdateColumn("minutes_played", gorm.Expr("minutes_played - ?", minutes)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("update day bucket: %w", err)
		}
	}

	if err := tx.Where("game_id = ?", id).Delete(&models.PlaySession{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("delete game sessions: %w", err)
	}
	if err := tx.Delete(&models.Game{}, id).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("delete game: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit game delete: %w", err)
	}

	s.leaderboard.DropGame(ctx, id)
	s.invalidateOverview(ctx)
	s.log.Info("game_deleted", slog.Uint64("game_id", uint64(id)), slog.Int("sessions", len(sessions)))
	return nil
}

// GameOverview lists every game by total minutes, busiest first, with its
// most recent sessions. The result is cached in Redis when available.
func (s *GameService) GameOverview(ctx context.Context) ([]GameOverview, error) {
	if cached := s.cachedOverview(ctx); cached != nil {
		return cached, nil
	}

	db := s.db.WithContext(ctx)
	var games []models.Game
	if err := db.Order("total_minutes_played DESC, id ASC").Find(&games).Error; err != nil {
		return nil, err
	}
	counts, err := s.sessionCounts(db, nil)
	if err != nil {
		return nil, err
	}

	out := make([]GameOverview, 0, len(games))
	for _, g := range games {
		var sessions []models.PlaySession
		if err := db.Where("game_id = ?", g.ID).
			Preload("User", func(tx *gorm.DB) *gorm.DB {
				return tx.Select("id", "first_name", "last_name")
			}).
			Order("created_at DESC, id DESC").
			Limit(overviewRecentLimit).
			Find(&sessions).Error; err != nil {
			return nil, fmt.Errorf("load recent sessions: %w", err)
		}

		recent := make([]RecentSession, 0, len(sessions))
		for _, session := range sessions {
			r := RecentSession{
				ID:            session.ID,
				MinutesPlayed: session.MinutesPlayed,
				EndedAt:       session.EndedAt,
				CreatedAt:     session.CreatedAt,
			}
			if session.User != nil {
				r.User = &PlayerRef{ID: session.User.ID, FirstName: session.User.FirstName, LastName: session.User.LastName}
			}
			recent = append(recent, r)
		}

		out = append(out, GameOverview{
			ID:                   g.ID,
			Name:                 g.Name,
			TotalMinutesPlayed:   g.TotalMinutesPlayed,
			CreatedAt:            g.CreatedAt,
			SessionCount:         counts[g.ID],
			AverageSessionLength: averageLength(g.TotalMinutesPlayed, counts[g.ID]),
			RecentSessions:       recent,
		})
	}

	s.storeOverview(ctx, out)
	return out, nil
}

// GameDetail reports one game with its player count and trailing-window activity.
func (s *GameService) GameDetail(ctx context.Context, id uint) (*GameDetail, error) {
	summary, err := s.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var uniquePlayers int64
	if err := db.Model(&models.PlaySession{}).
		Where("game_id = ?", id).
		Distinct("user_id").
		Count(&uniquePlayers).Error; err != nil {
		return nil, fmt.Errorf("count players: %w", err)
	}

	until := s.now().UTC()
	since := until.Add(-s.window)
	var recent struct {
		Count   int64
		Minutes int
	}
	if err := db.Model(&models.PlaySession{}).
		Select("COUNT(*) AS count, COALESCE(SUM(minutes_played), 0) AS minutes").
		Where("game_id = ? AND ended_at >= ? AND ended_at <= ?", id, since, until).
		Scan(&recent).Error; err != nil {
		return nil, fmt.Errorf("sum recent activity: %w", err)
	}

	var sessions []models.PlaySession
	if err := db.Where("game_id = ?", id).
		Preload("User").
		Order("created_at DESC, id DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	return &GameDetail{
		GameSummary:          *summary,
		AverageSessionLength: averageLength(summary.TotalMinutesPlayed, summary.SessionCount),
		UniquePlayers:        uniquePlayers,
		RecentSessionsCount:  recent.Count,
		RecentMinutesPlayed:  recent.Minutes,
		Sessions:             sessions,
	}, nil
}

// SessionRecorded and SessionDeleted drop the cached overview.
func (s *GameService) SessionRecorded(ctx context.Context, _ *models.PlaySession) {
	s.invalidateOverview(ctx)
}

func (s *GameService) SessionDeleted(ctx context.Context, _ *models.PlaySession) {
	s.invalidateOverview(ctx)
}

func (s *GameService) TotalsChanged(ctx context.Context) {
	s.invalidateOverview(ctx)
}

func (s *GameService) storeOverview(ctx context.Context, overview []GameOverview) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(overview)
	if err != nil {
		s.log.Warn("overview_marshal_failed", slog.Any("error", err))
		return
	}
	if err := s.redis.Set(ctx, overviewCacheKey, data, overviewCacheTTL).Err(); err != nil {
		s.log.Warn("overview_cache_store_failed", slog.Any("error", err))
	}
}

func (s *GameService) cachedOverview(ctx context.Context) []GameOverview {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, overviewCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("overview_cache_read_failed", slog.Any("error", err))
		}
		return nil
	}
	var overview []GameOverview
	if err := json.Unmarshal(data, &overview); err != nil {
		s.log.Warn("overview_cache_decode_failed", slog.Any("error", err))
		return nil
	}
	return overview
}

func (s *GameService) invalidateOverview(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, overviewCacheKey).Err(); err != nil {
		s.log.Warn("overview_cache_invalidate_failed", slog.Any("error", err))
	}
}
