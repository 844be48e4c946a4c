package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/ShahidDS/game-time-tracker/models"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const unknownGameName = "Unknown Game"

type UserProfile struct {
	ID           uint   `json:"id" validate:"required"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	ProfileImage string `json:"profileImage" validate:"omitempty,url"`
}

type GameStat struct {
	GameID            uint    `json:"gameId" validate:"required"`
	GameName          string  `json:"gameName" validate:"required"`
	MinutesPlayed     int     `json:"minutesPlayed" validate:"gte=0"`
	PercentageOfTotal float64 `json:"percentageOfTotal" validate:"gte=0,lte=100"`
}

type UserReport struct {
	User               UserProfile `json:"user"`
	TotalMinutesPlayed int         `json:"totalMinutesPlayed" validate:"gte=0"`
	GameStats          []GameStat  `json:"gameStats" validate:"required,dive"`
}

type GameRef struct {
	ID   uint   `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type DayMinutes struct {
	Date    string `json:"date" validate:"required,datetime=2006-01-02"`
	Minutes int    `json:"minutes" validate:"gte=0"`
}

type WeeklyStats struct {
	NumOfSessionsPerWeek        int          `json:"numOfSessionsPerWeek" validate:"gte=0"`
	AverageSessionLengthPerWeek float64      `json:"averageSessionLengthPerWeek" validate:"gte=0"`
	TotalMinutesPerWeek         int          `json:"totalMinutesPerWeek" validate:"gte=0"`
	MinutesPlayedPerDayInAWeek  []DayMinutes `json:"minutesPlayedPerDayInAWeek" validate:"required,dive"`
}

type UserGameReport struct {
	User        UserProfile `json:"user"`
	Game        GameRef     `json:"game"`
	WeeklyStats WeeklyStats `json:"weeklyStats"`
}

type GameTotal struct {
	ID                      uint   `json:"id" validate:"required"`
	Name                    string `json:"name" validate:"required"`
	TotalMinutesPlayedByAll int    `json:"totalMinutesPlayedbyAll" validate:"gte=0"`
}

type GameReport struct {
	Game GameTotal `json:"game"`
}

type TopPlayerReport struct {
	GameID             uint   `json:"gameId" validate:"required"`
	GameName           string `json:"gameName" validate:"required"`
	TopPlayerID        uint   `json:"topPlayerId" validate:"required"`
	TopPlayerName      string `json:"topPlayerName" validate:"required"`
	TotalMinutesPlayed int    `json:"totalMinutesPlayed" validate:"gte=0"`
}

// StatisticsService recomputes every report from raw session rows.
type StatisticsService struct {
	db       *gorm.DB
	window   time.Duration
	validate *validator.Validate
	now      func() time.Time
}

func NewStatisticsService(db *gorm.DB, window time.Duration) *StatisticsService {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &StatisticsService{
		db:       db,
		window:   window,
		validate: NewValidator(),
		now:      time.Now,
	}
}

// NewValidator returns a validator that reports fields by their json name.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(JSONFieldName)
	return v
}

// JSONFieldName resolves the json name of a struct field for error messages.
func JSONFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

type groupedMinutes struct {
	GroupID uint
	Minutes int
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *StatisticsService) windowStart() (time.Time, time.Time) {
	now := s.now().UTC()
	return now.Add(-s.window), now
}

func (s *StatisticsService) check(report interface{}) error {
	if err := s.validate.Struct(report); err != nil {
		return fmt.Errorf("%w: %v", ErrReportShape, err)
	}
	return nil
}

func (s *StatisticsService) loadProfile(db *gorm.DB, userID uint) (*UserProfile, error) {
	var user models.User
	if err := db.Select("id", "first_name", "last_name", "profile_image").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("User")
		}
		return nil, err
	}
	return &UserProfile{
		ID:           user.ID,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		ProfileImage: user.ProfileImage,
	}, nil
}

func (s *StatisticsService) loadGame(db *gorm.DB, gameID uint) (*GameRef, error) {
	var game models.Game
	if err := db.Select("id", "name").First(&game, gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("Game")
		}
		return nil, err
	}
	return &GameRef{ID: game.ID, Name: game.Name}, nil
}

// UserReport breaks a user's all-time minutes down per game.
func (s *StatisticsService) UserReport(ctx context.Context, userID uint) (*UserReport, error) {
	db := s.db.WithContext(ctx)

	profile, err := s.loadProfile(db, userID)
	if err != nil {
		return nil, err
	}

	var groups []groupedMinutes
	if err := db.Model(&models.PlaySession{}).
		Select("game_id AS group_id, SUM(minutes_played) AS minutes").
		Where("user_id = ?", userID).
		Group("game_id").
		Order("game_id").
		Scan(&groups).Error; err != nil {
		return nil, fmt.Errorf("group sessions by game: %w", err)
	}

	names := make(map[uint]string, len(groups))
	if len(groups) > 0 {
		ids := make([]uint, len(groups))
		for i, g := range groups {
			ids[i] = g.GroupID
		}
		var games []models.Game
		if err := db.Select("id", "name").Where("id IN ?", ids).Find(&games).Error; err != nil {
			return nil, fmt.Errorf("load game names: %w", err)
		}
		for _, g := range games {
			names[g.ID] = g.Name
		}
	}

	total := 0
	for _, g := range groups {
		total += g.Minutes
	}

	stats := make([]GameStat, 0, len(groups))
	for _, g := range groups {
		name, ok := names[g.GroupID]
		if !ok {
			name = unknownGameName
		}
		pct := 0.0
		if total > 0 {
			pct = round2(float64(g.Minutes) / float64(total) * 100)
		}
		stats = append(stats, GameStat{
			GameID:            g.GroupID,
			GameName:          name,
			MinutesPlayed:     g.Minutes,
			PercentageOfTotal: pct,
		})
	}

	report := &UserReport{
		User:               *profile,
		TotalMinutesPlayed: total,
		GameStats:          stats,
	}
	if err := s.check(report); err != nil {
		return nil, err
	}
	return report, nil
}

// UserGameReport summarizes one user's sessions of one game over the
// trailing window, with minutes bucketed per UTC day.
func (s *StatisticsService) UserGameReport(ctx context.Context, userID, gameID uint) (*UserGameReport, error) {
	db := s.db.WithContext(ctx)

	profile, err := s.loadProfile(db, userID)
	if err != nil {
		return nil, err
	}
	game, err := s.loadGame(db, gameID)
	if err != nil {
		return nil, err
	}

	since, until := s.windowStart()
	var sessions []models.PlaySession
	if err := db.Select("id", "minutes_played", "ended_at").
		Where("user_id = ? AND game_id = ? AND ended_at >= ? AND ended_at <= ?", userID, gameID, since, until).
		Order("ended_at ASC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("load window sessions: %w", err)
	}

	total := 0
	perDay := make(map[string]int)
	for _, session := range sessions {
		total += session.MinutesPlayed
		perDay[DayBucket(session.EndedAt).Format(time.DateOnly)] += session.MinutesPlayed
	}

	days := make([]DayMinutes, 0, len(perDay))
	for date, minutes := range perDay {
		days = append(days, DayMinutes{Date: date, Minutes: minutes})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	avg := 0.0
	if len(sessions) > 0 {
		avg = round2(float64(total) / float64(len(sessions)))
	}

	report := &UserGameReport{
		User: *profile,
		Game: *game,
		WeeklyStats: WeeklyStats{
			NumOfSessionsPerWeek:        len(sessions),
			AverageSessionLengthPerWeek: avg,
			TotalMinutesPerWeek:         total,
			MinutesPlayedPerDayInAWeek:  days,
		},
	}
	if err := s.check(report); err != nil {
		return nil, err
	}
	return report, nil
}

// GameReport sums the trailing-window minutes of every user for a game.
func (s *StatisticsService) GameReport(ctx context.Context, gameID uint) (*GameReport, error) {
	db := s.db.WithContext(ctx)

	game, err := s.loadGame(db, gameID)
	if err != nil {
		return nil, err
	}

	since, until := s.windowStart()
	var total int
	if err := db.Model(&models.PlaySession{}).
		Select("COALESCE(SUM(minutes_played), 0)").
		Where("game_id = ? AND ended_at >= ? AND ended_at <= ?", gameID, since, until).
		Row().Scan(&total); err != nil {
		return nil, fmt.Errorf("sum game minutes: %w", err)
	}

	report := &GameReport{Game: GameTotal{
		ID:                      game.ID,
		Name:                    game.Name,
		TotalMinutesPlayedByAll: total,
	}}
	if err := s.check(report); err != nil {
		return nil, err
	}
	return report, nil
}

// TopPlayer returns the user with the most all-time minutes on a game.
// Ties go to the lowest user id.
func (s *StatisticsService) TopPlayer(ctx context.Context, gameID uint) (*TopPlayerReport, error) {
	db := s.db.WithContext(ctx)

	game, err := s.loadGame(db, gameID)
	if err != nil {
		return nil, err
	}

	var groups []groupedMinutes
	if err := db.Model(&models.PlaySession{}).
		Select("user_id AS group_id, SUM(minutes_played) AS minutes").
		Where("game_id = ?", gameID).
		Group("user_id").
		Order("user_id").
		Scan(&groups).Error; err != nil {
		return nil, fmt.Errorf("group sessions by user: %w", err)
	}
	if len(groups) == 0 {
		return nil, &NotFoundError{Message: "No play sessions found for this game"}
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if g.Minutes > best.Minutes {
			best = g
		}
	}

	name := "Unknown Player"
	var user models.User
	err = db.Select("id", "first_name", "last_name").First(&user, best.GroupID).Error
	switch {
	case err == nil:
		if full := user.FullName(); full != "" {
			name = full
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load top player: %w", err)
	}

	report := &TopPlayerReport{
		GameID:             game.ID,
		GameName:           game.Name,
		TopPlayerID:        best.GroupID,
		TopPlayerName:      name,
		TotalMinutesPlayed: best.Minutes,
	}
	if err := s.check(report); err != nil {
		return nil, err
	}
	return report, nil
}
