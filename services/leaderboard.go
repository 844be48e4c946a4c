package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/ShahidDS/game-time-tracker/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	leaderboardKeyPrefix   = "leaderboard:game:"
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	UserID        uint   `json:"userId"`
	UserName      string `json:"userName"`
	MinutesPlayed int    `json:"minutesPlayed"`
}

type LeaderboardReport struct {
	GameID   uint               `json:"gameId"`
	GameName string             `json:"gameName"`
	Entries  []LeaderboardEntry `json:"entries"`
}

// Leaderboard ranks players per game by all-time minutes. A Redis sorted
// set per game mirrors the session table when Redis is configured; the
// database is the source of truth and rebuilds the set on a miss.
type Leaderboard struct {
	db    *gorm.DB
	redis *redis.Client
	log   *slog.Logger
}

func NewLeaderboard(db *gorm.DB, client *redis.Client, log *slog.Logger) *Leaderboard {
	return &Leaderboard{db: db, redis: client, log: log}
}

func leaderboardKey(gameID uint) string {
	return leaderboardKeyPrefix + strconv.FormatUint(uint64(gameID), 10)
}

func member(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// Increments only touch a board that already exists. A missing board is
// rebuilt in full from the database by the next Top call.
var (
	incrementIfBuilt = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("ZINCRBY", KEYS[1], ARGV[1], ARGV[2])
return 1
`)
	decrementIfBuilt = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("ZINCRBY", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "0")
return 1
`)
)

func (l *Leaderboard) enabled() bool {
	return l != nil && l.redis != nil
}

func (l *Leaderboard) SessionRecorded(ctx context.Context, session *models.PlaySession) {
	if !l.enabled() {
		return
	}
	keys := []string{leaderboardKey(session.GameID)}
	if err := incrementIfBuilt.Run(ctx, l.redis, keys, session.MinutesPlayed, member(session.UserID)).Err(); err != nil {
		l.log.Warn("leaderboard_increment_failed", slog.Uint64("game_id", uint64(session.GameID)), slog.Any("error", err))
	}
}

func (l *Leaderboard) SessionDeleted(ctx context.Context, session *models.PlaySession) {
	if !l.enabled() {
		return
	}
	keys := []string{leaderboardKey(session.GameID)}
	if err := decrementIfBuilt.Run(ctx, l.redis, keys, -session.MinutesPlayed, member(session.UserID)).Err(); err != nil {
		l.log.Warn("leaderboard_decrement_failed", slog.Uint64("game_id", uint64(session.GameID)), slog.Any("error", err))
	}
}

// RemoveUser drops a deleted user from the boards of the given games.
func (l *Leaderboard) RemoveUser(ctx context.Context, userID uint, gameIDs []uint) {
	if !l.enabled() || len(gameIDs) == 0 {
		return
	}
	pipe := l.redis.Pipeline()
	for _, gameID := range gameIDs {
		pipe.ZRem(ctx, leaderboardKey(gameID), member(userID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("leaderboard_remove_user_failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
	}
}

func (l *Leaderboard) DropGame(ctx context.Context, gameID uint) {
	if !l.enabled() {
		return
	}
	if err := l.redis.Del(ctx, leaderboardKey(gameID)).Err(); err != nil {
		l.log.Warn("leaderboard_drop_failed", slog.Uint64("game_id", uint64(gameID)), slog.Any("error", err))
	}
}

// Reset deletes every board so the next read rebuilds it from the database.
func (l *Leaderboard) Reset(ctx context.Context) error {
	if !l.enabled() {
		return nil
	}
	iter := l.redis.Scan(ctx, 0, leaderboardKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan leaderboards: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return l.redis.Del(ctx, keys...).Err()
}

// Top returns the best limit players of a game.
func (l *Leaderboard) Top(ctx context.Context, gameID uint, limit int) (*LeaderboardReport, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	if limit > MaxLeaderboardSize {
		limit = MaxLeaderboardSize
	}

	db := l.db.WithContext(ctx)
	var game models.Game
	if err := db.Select("id", "name").First(&game, gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("Game")
		}
		return nil, err
	}

	groups, err := l.fromCache(ctx, gameID, limit)
	if err != nil {
		l.log.Warn("leaderboard_cache_read_failed", slog.Uint64("game_id", uint64(gameID)), slog.Any("error", err))
		groups = nil
	}
	if len(groups) == 0 {
		all, err := l.fromDatabase(db, gameID)
		if err != nil {
			return nil, err
		}
		l.rebuild(ctx, gameID, all)
		groups = all
		if len(groups) > limit {
			groups = groups[:limit]
		}
	}

	ids := make([]uint, len(groups))
	for i, g := range groups {
		ids[i] = g.GroupID
	}
	names := make(map[uint]string, len(ids))
	if len(ids) > 0 {
		var users []models.User
		if err := db.Select("id", "first_name", "last_name").Where("id IN ?", ids).Find(&users).Error; err != nil {
			return nil, fmt.Errorf("load leaderboard users: %w", err)
		}
		for _, u := range users {
			names[u.ID] = u.FullName()
		}
	}

	entries := make([]LeaderboardEntry, 0, len(groups))
	for i, g := range groups {
		name := names[g.GroupID]
		if name == "" {
			name = "Unknown Player"
		}
		entries = append(entries, LeaderboardEntry{
			Rank:          i + 1,
			UserID:        g.GroupID,
			UserName:      name,
			MinutesPlayed: g.Minutes,
		})
	}

	return &LeaderboardReport{GameID: game.ID, GameName: game.Name, Entries: entries}, nil
}

// fromCache reads the top of a board. Redis orders equal scores by member
// descending, so every member tied with the last row is fetched and the
// result is re-sorted with the lowest user id first.
func (l *Leaderboard) fromCache(ctx context.Context, gameID uint, limit int) ([]groupedMinutes, error) {
	if !l.enabled() {
		return nil, nil
	}
	key := leaderboardKey(gameID)
	zs, err := l.redis.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(zs) == limit {
		edge := strconv.FormatFloat(zs[len(zs)-1].Score, 'f', -1, 64)
		tied, err := l.redis.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: edge, Max: edge}).Result()
		if err != nil {
			return nil, err
		}
		zs = append(zs, tied...)
	}

	seen := make(map[uint]bool, len(zs))
	out := make([]groupedMinutes, 0, len(zs))
	for _, z := range zs {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || seen[uint(id)] {
			continue
		}
		seen[uint(id)] = true
		out = append(out, groupedMinutes{GroupID: uint(id), Minutes: int(z.Score)})
	}
	sortRanking(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortRanking orders by minutes descending, then user id ascending.
func sortRanking(groups []groupedMinutes) {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Minutes != groups[j].Minutes {
			return groups[i].Minutes > groups[j].Minutes
		}
		return groups[i].GroupID < groups[j].GroupID
	})
}

func (l *Leaderboard) fromDatabase(db *gorm.DB, gameID uint) ([]groupedMinutes, error) {
	var groups []groupedMinutes
	if err := db.Model(&models.PlaySession{}).
		Select("user_id AS group_id, SUM(minutes_played) AS minutes").
		Where("game_id = ?", gameID).
		Group("user_id").
		Order("minutes DESC, user_id ASC").
		Scan(&groups).Error; err != nil {
		return nil, fmt.Errorf("rank players: %w", err)
	}
	return groups, nil
}

func (l *Leaderboard) rebuild(ctx context.Context, gameID uint, groups []groupedMinutes) {
	if !l.enabled() || len(groups) == 0 {
		return
	}
	key := leaderboardKey(gameID)
	members := make([]redis.Z, len(groups))
	for i, g := range groups {
		members[i] = redis.Z{Score: float64(g.Minutes), Member: member(g.GroupID)}
	}
	pipe := l.redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZAdd(ctx, key, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("leaderboard_rebuild_failed", slog.Uint64("game_id", uint64(gameID)), slog.Any("error", err))
	}
}
