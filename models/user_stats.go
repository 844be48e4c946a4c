package models

import (
	"time"
)

// UserStats is the per-user, per-UTC-day rollup of minutes played.
type UserStats struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	UserID        uint      `json:"userId" gorm:"not null;uniqueIndex:idx_user_stats_user_date,priority:1"`
	Date          time.Time `json:"date" gorm:"not null;uniqueIndex:idx_user_stats_user_date,priority:2"`
	MinutesPlayed int       `json:"minutesPlayed" gorm:"not null;default:0"`
}

func (UserStats) TableName() string {
	return "user_stats"
}

// All returns every model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Game{},
		&PlaySession{},
		&UserStats{},
	}
}
