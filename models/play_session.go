package models

import (
	"time"
)

// PlaySession is immutable once recorded; it is only ever deleted.
type PlaySession struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	UserID        uint      `json:"userId" gorm:"not null;index;index:idx_sessions_user_game,priority:1"`
	GameID        uint      `json:"gameId" gorm:"not null;index;index:idx_sessions_user_game,priority:2"`
	StartedAt     time.Time `json:"startedAt" gorm:"not null"`
	EndedAt       time.Time `json:"endedAt" gorm:"not null;index"`
	MinutesPlayed int       `json:"minutesPlayed" gorm:"not null"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// Relationships
	User *User `json:"user,omitempty"`
	Game *Game `json:"game,omitempty"`
}
