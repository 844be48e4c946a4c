package models

import (
	"time"
)

type Game struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	Name               string    `json:"name" gorm:"not null"`
	Slug               string    `json:"slug" gorm:"uniqueIndex;not null"`
	TotalMinutesPlayed int       `json:"totalMinutesPlayed" gorm:"not null;default:0"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`

	// Relationships
	Sessions []PlaySession `json:"sessions,omitempty" gorm:"foreignKey:GameID"`
}
