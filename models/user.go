package models

import (
	"strings"
	"time"
)

type User struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	FirstName          string    `json:"firstName" gorm:"not null"`
	LastName           string    `json:"lastName" gorm:"not null"`
	Email              string    `json:"email" gorm:"uniqueIndex;not null"`
	ProfileImage       string    `json:"profileImage"`
	TotalMinutesPlayed int       `json:"totalMinutesPlayed" gorm:"not null;default:0"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`

	// Relationships
	Sessions []PlaySession `json:"sessions,omitempty" gorm:"foreignKey:UserID"`
	Stats    []UserStats   `json:"stats,omitempty" gorm:"foreignKey:UserID"`
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
