package models

import "time"

// SessionToken is an opaque bearer credential. Only the SHA-256 hash of the
// raw token is stored; the prefix identifies it in session listings. A user
// may hold many concurrent tokens (one per device), and logout deletes all
// of them.
type SessionToken struct {
	BaseModel
	UserID     uint       `json:"userID" gorm:"not null;index"`
	Name       string     `json:"name" gorm:"type:varchar(255);not null"`
	TokenHash  string     `json:"-" gorm:"type:text;not null;uniqueIndex"`
	Prefix     string     `json:"prefix" gorm:"type:varchar(10);not null"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	User       User       `json:"-" gorm:"foreignKey:UserID"`
}
