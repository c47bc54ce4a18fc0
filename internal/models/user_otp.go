package models

import "time"

// UserOTP is a time-boxed, single-use 6-digit email verification code.
// At most one unexpired, unused code is authoritative per user: generation
// deletes all prior unused codes before inserting a new one.
type UserOTP struct {
	BaseModel
	UserID    uint      `json:"-" gorm:"not null;index"`
	Code      string    `json:"-" gorm:"type:char(6);not null"`
	ExpiresAt time.Time `json:"-" gorm:"not null"`
	Used      bool      `json:"-" gorm:"not null;default:false"`
	User      User      `json:"-" gorm:"foreignKey:UserID"`
}

func (o *UserOTP) IsExpired() bool {
	return time.Now().After(o.ExpiresAt)
}

func (o *UserOTP) IsValid() bool {
	return !o.Used && !o.IsExpired()
}
