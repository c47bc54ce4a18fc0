package models

import "time"

// BaseModel uses auto-increment integer keys; user ids are surfaced to the
// frontend as plain numbers.
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
