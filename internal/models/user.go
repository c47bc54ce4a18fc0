package models

type UserRole string

const (
	UserRoleAdmin   UserRole = "admin"
	UserRoleStudent UserRole = "student"
)

func ValidRole(value string) bool {
	switch UserRole(value) {
	case UserRoleAdmin, UserRoleStudent:
		return true
	default:
		return false
	}
}

type User struct {
	BaseModel
	Name             string         `json:"name" gorm:"type:varchar(255);not null"`
	Email            string         `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash     string         `json:"-" gorm:"type:text;not null"`
	Role             UserRole       `json:"role" gorm:"type:varchar(20);not null;default:'student'"`
	TwoFactorEnabled bool           `json:"twoFactorEnabled" gorm:"not null;default:false"`
	GoogleID         *string        `json:"-" gorm:"type:varchar(255);index"`
	OTPs             []UserOTP      `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Tokens           []SessionToken `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}
