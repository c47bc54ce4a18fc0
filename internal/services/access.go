package services

import "github.com/pennywise/backend/internal/models"

// AccessService is the single place role-based decisions about user records
// are made; handlers never compare roles directly.
type AccessService struct{}

func NewAccessService() *AccessService {
	return &AccessService{}
}

// CanReadUser allows admins to read anyone and students to read themselves.
func (s *AccessService) CanReadUser(actor *models.User, targetID uint) bool {
	if actor == nil {
		return false
	}
	if actor.Role == models.UserRoleAdmin {
		return true
	}
	return actor.ID == targetID
}

// CanWriteUser covers updates to another user's record (name, email, role).
// Self-service profile edits go through the narrower own-profile operation.
func (s *AccessService) CanWriteUser(actor *models.User, targetID uint) bool {
	if actor == nil {
		return false
	}
	return actor.Role == models.UserRoleAdmin
}

// CanDeleteUser forbids self-deletion even for admins.
func (s *AccessService) CanDeleteUser(actor *models.User, targetID uint) bool {
	if actor == nil {
		return false
	}
	return actor.Role == models.UserRoleAdmin && actor.ID != targetID
}
