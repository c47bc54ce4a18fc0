package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pennywise/backend/internal/models"
	"github.com/pennywise/backend/pkg/logger"
	"gorm.io/gorm"
)

const tokenPrefixLength = 8

// TokenService mints and revokes the opaque bearer tokens that represent
// sessions. Raw tokens look like pw_<48 hex chars>; only the SHA-256 hash is
// stored, so a leaked database cannot impersonate anyone.
type TokenService struct {
	DB     *gorm.DB
	Prefix string
}

func NewTokenService(db *gorm.DB, prefix string) *TokenService {
	if prefix == "" {
		prefix = "pw_"
	}
	return &TokenService{DB: db, Prefix: prefix}
}

// Issue creates a session token named after the device or flow that
// requested it. The raw token is returned exactly once.
func (s *TokenService) Issue(user *models.User, name string) (string, *models.SessionToken, error) {
	rawBytes := make([]byte, 24)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", nil, err
	}
	rawToken := s.Prefix + hex.EncodeToString(rawBytes)

	token := models.SessionToken{
		UserID:    user.ID,
		Name:      name,
		TokenHash: HashToken(rawToken),
		Prefix:    rawToken[:tokenPrefixLength],
	}

	if err := s.DB.Create(&token).Error; err != nil {
		return "", nil, err
	}

	logger.Info("session_token_issued", map[string]interface{}{
		"user_id":  user.ID,
		"token_id": token.ID,
		"name":     name,
	})

	return rawToken, &token, nil
}

// RevokeAll deletes every session token the user holds. Calling it with no
// active tokens is not an error.
func (s *TokenService) RevokeAll(userID uint) error {
	return s.DB.Where("user_id = ?", userID).Delete(&models.SessionToken{}).Error
}

// Revoke deletes a single token owned by the user.
func (s *TokenService) Revoke(userID, tokenID uint) error {
	result := s.DB.Where("id = ? AND user_id = ?", tokenID, userID).Delete(&models.SessionToken{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func HashToken(rawToken string) string {
	hash := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(hash[:])
}
