package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/pennywise/backend/internal/models"
	"github.com/pennywise/backend/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrInvalidOTP     = errors.New("Invalid OTP code.")
	ErrExpiredOTP     = errors.New("OTP code has expired.")
	ErrOTPDispatch    = errors.New("failed to send OTP email")
	otpCodeUpperBound = big.NewInt(1000000)
)

type OTPService struct {
	DB       *gorm.DB
	Mailer   Mailer
	Lifetime time.Duration
}

func NewOTPService(db *gorm.DB, mailer Mailer, lifetime time.Duration) *OTPService {
	if lifetime <= 0 {
		lifetime = 10 * time.Minute
	}
	return &OTPService{DB: db, Mailer: mailer, Lifetime: lifetime}
}

// Generate invalidates any prior unused codes for the user, persists a fresh
// 6-digit code, and dispatches it by email. The delete and insert run in one
// transaction so concurrent generations cannot leave two authoritative codes.
func (s *OTPService) Generate(user *models.User) (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND used = ?", user.ID, false).
			Delete(&models.UserOTP{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.UserOTP{
			UserID:    user.ID,
			Code:      code,
			ExpiresAt: time.Now().Add(s.Lifetime),
			Used:      false,
		}).Error
	})
	if err != nil {
		return "", err
	}

	if err := s.Mailer.SendOTP(user.Email, user.Name, code); err != nil {
		logger.Error("otp_dispatch_failed", err, map[string]interface{}{
			"user_id": user.ID,
		})
		return "", ErrOTPDispatch
	}

	logger.Info("otp_generated", map[string]interface{}{
		"user_id":    user.ID,
		"expires_in": s.Lifetime.String(),
	})

	return code, nil
}

// Verify looks up the newest unused code matching the submitted value. An
// unknown value and an expired real code fail differently; only a live match
// flips the used flag.
func (s *OTPService) Verify(user *models.User, code string) error {
	var otp models.UserOTP
	err := s.DB.Where("user_id = ? AND code = ? AND used = ?", user.ID, code, false).
		Order("created_at DESC").
		First(&otp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidOTP
		}
		return err
	}

	if otp.IsExpired() {
		// The row stays unused; it is unusable by time alone.
		return ErrExpiredOTP
	}

	// Conditional flip so two concurrent verifies of the same code cannot
	// both succeed; the loser sees zero rows and fails like any stale code.
	result := s.DB.Model(&models.UserOTP{}).
		Where("id = ? AND used = ?", otp.ID, false).
		Update("used", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidOTP
	}

	logger.Info("otp_verified", map[string]interface{}{
		"user_id": user.ID,
	})

	return nil
}

// randomCode draws from crypto/rand so all values 000000-999999 are equally
// likely, leading zeros included.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpCodeUpperBound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
