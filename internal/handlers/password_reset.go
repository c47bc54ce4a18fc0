package handlers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pennywise/backend/internal/models"
	"github.com/pennywise/backend/internal/services"
	"github.com/pennywise/backend/pkg/logger"
	"github.com/pennywise/backend/pkg/utils"
	"gorm.io/gorm"
)

type PasswordResetHandler struct {
	DB          *gorm.DB
	Mailer      services.Mailer
	Tokens      *services.TokenService
	Audit       *services.AuditService
	FrontendURL string
}

func NewPasswordResetHandler(db *gorm.DB, mailer services.Mailer, tokens *services.TokenService, audit *services.AuditService, frontendURL string) *PasswordResetHandler {
	return &PasswordResetHandler{
		DB:          db,
		Mailer:      mailer,
		Tokens:      tokens,
		Audit:       audit,
		FrontendURL: frontendURL,
	}
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword answers 200 with the same message whether or not the email
// exists, so the endpoint cannot be used to enumerate accounts.
func (h *PasswordResetHandler) ForgotPassword(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return utils.ValidationError(c, map[string]string{"email": "email is required"})
	}

	neutral := fiber.Map{
		"message": "If an account exists for that email, a reset link has been sent.",
	}

	var user models.User
	if err := h.DB.First(&user, "email = ?", req.Email).Error; err != nil {
		logger.Info("password_reset_unknown_email", map[string]interface{}{
			"ip": c.IP(),
		})
		return utils.Success(c, fiber.StatusOK, neutral)
	}

	token, err := utils.GenerateResetToken(user.ID, user.Email)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating reset token")
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(h.FrontendURL, "/"), token)
	if err := h.Mailer.SendPasswordReset(user.Email, user.Name, link); err != nil {
		logger.Error("password_reset_mail_failed", err, map[string]interface{}{
			"user_id": user.ID,
		})
		// Still answer neutrally; retry is cheap and the failure is ours.
		return utils.Success(c, fiber.StatusOK, neutral)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    "user.password_reset_requested",
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, neutral)
}

type resetPasswordRequest struct {
	Token                string `json:"token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// ResetPassword consumes a single-use reset token, rehashes the password and
// revokes every live session so stolen tokens die with the old credential.
func (h *PasswordResetHandler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	fields := map[string]string{}
	if req.Token == "" {
		fields["token"] = "token is required"
	}
	if req.Password == "" {
		fields["password"] = "password is required"
	} else if req.Password != req.PasswordConfirmation {
		fields["password"] = "password confirmation does not match"
	}
	if len(fields) > 0 {
		return utils.ValidationError(c, fields)
	}

	claims, err := utils.ValidateResetToken(req.Token)
	if err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "Invalid or expired reset token.")
	}

	if !utils.IsJTIValid(claims.JTI) {
		logger.Warn("password_reset_token_replayed", map[string]interface{}{
			"user_id": claims.UserID,
			"ip":      c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "Invalid or expired reset token.")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ? AND email = ?", claims.UserID, claims.Email).Error; err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "Invalid or expired reset token.")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	if err := h.DB.Model(&user).Update("password_hash", hash).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	utils.ConsumeJTI(claims.JTI)

	if err := h.Tokens.RevokeAll(user.ID); err != nil {
		logger.Error("password_reset_revoke_failed", err, map[string]interface{}{
			"user_id": user.ID,
		})
	}

	logger.InfoWithUser(user.ID, "password_reset_completed", map[string]interface{}{
		"ip": c.IP(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    "user.password_reset",
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "Password has been reset. Please sign in again.",
	})
}
