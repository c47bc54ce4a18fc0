package handlers

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pennywise/backend/internal/middleware"
	"github.com/pennywise/backend/internal/models"
	"github.com/pennywise/backend/internal/services"
	"github.com/pennywise/backend/pkg/logger"
	"github.com/pennywise/backend/pkg/utils"
	"gorm.io/gorm"
)

type AuthHandler struct {
	DB     *gorm.DB
	OTP    *services.OTPService
	Tokens *services.TokenService
	Audit  *services.AuditService
}

func NewAuthHandler(db *gorm.DB, otp *services.OTPService, tokens *services.TokenService, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{DB: db, OTP: otp, Tokens: tokens, Audit: audit}
}

type registerRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Register creates a student account and issues a session token right away;
// the OTP challenge only guards logins. New accounts start with 2FA on.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	fields := map[string]string{}
	if req.Name == "" {
		fields["name"] = "name is required"
	}
	if req.Email == "" {
		fields["email"] = "email is required"
	} else if _, err := mail.ParseAddress(req.Email); err != nil {
		fields["email"] = "email is invalid"
	}
	if req.Password == "" {
		fields["password"] = "password is required"
	} else if req.Password != req.PasswordConfirmation {
		fields["password"] = "password confirmation does not match"
	}
	if len(fields) > 0 {
		return utils.ValidationError(c, fields)
	}

	var existing models.User
	if err := h.DB.First(&existing, "email = ?", req.Email).Error; err == nil {
		return utils.ValidationError(c, map[string]string{"email": "email has already been taken"})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking existing user")
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	user := models.User{
		Name:             req.Name,
		Email:            req.Email,
		PasswordHash:     passwordHash,
		Role:             models.UserRoleStudent,
		TwoFactorEnabled: true,
	}

	if err := h.DB.Create(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	token, _, err := h.Tokens.Issue(&user, user.Name)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.Info("user_registered", map[string]interface{}{
		"user_id": user.ID,
		"email":   user.Email,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    "user.register",
		Details:   map[string]interface{}{"email": user.Email},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"message": "User registered successfully.",
		"user":    user,
		"role":    user.Role,
		"token":   token,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies the password and, when the account has 2FA enabled, answers
// with an OTP challenge instead of a token. Unknown email and wrong password
// are deliberately indistinguishable.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Email == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	var user models.User
	if err := h.DB.First(&user, "email = ?", req.Email).Error; err != nil {
		logger.Warn("login_failed_user_not_found", map[string]interface{}{
			"email": req.Email,
			"ip":    c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "Incorrect email or password.")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		logger.Warn("login_failed_invalid_password", map[string]interface{}{
			"user_id": user.ID,
			"ip":      c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "Incorrect email or password.")
	}

	if user.TwoFactorEnabled {
		if _, err := h.OTP.Generate(&user); err != nil {
			return utils.Error(c, fiber.StatusBadGateway, "failed to send verification code")
		}

		h.Audit.LogAsync(services.AuditEntry{
			UserID:    &user.ID,
			Action:    "user.login_otp_pending",
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})

		return utils.Success(c, fiber.StatusOK, fiber.Map{
			"message":             "OTP sent to your email. Please verify to continue.",
			"two_factor_required": true,
			"user_id":             user.ID,
		})
	}

	token, _, err := h.Tokens.Issue(&user, user.Name)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.Info("user_login", map[string]interface{}{
		"user_id": user.ID,
		"ip":      c.IP(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    "user.login",
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "Login successful.",
		"user":    user,
		"role":    user.Role,
		"token":   token,
	})
}

type verifyOTPRequest struct {
	UserID uint   `json:"user_id"`
	OTP    string `json:"otp"`
}

// VerifyOTP completes an OTP challenge. Unlike login failures, invalid and
// expired codes report distinct messages.
func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	var req verifyOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	fields := map[string]string{}
	if req.UserID == 0 {
		fields["user_id"] = "user_id is required"
	}
	if !isSixDigits(req.OTP) {
		fields["otp"] = "otp must be 6 digits"
	}
	if len(fields) > 0 {
		return utils.ValidationError(c, fields)
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", req.UserID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "User not found.")
	}

	if err := h.OTP.Verify(&user, req.OTP); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidOTP), errors.Is(err, services.ErrExpiredOTP):
			logger.Warn("otp_verify_failed", map[string]interface{}{
				"user_id": user.ID,
				"ip":      c.IP(),
			})
			return utils.Error(c, fiber.StatusUnauthorized, err.Error())
		default:
			return utils.Error(c, fiber.StatusInternalServerError, "failed verifying OTP")
		}
	}

	token, _, err := h.Tokens.Issue(&user, user.Name)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    "user.login_otp_verified",
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "Login successful.",
		"user":    user,
		"role":    user.Role,
		"token":   token,
	})
}

type resendOTPRequest struct {
	UserID uint `json:"user_id"`
}

func (h *AuthHandler) ResendOTP(c *fiber.Ctx) error {
	var req resendOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.UserID == 0 {
		return utils.ValidationError(c, map[string]string{"user_id": "user_id is required"})
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", req.UserID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "User not found.")
	}

	if !user.TwoFactorEnabled {
		return utils.Error(c, fiber.StatusBadRequest, "2FA is not enabled for this account.")
	}

	if _, err := h.OTP.Generate(&user); err != nil {
		return utils.Error(c, fiber.StatusBadGateway, "failed to send verification code")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    "user.otp_resend",
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "New OTP sent to your email.",
	})
}

// Logout revokes every session token the caller holds, across all devices.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if err := h.Tokens.RevokeAll(user.ID); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking tokens")
	}

	logger.Info("user_logout", map[string]interface{}{
		"user_id": user.ID,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    "user.logout",
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "Logged out successfully.",
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}

type updateMeRequest struct {
	Name *string `json:"name"`
}

// UpdateMe is the self-service profile edit; only the display name is
// editable here. Email and role changes go through the admin operation.
func (h *AuthHandler) UpdateMe(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req updateMeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.Name == nil {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}
	name := strings.TrimSpace(*req.Name)
	if name == "" {
		return utils.ValidationError(c, map[string]string{"name": "name cannot be empty"})
	}

	if err := h.DB.Model(&models.User{}).Where("id = ?", currentUser.ID).
		Update("name", name).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}

	var updated models.User
	if err := h.DB.First(&updated, "id = ?", currentUser.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated user")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &currentUser.ID,
		Action:    "user.profile_update",
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, updated)
}

// Enable2FA and Disable2FA toggle the caller's own opt-in flag. Existing
// session tokens stay valid either way.
func (h *AuthHandler) Enable2FA(c *fiber.Ctx) error {
	return h.setTwoFactor(c, true)
}

func (h *AuthHandler) Disable2FA(c *fiber.Ctx) error {
	return h.setTwoFactor(c, false)
}

func (h *AuthHandler) setTwoFactor(c *fiber.Ctx, enabled bool) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if err := h.DB.Model(&models.User{}).Where("id = ?", user.ID).
		Update("two_factor_enabled", enabled).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating 2FA setting")
	}

	action := "user.2fa_disabled"
	message := "Two-factor authentication disabled."
	if enabled {
		action = "user.2fa_enabled"
		message = "Two-factor authentication enabled."
	}

	logger.Info(action, map[string]interface{}{
		"user_id": user.ID,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    action,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message":          message,
		"twoFactorEnabled": enabled,
	})
}
