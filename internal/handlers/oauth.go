package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/pennywise/backend/internal/services"
	"github.com/pennywise/backend/pkg/logger"
	"github.com/pennywise/backend/pkg/utils"
)

type OAuthHandler struct {
	Google *services.GoogleAuthService
	Tokens *services.TokenService
	Audit  *services.AuditService
}

func NewOAuthHandler(google *services.GoogleAuthService, tokens *services.TokenService, audit *services.AuditService) *OAuthHandler {
	return &OAuthHandler{Google: google, Tokens: tokens, Audit: audit}
}

// GoogleRedirect hands the client the Google authorization URL instead of
// issuing a 302 itself, so the SPA can navigate on its own terms.
func (h *OAuthHandler) GoogleRedirect(c *fiber.Ctx) error {
	url, err := h.Google.AuthCodeURL()
	if err != nil {
		if errors.Is(err, services.ErrGoogleDisabled) {
			return utils.Error(c, fiber.StatusNotFound, "Google sign-in is not available.")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed building authorization URL")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message":      "Redirect to Google to continue.",
		"redirect_url": url,
	})
}

// GoogleCallback finishes the code flow and answers with a session token as
// JSON. All upstream failures collapse into one generic 401 so the response
// leaks nothing about which step failed.
func (h *OAuthHandler) GoogleCallback(c *fiber.Ctx) error {
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("google_callback_denied", map[string]interface{}{
			"error": errParam,
			"ip":    c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "Google authentication failed.")
	}

	code := c.Query("code")
	if code == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "Google authentication failed.")
	}

	ctx := c.Context()

	oauthToken, err := h.Google.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, services.ErrGoogleDisabled) {
			return utils.Error(c, fiber.StatusNotFound, "Google sign-in is not available.")
		}
		return utils.Error(c, fiber.StatusUnauthorized, "Google authentication failed.")
	}

	profile, err := h.Google.FetchProfile(ctx, oauthToken)
	if err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "Google authentication failed.")
	}

	user, err := h.Google.FindOrCreateUser(ctx, profile)
	if err != nil {
		logger.Error("google_upsert_failed", err, map[string]interface{}{
			"email": profile.Email,
		})
		return utils.Error(c, fiber.StatusUnauthorized, "Google authentication failed.")
	}

	token, _, err := h.Tokens.Issue(user, user.Name)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    "user.login_google",
		Details:   map[string]interface{}{"email": user.Email},
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
