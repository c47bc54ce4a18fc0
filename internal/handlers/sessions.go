package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/pennywise/backend/internal/middleware"
	"github.com/pennywise/backend/internal/models"
	"github.com/pennywise/backend/internal/services"
	"github.com/pennywise/backend/pkg/utils"
	"gorm.io/gorm"
)

// SessionHandler lets users see and revoke their own session tokens. Token
// hashes never leave the database; responses only carry names and prefixes.
type SessionHandler struct {
	DB     *gorm.DB
	Tokens *services.TokenService
	Audit  *services.AuditService
}

func NewSessionHandler(db *gorm.DB, tokens *services.TokenService, audit *services.AuditService) *SessionHandler {
	return &SessionHandler{DB: db, Tokens: tokens, Audit: audit}
}

func (h *SessionHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var tokens []models.SessionToken
	if err := h.DB.Where("user_id = ?", user.ID).Order("created_at DESC").Find(&tokens).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing sessions")
	}

	current := middleware.GetCurrentToken(c)
	items := make([]fiber.Map, 0, len(tokens))
	for _, t := range tokens {
		items = append(items, fiber.Map{
			"id":           t.ID,
			"name":         t.Name,
			"prefix":       t.Prefix,
			"last_used_at": t.LastUsedAt,
			"created_at":   t.CreatedAt,
			"current":      current != nil && current.ID == t.ID,
		})
	}

	return utils.Success(c, fiber.StatusOK, items)
}

func (h *SessionHandler) Revoke(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid session id")
	}

	if err := h.Tokens.Revoke(user.ID, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "Session not found.")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking session")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    "user.session_revoked",
		Details:   map[string]interface{}{"session_id": id},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "Session revoked.",
	})
}
