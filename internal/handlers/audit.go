package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pennywise/backend/internal/models"
	"github.com/pennywise/backend/pkg/utils"
	"gorm.io/gorm"
)

type AuditHandler struct {
	DB *gorm.DB
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{DB: db}
}

// List is admin-only and returns newest entries first. Entries written by the
// async pipeline may lag a request by a moment.
func (h *AuditHandler) List(c *fiber.Ctx) error {
	params := utils.ParsePagination(c)

	query := h.DB.Model(&models.AuditLog{})
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}
	if userID := c.Query("user_id"); userID != "" {
		id, err := parseID(userID)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid user_id filter")
		}
		query = query.Where("user_id = ?", id)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting audit entries")
	}

	var entries []models.AuditLog
	if err := utils.ApplyPagination(query.Order("id DESC"), params).Find(&entries).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing audit entries")
	}

	return utils.Paginated(c, entries, params.Page, params.Limit, total)
}
