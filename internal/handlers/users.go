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

type UserHandler struct {
	DB     *gorm.DB
	Access *services.AccessService
	Tokens *services.TokenService
	Audit  *services.AuditService
}

func NewUserHandler(db *gorm.DB, access *services.AccessService, tokens *services.TokenService, audit *services.AuditService) *UserHandler {
	return &UserHandler{DB: db, Access: access, Tokens: tokens, Audit: audit}
}

func (h *UserHandler) List(c *fiber.Ctx) error {
	params := utils.ParsePagination(c)

	query := h.DB.Model(&models.User{})
	if role := c.Query("role"); role != "" {
		if !models.ValidRole(role) {
			return utils.ValidationError(c, map[string]string{"role": "role must be admin or student"})
		}
		query = query.Where("role = ?", role)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting users")
	}

	var users []models.User
	if err := utils.ApplyPagination(query.Order("id ASC"), params).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}

	return utils.Paginated(c, users, params.Page, params.Limit, total)
}

func (h *UserHandler) Get(c *fiber.Ctx) error {
	actor := middleware.GetCurrentUser(c)
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if !h.Access.CanReadUser(actor, id) {
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", id).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "User not found.")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

type updateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

// Update is the admin-side edit covering name, email and role. Role changes
// take effect on the target's next request because auth re-reads the user row.
func (h *UserHandler) Update(c *fiber.Ctx) error {
	actor := middleware.GetCurrentUser(c)
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if !h.Access.CanWriteUser(actor, id) {
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", id).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "User not found.")
	}

	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	fields := map[string]string{}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			fields["name"] = "name cannot be empty"
		} else {
			updates["name"] = name
		}
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			fields["email"] = "email is invalid"
		} else {
			var existing models.User
			err := h.DB.First(&existing, "email = ? AND id <> ?", email, id).Error
			if err == nil {
				fields["email"] = "email has already been taken"
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.Error(c, fiber.StatusInternalServerError, "failed checking email")
			} else {
				updates["email"] = email
			}
		}
	}
	if req.Role != nil {
		if !models.ValidRole(*req.Role) {
			fields["role"] = "role must be admin or student"
		} else {
			updates["role"] = *req.Role
		}
	}

	if len(fields) > 0 {
		return utils.ValidationError(c, fields)
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if err := h.DB.Model(&user).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}

	if err := h.DB.First(&user, "id = ?", id).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated user")
	}

	logger.InfoWithUser(actor.ID, "admin_user_updated", map[string]interface{}{
		"target_id": id,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &actor.ID,
		Action:    "admin.user_update",
		Details:   map[string]interface{}{"target_id": id},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, user)
}

// Delete removes the user; OTPs and session tokens go with the row via the
// FK cascade.
func (h *UserHandler) Delete(c *fiber.Ctx) error {
	actor := middleware.GetCurrentUser(c)
	id, err := parseID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if !h.Access.CanDeleteUser(actor, id) {
		if actor != nil && actor.Role == models.UserRoleAdmin && actor.ID == id {
			return utils.Error(c, fiber.StatusForbidden, "You cannot delete your own account.")
		}
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", id).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "User not found.")
	}

	if err := h.Tokens.RevokeAll(user.ID); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking tokens")
	}

	if err := h.DB.Delete(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting user")
	}

	logger.InfoWithUser(actor.ID, "admin_user_deleted", map[string]interface{}{
		"target_id": id,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &actor.ID,
		Action:    "admin.user_delete",
		Details:   map[string]interface{}{"target_id": id, "email": user.Email},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "User deleted successfully.",
	})
}
