package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/models"
	"github.com/mirroros/public-api/internal/principal"
)

// WhitelistHandler exposes the admin surface for invite management. The
// admin middleware gates every route here.
type WhitelistHandler struct {
	db *gorm.DB
}

func NewWhitelistHandler(db *gorm.DB) *WhitelistHandler {
	return &WhitelistHandler{db: db}
}

func (h *WhitelistHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	query := h.db.Model(&models.WhitelistEntry{})
	if c.Query("unused") == "true" {
		query = query.Where("is_used = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to list whitelist",
		})
	}

	var entries []models.WhitelistEntry
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to list whitelist",
		})
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *WhitelistHandler) Create(c *fiber.Ctx) error {
	var req dto.WhitelistCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "email is required",
		})
	}

	entry := models.WhitelistEntry{
		ID:         uuid.New(),
		Email:      email,
		InviteCode: req.InviteCode,
		Notes:      req.Notes,
	}
	if p, err := principal.FromContext(c); err == nil && !p.Demo {
		id := p.ID
		entry.InvitedBy = &id
	}
	if req.ExpiresAt != nil {
		expires, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "expires_at must be RFC 3339",
			})
		}
		entry.ExpiresAt = &expires
	}

	if err := h.db.Create(&entry).Error; err != nil {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: true, Message: "Entry already exists for this email or invite code",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (h *WhitelistHandler) Delete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid entry id",
		})
	}

	result := h.db.Where("id = ? AND is_used = ?", id, false).Delete(&models.WhitelistEntry{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to delete entry",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Entry not found or already used",
		})
	}

	return c.JSON(fiber.Map{"message": "Entry deleted"})
}
