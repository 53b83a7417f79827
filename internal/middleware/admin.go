package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mirroros/public-api/internal/config"
	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/principal"
)

// AdminRequired gates administrative routes. Access is granted by the admin
// token header or by a registered principal whose email is in ADMIN_EMAILS.
// The demo principal is never an admin.
func AdminRequired(cfg *config.Config) fiber.Handler {
	adminEmails := cfg.AdminEmailList()

	return func(c *fiber.Ctx) error {
		if cfg.AdminToken != "" && c.Get("X-Admin-Token") == cfg.AdminToken {
			return c.Next()
		}

		p, err := principal.FromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		if !p.Demo && contains(adminEmails, strings.ToLower(p.Email)) {
			return c.Next()
		}

		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "Admin access required",
		})
	}
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
