package middleware

import (
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mirroros/public-api/internal/config"
	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/models"
	"github.com/mirroros/public-api/internal/principal"
	"gorm.io/gorm"
)

func JWTProtected(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: []byte(cfg.JWTSecret)},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Message: "Unauthorized: invalid or expired token",
			})
		},
	})
}

// JWTOptional verifies a bearer token when one is present but lets requests
// without one through. Used on routes where the admin token header is an
// alternative credential.
func JWTOptional(cfg *config.Config) fiber.Handler {
	verify := JWTProtected(cfg)
	return func(c *fiber.Ctx) error {
		if c.Get(fiber.HeaderAuthorization) == "" {
			return c.Next()
		}
		return verify(c)
	}
}

// PrincipalLoaderOptional resolves a principal when a verified token is in
// context and is a no-op otherwise.
func PrincipalLoaderOptional(db *gorm.DB, cfg *config.Config) fiber.Handler {
	load := PrincipalLoader(db, cfg)
	return func(c *fiber.Ctx) error {
		if c.Locals("user") == nil {
			return c.Next()
		}
		return load(c)
	}
}

// PrincipalLoader resolves the verified JWT subject into a principal: the
// demo identity for demo tokens, otherwise the active user row. Runs after
// JWTProtected.
func PrincipalLoader(db *gorm.DB, cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sub, err := principal.Subject(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		if sub == principal.DemoSubject {
			if !cfg.DemoMode {
				return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
					Error: true, Message: "Demo access is disabled",
				})
			}
			principal.Set(c, principal.NewDemo())
			return c.Next()
		}

		userID, err := uuid.Parse(sub)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		var user models.User
		if err := db.Where("id = ? AND is_active = ?", userID, true).First(&user).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "User not found or deactivated",
			})
		}

		principal.Set(c, principal.FromUser(&user))
		return c.Next()
	}
}
