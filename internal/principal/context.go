package principal

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const localsKey = "principal"

var ErrNoPrincipal = errors.New("no principal in request context")

// Set stores the resolved principal in Fiber context locals.
func Set(c *fiber.Ctx, p *Principal) {
	c.Locals(localsKey, p)
}

// FromContext returns the principal resolved by the auth middleware.
func FromContext(c *fiber.Ctx) (*Principal, error) {
	if p, ok := c.Locals(localsKey).(*Principal); ok && p != nil {
		return p, nil
	}
	return nil, ErrNoPrincipal
}

// Subject extracts the subject claim from the verified JWT in context.
func Subject(c *fiber.Ctx) (string, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok || token == nil {
		return "", errors.New("invalid token in context")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub claim")
	}
	return sub, nil
}
