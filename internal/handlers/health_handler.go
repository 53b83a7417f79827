package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mirroros/public-api/internal/database"
	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/gateway"
)

type HealthHandler struct {
	gateway *gateway.Client
}

func NewHealthHandler(gw *gateway.Client) *HealthHandler {
	return &HealthHandler{gateway: gw}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := database.Ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
	})
}

// Deep also probes the private prediction service. Kept off the public
// health path so load balancer checks stay cheap.
func (h *HealthHandler) Deep(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := database.Ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	upstream := "ok"
	if h.gateway == nil {
		upstream = "not configured"
	} else if err := h.gateway.Health(c.UserContext()); err != nil {
		upstream = "unhealthy: " + err.Error()
	}

	return c.JSON(fiber.Map{
		"status":             "ok",
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"db":                 dbStatus,
		"prediction_service": upstream,
	})
}
