package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mirroros/public-api/internal/config"
	"github.com/mirroros/public-api/internal/dto"
	"github.com/mirroros/public-api/internal/gateway"
	"github.com/mirroros/public-api/internal/models"
	"github.com/mirroros/public-api/internal/principal"
	"github.com/mirroros/public-api/internal/services"
)

// Error codes recorded on prediction_requests and returned to clients.
const (
	codeValidation   = "validation_error"
	codeQuota        = "quota_exceeded"
	codeTimeout      = "timeout"
	codeConnection   = "connection_error"
	codeServiceBusy  = "service_busy"
	codeUpstream     = "upstream_error"
	codeUnconfigured = "service_unavailable"
)

// Goal text bounds, shared with the private service.
const (
	goalMinLen      = 10
	goalMaxLen      = 5000
	timeframeMaxLen = 100
	contextMaxLen   = 1000
)

type PredictionHandler struct {
	db      *gorm.DB
	cfg     *config.Config
	quota   *services.QuotaService
	gateway *gateway.Client
}

func NewPredictionHandler(db *gorm.DB, cfg *config.Config, quota *services.QuotaService, gw *gateway.Client) *PredictionHandler {
	return &PredictionHandler{db: db, cfg: cfg, quota: quota, gateway: gw}
}

// Predict validates the request, reserves quota and proxies to the private
// prediction service. Quota is only kept when the upstream answers 200; any
// failure releases the reserved unit, so failed calls never cost the user.
func (h *PredictionHandler) Predict(c *fiber.Ctx) error {
	p, err := principal.FromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.PredictRequest
	if err := c.BodyParser(&req); err != nil {
		return predictError(c, fiber.StatusBadRequest, codeValidation, "Invalid request body")
	}

	if details := validatePredictRequest(&req); len(details) > 0 {
		h.recordRequest(p, &req, false, strPtr(codeValidation), nil)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Validation failed", Details: details,
		})
	}

	remaining, err := h.quota.CheckAndReserve(p)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrQuotaExceeded):
			h.recordRequest(p, &req, false, strPtr(codeQuota), nil)
			usage, _ := h.quota.Usage(p)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   true,
				"code":    codeQuota,
				"message": "Daily prediction limit reached",
				"usage":   usage,
			})
		case errors.Is(err, services.ErrUserInactive):
			return predictError(c, fiber.StatusForbidden, codeValidation, "Account is inactive")
		default:
			return predictError(c, fiber.StatusInternalServerError, codeUpstream, "Internal server error")
		}
	}

	if h.gateway == nil {
		h.releaseAndRecord(p, &req, codeUnconfigured)
		return predictError(c, fiber.StatusServiceUnavailable, codeUnconfigured, "Prediction service is not configured")
	}

	requestID := requestID(c)
	envelope := gateway.PredictEnvelope{
		UserID:    p.Subject(),
		UserTier:  p.Tier,
		RequestID: requestID,
		Request:   req,
	}

	result, err := h.gateway.Predict(c.UserContext(), envelope)
	if err != nil {
		status, code, message := classifyGatewayError(err)
		h.releaseAndRecord(p, &req, code)
		slog.Warn("prediction proxy failed",
			"request_id", requestID,
			"code", code,
			"error", err.Error())
		return predictError(c, status, code, message)
	}

	responseMs := int(result.Duration.Milliseconds())
	h.recordRequest(p, &req, true, nil, &responseMs)
	h.recordVector(p, &req, result.Payload)

	result.Payload["metadata"] = dto.PredictMetadata{
		UserTier:                  p.Tier,
		ResponseTimeMs:            responseMs,
		RequestID:                 requestID,
		PredictionsRemainingToday: remaining,
	}
	return c.JSON(result.Payload)
}

// Limits reports the tier limits for the authenticated principal.
func (h *PredictionHandler) Limits(c *fiber.Ctx) error {
	p, err := principal.FromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	return c.JSON(fiber.Map{
		"tier":   p.Tier,
		"limits": services.LimitsForTier(p.Tier),
	})
}

// Usage reports current quota counters without consuming quota.
func (h *PredictionHandler) Usage(c *fiber.Ctx) error {
	p, err := principal.FromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	resp, err := h.quota.Usage(p)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to load usage",
		})
	}
	return c.JSON(resp)
}

// History extends usage with lifetime stats and recent request outcomes.
// Registered users only: the demo identity keeps no history.
func (h *PredictionHandler) History(c *fiber.Ctx) error {
	p, ok := registeredPrincipal(c)
	if !ok {
		return nil
	}

	resp, err := h.quota.PredictionUsage(p, c.QueryInt("limit", 10))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to load prediction history",
		})
	}
	return c.JSON(resp)
}

func (h *PredictionHandler) releaseAndRecord(p *principal.Principal, req *dto.PredictRequest, code string) {
	if err := h.quota.Release(p); err != nil {
		slog.Error("failed to release quota", "error", err.Error())
	}
	h.recordRequest(p, req, false, strPtr(code), nil)
}

// recordRequest appends an audit row for a registered user's attempt. Demo
// traffic is not persisted.
func (h *PredictionHandler) recordRequest(p *principal.Principal, req *dto.PredictRequest, success bool, errorCode *string, responseMs *int) {
	if p.Demo {
		return
	}

	record := models.PredictionRequest{
		ID:             uuid.New(),
		UserID:         p.ID,
		RequestHash:    hashRequest(req),
		Success:        success,
		ErrorCode:      errorCode,
		ResponseTimeMs: responseMs,
	}
	if err := h.db.Create(&record).Error; err != nil {
		slog.Error("failed to record prediction request", "error", err.Error())
	}
}

// recordVector stores the prediction inputs and outputs for later model
// evaluation. Strictly opt-in via config; never stores demo traffic.
func (h *PredictionHandler) recordVector(p *principal.Principal, req *dto.PredictRequest, payload map[string]interface{}) {
	if !h.cfg.AnalyticsEnabled || p.Demo {
		return
	}

	vector := models.PredictionVector{
		ID:       uuid.New(),
		UserID:   p.ID,
		GoalText: req.Goal,
	}
	if req.Timeframe != "" {
		vector.Timeframe = &req.Timeframe
	}
	if req.Context != "" {
		vector.Context = &req.Context
	}
	if prob, ok := payload["probability"].(float64); ok {
		vector.Probability = prob
	}
	if features, ok := payload["features"]; ok {
		if raw, err := json.Marshal(features); err == nil {
			vector.Features = datatypes.JSON(raw)
		}
	}
	if breakdown, ok := payload["breakdown"]; ok {
		if raw, err := json.Marshal(breakdown); err == nil {
			vector.Breakdown = datatypes.JSON(raw)
		}
	}

	if err := h.db.Create(&vector).Error; err != nil {
		slog.Error("failed to record prediction vector", "error", err.Error())
	}
}

func validatePredictRequest(req *dto.PredictRequest) []string {
	var details []string
	goal := strings.TrimSpace(req.Goal)
	if len(goal) < goalMinLen {
		details = append(details, "goal must be at least 10 characters")
	}
	if len(goal) > goalMaxLen {
		details = append(details, "goal must be at most 5000 characters")
	}
	if len(req.Timeframe) > timeframeMaxLen {
		details = append(details, "timeframe must be at most 100 characters")
	}
	if len(req.Context) > contextMaxLen {
		details = append(details, "context must be at most 1000 characters")
	}
	return details
}

func classifyGatewayError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, gateway.ErrTimeout):
		return fiber.StatusGatewayTimeout, codeTimeout, "Prediction service timed out"
	case errors.Is(err, gateway.ErrUnavailable):
		return fiber.StatusServiceUnavailable, codeConnection, "Prediction service is unreachable"
	case errors.Is(err, gateway.ErrBusy):
		return fiber.StatusTooManyRequests, codeServiceBusy, "Prediction service is busy, try again shortly"
	case errors.Is(err, gateway.ErrNotConfigured):
		return fiber.StatusServiceUnavailable, codeUnconfigured, "Prediction service is not configured"
	}

	var upstream *gateway.UpstreamError
	if errors.As(err, &upstream) {
		if upstream.Status == fiber.StatusBadRequest {
			return fiber.StatusBadRequest, codeValidation, upstream.Message
		}
		return fiber.StatusBadGateway, codeUpstream, "Prediction service returned an error"
	}
	return fiber.StatusBadGateway, codeUpstream, "Prediction service returned an error"
}

func predictError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   true,
		"code":    code,
		"message": message,
	})
}

// hashRequest fingerprints the request body for the audit trail without
// storing the goal text itself.
func hashRequest(req *dto.PredictRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Goal))
	h.Write([]byte{0})
	h.Write([]byte(req.Timeframe))
	h.Write([]byte{0})
	h.Write([]byte(req.Context))
	return hex.EncodeToString(h.Sum(nil))
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func strPtr(s string) *string { return &s }
