package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"gorm.io/gorm"

	"github.com/mirroros/public-api/internal/config"
	"github.com/mirroros/public-api/internal/handlers"
	"github.com/mirroros/public-api/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	db *gorm.DB,
	authHandler *handlers.AuthHandler,
	predictionHandler *handlers.PredictionHandler,
	billingHandler *handlers.BillingHandler,
	webhookHandler *handlers.WebhookHandler,
	whitelistHandler *handlers.WhitelistHandler,
	healthHandler *handlers.HealthHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)
	api.Get("/health/deep", healthHandler.Deep)

	// Auth — public, with a stricter limit: 10 req/min per IP
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/refresh", authHandler.Refresh)
	auth.Post("/demo", authHandler.Demo)

	// Everything below needs a verified token and a resolved principal.
	protected := []fiber.Handler{
		middleware.JWTProtected(cfg),
		middleware.PrincipalLoader(db, cfg),
	}

	api.Post("/auth/logout", append(protected, authHandler.Logout)...)
	api.Get("/auth/profile", append(protected, authHandler.Profile)...)
	api.Put("/auth/profile", append(protected, authHandler.UpdateProfile)...)
	api.Post("/auth/change-password", append(protected, authHandler.ChangePassword)...)
	api.Delete("/auth/account", append(protected, authHandler.DeleteAccount)...)

	api.Post("/predict", append(protected, predictionHandler.Predict)...)
	api.Get("/predict/limits", append(protected, predictionHandler.Limits)...)
	api.Get("/predict/usage", append(protected, predictionHandler.History)...)
	api.Get("/usage", append(protected, predictionHandler.Usage)...)

	payments := api.Group("/payments", protected...)
	payments.Post("/checkout-session", billingHandler.CreateCheckoutSession)
	payments.Post("/portal-session", billingHandler.CreatePortalSession)
	payments.Get("/subscription", billingHandler.SubscriptionStatus)
	payments.Post("/apple/validate-receipt", billingHandler.ValidateAppleReceipt)

	// Stripe calls this directly; signature verification replaces JWT auth.
	api.Post("/payments/webhook/stripe", webhookHandler.HandleStripe)

	// Admin whitelist management. The admin middleware also accepts the
	// static token, so the JWT pair stays optional here.
	admin := api.Group("/admin", middleware.JWTOptional(cfg), middleware.PrincipalLoaderOptional(db, cfg), middleware.AdminRequired(cfg))
	admin.Get("/whitelist", whitelistHandler.List)
	admin.Post("/whitelist", whitelistHandler.Create)
	admin.Delete("/whitelist/:id", whitelistHandler.Delete)
}
