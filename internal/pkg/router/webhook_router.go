package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/replyhub/replyhub/app/controllers"
	"github.com/replyhub/replyhub/internal/pkg/cache"
	"github.com/replyhub/replyhub/internal/pkg/database"
	"github.com/replyhub/replyhub/internal/pkg/env"
)

type WebhookRouter struct {
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

// InstallRouter wires the billing services and exposes the public webhook
// endpoint. The endpoint is rate limited per source IP; limiter state lives
// in Redis so all instances share one budget.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	controllers.InitBillingServices(database.GetDB())

	app.Post("/webhooks/billing", webhookLimiter(), controllers.HandleBillingWebhook)
}

func webhookLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Storage:    limiterStorage(),
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many webhook deliveries, slow down",
			})
		},
	})
}

// limiterStorage builds a Redis storage from the existing cache connection.
// Database 1 keeps limiter keys separate from the cache (DB 0).
func limiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
