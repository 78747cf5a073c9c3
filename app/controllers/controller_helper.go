package controllers

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/replyhub/replyhub/internal/pkg/audit"
	"github.com/replyhub/replyhub/internal/pkg/billing"
	"github.com/replyhub/replyhub/internal/pkg/env"
)

var validate = validator.New()

// billingServices bundles the billing subsystem the controllers delegate to.
type billingServices struct {
	lifecycle  *billing.LifecycleService
	refunds    *billing.RefundManager
	dispatcher *billing.Dispatcher
	worker     *billing.RetryWorker
}

var (
	services     *billingServices
	servicesOnce sync.Once
)

// InitBillingServices wires the billing subsystem once. Called from the
// router during startup; tests may call it with their own DB handle.
func InitBillingServices(db *gorm.DB) *billingServices {
	servicesOnce.Do(func() {
		repo := billing.NewRepository(db)
		sink := audit.NewSink(db)
		gateway := billing.NewGatewayFromEnv()
		lifecycle := billing.NewLifecycleService(repo, gateway, sink, billing.PolicyFromEnv())
		refunds := billing.NewRefundManager(repo, gateway, lifecycle, sink)
		dispatcher := billing.NewDispatcher(repo, lifecycle, refunds, env.GetEnv("BILLING_WEBHOOK_SECRET", ""))
		dispatcher.SetStats(billing.RedisStats{})
		worker := billing.NewRetryWorker(repo, dispatcher, lifecycle, 0)

		services = &billingServices{
			lifecycle:  lifecycle,
			refunds:    refunds,
			dispatcher: dispatcher,
			worker:     worker,
		}
	})
	return services
}

// StartBillingWorker launches the background retry/period-end sweeper.
func StartBillingWorker() {
	if services != nil {
		services.worker.Start()
	}
}

// StopBillingWorker halts the background sweeper.
func StopBillingWorker() {
	if services != nil {
		services.worker.Stop()
	}
}

// respondBillingError maps the billing error taxonomy onto HTTP statuses.
// Retryable failures signal "the system will self-heal", non-retryable
// gateway failures "this requires operator intervention".
func respondBillingError(c *fiber.Ctx, err error) error {
	switch billing.KindOf(err) {
	case billing.ErrKindValidation:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	case billing.ErrKindAuthentication:
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": err.Error()})
	case billing.ErrKindConflict:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	case billing.ErrKindGateway:
		if billing.IsRetryable(err) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "gateway_unavailable", "message": "Payment gateway temporarily unavailable, retry later"})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_rejected", "message": err.Error()})
	default:
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporarily_unavailable", "message": "Temporary failure, retry later"})
	}
}
