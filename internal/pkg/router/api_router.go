package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/replyhub/replyhub/app/controllers"
	"github.com/replyhub/replyhub/internal/pkg/middleware"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// InstallRouter registers the authenticated billing API. Every route requires
// an API key; suspension and webhook event operations additionally require an
// admin actor.
func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api/v1/billing", middleware.APIKeyAuthMiddleware())

	api.Get("/plans", controllers.HandleListPlans)
	api.Get("/organizations", middleware.RequireAdmin(), controllers.HandleListOrganizations)

	org := api.Group("/organizations/:orgID")
	org.Get("/subscription", controllers.HandleGetSubscription)
	org.Post("/subscription", middleware.RequireAdmin(), controllers.HandleEnsureSubscription)
	org.Post("/subscription/change-plan", controllers.HandleChangePlan)
	org.Post("/subscription/cancel", controllers.HandleCancelSubscription)
	org.Post("/subscription/reactivate", controllers.HandleReactivateSubscription)
	org.Post("/subscription/suspend", middleware.RequireAdmin(), controllers.HandleSuspendSubscription)
	org.Post("/subscription/unsuspend", middleware.RequireAdmin(), controllers.HandleUnsuspendSubscription)

	org.Post("/refunds", controllers.HandleCreateRefund)
	org.Get("/refunds", controllers.HandleListRefunds)
	org.Get("/refunds/:refundID", controllers.HandleGetRefund)

	events := api.Group("/webhook-events", middleware.RequireAdmin())
	events.Get("/:eventID", controllers.HandleGetWebhookEvent)
	events.Post("/:eventID/retry", controllers.HandleRetryWebhookEvent)
}
