package controllers

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/replyhub/replyhub/app/models"
	"github.com/replyhub/replyhub/internal/pkg/actorcontext"
	"github.com/replyhub/replyhub/internal/pkg/cache"
)

const subscriptionCacheTTL = 30 * time.Second

type changePlanRequest struct {
	PlanCode string `json:"plan_code" validate:"required,min=2,max=50"`
}

type cancelRequest struct {
	Immediate bool   `json:"immediate"`
	Reason    string `json:"reason" validate:"required,min=2,max=100"`
	Feedback  string `json:"feedback" validate:"max=2000"`
}

type suspendRequest struct {
	Reason string `json:"reason" validate:"required,min=2,max=200"`
}

type ensureSubscriptionRequest struct {
	GatewayCustomerRef string `json:"gateway_customer_ref" validate:"omitempty,max=191"`
}

// HandleEnsureSubscription bootstraps the trial subscription during tenant
// onboarding. Repeating the call for an existing tenant returns the current
// subscription unchanged.
func HandleEnsureSubscription(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}
	var req ensureSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	ctx, cancel := opCtx()
	defer cancel()
	sub, err := services.lifecycle.EnsureSubscription(ctx, orgID, req.GatewayCustomerRef)
	if err != nil {
		return respondBillingError(c, err)
	}
	invalidateSubscriptionCache(orgID)
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// HandleListPlans returns the active plan catalog.
func HandleListPlans(c *fiber.Ctx) error {
	plans, err := services.lifecycle.ListPlans(c.Context())
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleGetSubscription returns the organization's current subscription.
// Reads are cached briefly; every mutation path invalidates.
func HandleGetSubscription(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}

	cacheKey := subscriptionCacheKey(orgID)
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		var sub models.Subscription
		if json.Unmarshal([]byte(cached), &sub) == nil {
			return c.JSON(sub)
		}
	}

	ctx, cancel := opCtx()
	defer cancel()
	sub, err := services.lifecycle.GetSubscription(ctx, orgID)
	if err != nil {
		return respondBillingError(c, err)
	}
	if data, err := json.Marshal(sub); err == nil {
		if err := cache.Set(cacheKey, string(data), subscriptionCacheTTL); err != nil {
			log.Debugf("[Billing] subscription cache write failed: %v", err)
		}
	}
	return c.JSON(sub)
}

// HandleChangePlan upgrades or downgrades the organization's plan.
func HandleChangePlan(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}
	var req changePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	actor := actorcontext.GetActorContext(c)
	ctx, cancel := opCtx()
	defer cancel()
	sub, proration, err := services.lifecycle.ChangePlan(ctx, orgID, req.PlanCode, actor.Identity())
	if err != nil {
		return respondBillingError(c, err)
	}
	invalidateSubscriptionCache(orgID)

	body := fiber.Map{"subscription": sub}
	if proration != nil {
		body["proration"] = proration
	}
	return c.JSON(body)
}

// HandleCancelSubscription cancels immediately or at period end.
func HandleCancelSubscription(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	actor := actorcontext.GetActorContext(c)
	ctx, cancel := opCtx()
	defer cancel()
	sub, err := services.lifecycle.Cancel(ctx, orgID, req.Immediate, req.Reason, req.Feedback, actor.Identity())
	if err != nil {
		return respondBillingError(c, err)
	}
	invalidateSubscriptionCache(orgID)
	return c.JSON(sub)
}

// HandleReactivateSubscription restores a canceled subscription.
func HandleReactivateSubscription(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}
	actor := actorcontext.GetActorContext(c)
	ctx, cancel := opCtx()
	defer cancel()
	sub, err := services.lifecycle.Reactivate(ctx, orgID, actor.Identity())
	if err != nil {
		return respondBillingError(c, err)
	}
	invalidateSubscriptionCache(orgID)
	return c.JSON(sub)
}

// HandleSuspendSubscription parks a subscription for policy reasons.
// Admin only.
func HandleSuspendSubscription(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}
	var req suspendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	actor := actorcontext.GetActorContext(c)
	ctx, cancel := opCtx()
	defer cancel()
	sub, err := services.lifecycle.Suspend(ctx, orgID, req.Reason, actor.Identity())
	if err != nil {
		return respondBillingError(c, err)
	}
	invalidateSubscriptionCache(orgID)
	return c.JSON(sub)
}

// HandleUnsuspendSubscription restores the pre-suspension status. Admin only.
func HandleUnsuspendSubscription(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}
	actor := actorcontext.GetActorContext(c)
	ctx, cancel := opCtx()
	defer cancel()
	sub, err := services.lifecycle.Unsuspend(ctx, orgID, actor.Identity())
	if err != nil {
		return respondBillingError(c, err)
	}
	invalidateSubscriptionCache(orgID)
	return c.JSON(sub)
}

func orgIDParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("orgID"), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid organization id")
	}
	return uint(id), nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func subscriptionCacheKey(orgID uint) string {
	return "billing:subscription:" + strconv.FormatUint(uint64(orgID), 10)
}

func invalidateSubscriptionCache(orgID uint) {
	if err := cache.Delete(subscriptionCacheKey(orgID)); err != nil {
		log.Debugf("[Billing] subscription cache invalidation failed: %v", err)
	}
}
