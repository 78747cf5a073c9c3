package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/replyhub/replyhub/internal/pkg/actorcontext"
	"github.com/replyhub/replyhub/internal/pkg/billing"
)

type createRefundRequest struct {
	ChargeRef          string `json:"charge_ref" validate:"required,min=2,max=191"`
	AmountCents        int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency           string `json:"currency" validate:"omitempty,len=3"`
	Reason             string `json:"reason" validate:"required"`
	Detail             string `json:"detail" validate:"max=2000"`
	CancelSubscription bool   `json:"cancel_subscription"`
}

// HandleCreateRefund issues a refund for a gateway charge. When
// cancel_subscription is set the subscription is canceled immediately, but
// only after the gateway confirmed the refund.
func HandleCreateRefund(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}
	var req createRefundRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}
	actor := actorcontext.GetActorContext(c)

	ctx, cancel := opCtx()
	defer cancel()
	refund, err := services.refunds.ProcessRefund(ctx, billing.RefundRequest{
		OrganizationID:     orgID,
		ChargeRef:          req.ChargeRef,
		AmountCents:        req.AmountCents,
		Currency:           req.Currency,
		Reason:             req.Reason,
		Detail:             req.Detail,
		CancelSubscription: req.CancelSubscription,
		Actor:              actor.Identity(),
	})
	if err != nil {
		// A failed gateway call still produced a refund row; include it so
		// operators can correlate the failure.
		if refund != nil {
			status := billingErrorStatus(err)
			return c.Status(status).JSON(fiber.Map{"error": "refund_failed", "message": err.Error(), "refund": refund})
		}
		return respondBillingError(c, err)
	}
	if req.CancelSubscription {
		invalidateSubscriptionCache(orgID)
	}
	return c.Status(fiber.StatusCreated).JSON(refund)
}

// HandleListRefunds returns the organization's refunds, newest first.
func HandleListRefunds(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)

	ctx, cancel := opCtx()
	defer cancel()
	refunds, err := services.refunds.ListRefunds(ctx, orgID, offset, limit)
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(fiber.Map{"refunds": refunds, "count": len(refunds)})
}

// HandleGetRefund returns a single refund by id.
func HandleGetRefund(c *fiber.Ctx) error {
	orgID, err := orgIDParam(c)
	if err != nil {
		return err
	}
	ctx, cancel := opCtx()
	defer cancel()
	refund, err := services.refunds.GetRefund(ctx, c.Params("refundID"))
	if err != nil {
		if billing.KindOf(err) == billing.ErrKindValidation {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Refund not found"})
		}
		return respondBillingError(c, err)
	}
	if refund.OrganizationID != orgID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Refund not found"})
	}
	return c.JSON(refund)
}

// billingErrorStatus mirrors respondBillingError's mapping without writing
// the response, for handlers that attach extra payload.
func billingErrorStatus(err error) int {
	switch billing.KindOf(err) {
	case billing.ErrKindValidation:
		return fiber.StatusBadRequest
	case billing.ErrKindAuthentication:
		return fiber.StatusUnauthorized
	case billing.ErrKindConflict:
		return fiber.StatusConflict
	case billing.ErrKindGateway:
		if billing.IsRetryable(err) {
			return fiber.StatusServiceUnavailable
		}
		return fiber.StatusBadGateway
	default:
		return fiber.StatusServiceUnavailable
	}
}
