package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const webhookSignatureHeader = "X-Billing-Signature"

// HandleBillingWebhook accepts gateway webhook deliveries. The raw body is
// captured before any parsing because the gateway signs the exact bytes sent.
// The response status tells the gateway whether to redeliver: 2xx/4xx stop
// redelivery, 5xx requests it.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(webhookSignatureHeader))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	outcome, err := services.dispatcher.Handle(ctx, rawBody, signature)
	if err != nil && outcome == nil {
		return respondBillingError(c, err)
	}
	body := fiber.Map{"ok": outcome.HTTPStatus < 400, "code": outcome.Code}
	if outcome.EventID != "" {
		body["event_id"] = outcome.EventID
	}
	if outcome.Result != "" {
		body["result"] = outcome.Result
	}
	return c.Status(outcome.HTTPStatus).JSON(body)
}

// HandleGetWebhookEvent exposes the stored delivery record for operators
// debugging gateway integrations.
func HandleGetWebhookEvent(c *fiber.Ctx) error {
	ctx, cancel := opCtx()
	defer cancel()
	event, err := services.dispatcher.GetEvent(ctx, c.Params("eventID"))
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(event)
}

// HandleRetryWebhookEvent re-runs a failed event on operator demand, even
// past the automatic retry bound.
func HandleRetryWebhookEvent(c *fiber.Ctx) error {
	ctx, cancel := opCtx()
	defer cancel()
	outcome, err := services.dispatcher.ManualRetry(ctx, c.Params("eventID"))
	if err != nil && outcome == nil {
		return respondBillingError(c, err)
	}
	body := fiber.Map{"ok": outcome.HTTPStatus < 400, "code": outcome.Code}
	if outcome.Result != "" {
		body["result"] = outcome.Result
	}
	return c.Status(outcome.HTTPStatus).JSON(body)
}
