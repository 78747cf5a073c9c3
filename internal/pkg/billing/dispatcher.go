package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/replyhub/replyhub/app/models"
	"gorm.io/gorm"
)

// Outcome codes returned by the dispatcher.
const (
	OutcomeProcessed        = "processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeInFlight         = "in_flight"
	OutcomeIgnored          = "ignored"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeInvalidPayload   = "invalid_payload"
	OutcomeRetryScheduled   = "retry_scheduled"
	OutcomeFailedPermanent  = "failed_permanent"
)

// Outcome describes how a webhook delivery was resolved. HTTPStatus maps
// directly to whether the gateway should redeliver: 2xx and 4xx stop
// redelivery, 5xx requests it.
type Outcome struct {
	EventID    string `json:"event_id,omitempty"`
	Code       string `json:"code"`
	Result     string `json:"result,omitempty"`
	HTTPStatus int    `json:"-"`
}

// StatsRecorder receives processing counters. Nil-safe from the dispatcher's
// point of view; the background worker installs a Redis-backed one.
type StatsRecorder interface {
	Incr(field string)
}

// Dispatcher routes verified, deduplicated gateway events into lifecycle and
// refund effects. It owns the retry schedule for internally-failed
// processing.
type Dispatcher struct {
	repo      Repository
	lifecycle *LifecycleService
	refunds   *RefundManager
	secret    string
	policy    Policy
	stats     StatsRecorder
}

// NewDispatcher wires the webhook dispatcher. secret is the shared HMAC
// webhook secret.
func NewDispatcher(repo Repository, lifecycle *LifecycleService, refunds *RefundManager, secret string) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		lifecycle: lifecycle,
		refunds:   refunds,
		secret:    secret,
		policy:    lifecycle.Policy(),
	}
}

// SetStats installs a processing counter sink.
func (d *Dispatcher) SetStats(stats StatsRecorder) {
	d.stats = stats
}

func (d *Dispatcher) count(field string) {
	if d.stats != nil {
		d.stats.Incr(field)
	}
}

// Handle runs the full inbound pipeline for one webhook delivery:
// verify signature, reserve the event id, short-circuit duplicates, parse,
// dispatch, record the outcome.
func (d *Dispatcher) Handle(ctx context.Context, rawBody []byte, signatureHeader string) (*Outcome, error) {
	if !VerifyWebhookSignature(rawBody, signatureHeader, d.secret) {
		d.count("invalid_signature")
		return &Outcome{Code: OutcomeInvalidSignature, HTTPStatus: 401},
			NewAuthenticationError("webhook signature verification failed")
	}

	eventID, eventType, err := peekEnvelope(rawBody)
	if err != nil {
		d.count("invalid_payload")
		return &Outcome{Code: OutcomeInvalidPayload, HTTPStatus: 400}, err
	}

	created, stored, reserveErr := d.repo.ReserveEvent(&models.WebhookEvent{
		EventID:     eventID,
		EventType:   eventType,
		PayloadJSON: string(rawBody),
		Status:      models.WebhookEventStatusPending,
	})
	if reserveErr != nil {
		// The ledger is unavailable; ask the gateway to redeliver.
		return &Outcome{EventID: eventID, Code: OutcomeRetryScheduled, HTTPStatus: 500},
			NewTransientError("webhook event reservation failed", reserveErr)
	}

	if !created {
		switch stored.Status {
		case models.WebhookEventStatusCompleted:
			d.count("duplicate")
			return &Outcome{EventID: eventID, Code: OutcomeDuplicate, Result: stored.Result, HTTPStatus: 200}, nil
		case models.WebhookEventStatusPending, models.WebhookEventStatusProcessing:
			// Another delivery path is already working on it. A record not
			// touched within the lease lost its holder; let this redelivery
			// claim it instead of acknowledging into a dead end.
			if !d.leaseExpired(stored) {
				d.count("duplicate")
				return &Outcome{EventID: eventID, Code: OutcomeInFlight, HTTPStatus: 200}, nil
			}
		case models.WebhookEventStatusFailed:
			// Redelivery of a failed event doubles as a retry if attempts remain.
			if !stored.IsRetryable(d.policy.MaxWebhookAttempts) {
				return &Outcome{EventID: eventID, Code: OutcomeFailedPermanent, HTTPStatus: 200}, nil
			}
		}
	}

	claimed, err := d.repo.ClaimEvent(stored.ID, d.policy.MaxWebhookAttempts, d.staleBefore())
	if err != nil {
		return &Outcome{EventID: eventID, Code: OutcomeRetryScheduled, HTTPStatus: 500},
			NewTransientError("webhook event claim failed", err)
	}
	if !claimed {
		// Lost the claim race to a concurrent delivery or the retry worker.
		d.count("duplicate")
		return &Outcome{EventID: eventID, Code: OutcomeInFlight, HTTPStatus: 200}, nil
	}

	stored.Attempts++
	return d.process(ctx, stored)
}

// staleBefore is the cutoff behind which a pending or processing record is
// considered abandoned by whoever claimed it.
func (d *Dispatcher) staleBefore() time.Time {
	return time.Now().Add(-d.policy.ProcessingLease)
}

func (d *Dispatcher) leaseExpired(event *models.WebhookEvent) bool {
	return !event.UpdatedAt.After(d.staleBefore())
}

// Retry re-runs processing for an event claimed from the retry sweep.
func (d *Dispatcher) Retry(ctx context.Context, event *models.WebhookEvent) (*Outcome, error) {
	claimed, err := d.repo.ClaimEvent(event.ID, d.policy.MaxWebhookAttempts, d.staleBefore())
	if err != nil {
		return nil, NewTransientError("webhook event claim failed", err)
	}
	if !claimed {
		return &Outcome{EventID: event.EventID, Code: OutcomeInFlight, HTTPStatus: 200}, nil
	}
	event.Attempts++
	return d.process(ctx, event)
}

// ManualRetry re-invokes the pipeline for an operator-selected failed event,
// reusing the stored raw payload. A manual retry of an event a late
// redelivery already completed is a safe no-op.
func (d *Dispatcher) ManualRetry(ctx context.Context, eventID string) (*Outcome, error) {
	event, err := d.repo.GetEventByEventID(eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewValidationError("webhook event %q not found", eventID)
		}
		return nil, NewTransientError("webhook event lookup failed", err)
	}
	if event.Status == models.WebhookEventStatusCompleted {
		return &Outcome{EventID: event.EventID, Code: OutcomeDuplicate, Result: event.Result, HTTPStatus: 200}, nil
	}
	switch event.Status {
	case models.WebhookEventStatusFailed:
	case models.WebhookEventStatusPending, models.WebhookEventStatusProcessing:
		// Reclaimable only once the lease ran out; otherwise a worker still
		// holds it.
		if !d.leaseExpired(event) {
			return nil, NewConflictError("webhook event %q is still in flight, retry once it settles", eventID)
		}
	default:
		return nil, NewConflictError("webhook event %q is %s, only failed or stalled events can be retried", eventID, event.Status)
	}
	if event.Attempts > d.policy.MaxWebhookAttempts {
		return nil, NewConflictError("webhook event %q already exceeded the attempt bound", eventID)
	}

	// Operators get one claim beyond the automatic bound.
	claimed, err := d.repo.ClaimEvent(event.ID, d.policy.MaxWebhookAttempts+1, d.staleBefore())
	if err != nil {
		return nil, NewTransientError("webhook event claim failed", err)
	}
	if !claimed {
		return &Outcome{EventID: event.EventID, Code: OutcomeInFlight, HTTPStatus: 200}, nil
	}
	event.Attempts++
	return d.process(ctx, event)
}

// process parses the stored payload and applies the mapped effect, then
// records the terminal state on the idempotency record.
func (d *Dispatcher) process(ctx context.Context, event *models.WebhookEvent) (*Outcome, error) {
	ev, err := ParseEvent([]byte(event.PayloadJSON))
	if err != nil {
		d.count("invalid_payload")
		d.failEvent(event, err, false)
		return &Outcome{EventID: event.EventID, Code: OutcomeInvalidPayload, HTTPStatus: 400}, err
	}

	var (
		changed bool
		effect  string
	)
	switch ev.Type {
	case EventTypePaymentSucceeded:
		changed, err = d.lifecycle.HandlePaymentSucceeded(ctx, ev.PaymentSucceeded.OrganizationID,
			ev.PaymentSucceeded.PeriodStart, ev.PaymentSucceeded.PeriodEnd)
		effect = "payment_succeeded"
	case EventTypePaymentFailed:
		changed, err = d.lifecycle.HandlePaymentFailed(ctx, ev.PaymentFailed.OrganizationID)
		effect = "payment_failed"
	case EventTypeSubscriptionCanceled:
		changed, err = d.lifecycle.HandleGatewayCancellation(ctx, ev.SubscriptionCanceled.OrganizationID)
		effect = "subscription_canceled"
	case EventTypeRefundCompleted:
		changed, err = d.refunds.HandleGatewayRefundCompleted(ctx, ev.RefundCompleted.RefundRef)
		effect = "refund_settled"
	default:
		// Intentionally ignored event types are completed no-ops so the
		// gateway is never told to retry them.
		if markErr := d.repo.MarkEventCompleted(event.ID, "ignored"); markErr != nil {
			return &Outcome{EventID: event.EventID, Code: OutcomeRetryScheduled, HTTPStatus: 500},
				NewTransientError("webhook event completion failed", markErr)
		}
		d.count("ignored")
		return &Outcome{EventID: event.EventID, Code: OutcomeIgnored, HTTPStatus: 200}, nil
	}

	if err != nil {
		retryable := IsRetryable(err)
		d.failEvent(event, err, retryable)
		if retryable {
			d.count("retry_scheduled")
			return &Outcome{EventID: event.EventID, Code: OutcomeRetryScheduled, HTTPStatus: 500}, err
		}
		d.count("failed_permanent")
		return &Outcome{EventID: event.EventID, Code: OutcomeFailedPermanent, HTTPStatus: 200}, err
	}

	result := effect
	if !changed {
		result = effect + ":noop"
	}
	if markErr := d.repo.MarkEventCompleted(event.ID, result); markErr != nil {
		// The effect applied; a redelivery will resolve as a state-machine
		// no-op, so surface a retryable failure rather than losing the record.
		return &Outcome{EventID: event.EventID, Code: OutcomeRetryScheduled, HTTPStatus: 500},
			NewTransientError("webhook event completion failed", markErr)
	}
	d.count("processed")
	return &Outcome{EventID: event.EventID, Code: OutcomeProcessed, Result: result, HTTPStatus: 200}, nil
}

// failEvent records the failure and, for retryable errors with attempts
// remaining, schedules the next attempt with exponential backoff.
func (d *Dispatcher) failEvent(event *models.WebhookEvent, cause error, retryable bool) {
	var nextRetryAt *time.Time
	if retryable && event.Attempts < d.policy.MaxWebhookAttempts {
		next := time.Now().Add(backoffDelay(d.policy.RetryBaseDelay, event.Attempts))
		nextRetryAt = &next
	}
	if err := d.repo.MarkEventFailed(event.ID, cause.Error(), nextRetryAt); err != nil {
		log.Errorf("[Webhook] failed to record failure for event %s: %v", event.EventID, err)
	}
	if nextRetryAt == nil {
		log.Warnf("[Webhook] event %s permanently failed after %d attempts: %v", event.EventID, event.Attempts, cause)
	}
}

// backoffDelay doubles the base delay per prior attempt, capped at one hour.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base << (attempts - 1)
	if delay > time.Hour || delay <= 0 {
		delay = time.Hour
	}
	return delay
}

// peekEnvelope extracts the event id and type without decoding the variant
// payload, so the idempotency reservation can happen before full parsing.
func peekEnvelope(payload []byte) (string, string, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", "", NewValidationError("webhook payload is not valid JSON: %v", err)
	}
	if raw.ID == "" {
		return "", "", NewValidationError("webhook payload missing event id")
	}
	if raw.Type == "" {
		return "", "", NewValidationError("webhook payload missing event type")
	}
	return raw.ID, raw.Type, nil
}

// GetEvent returns one webhook event record for operator inspection.
func (d *Dispatcher) GetEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	_ = ctx
	event, err := d.repo.GetEventByEventID(eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewValidationError("webhook event %q not found", eventID)
		}
		return nil, NewTransientError("webhook event lookup failed", err)
	}
	return event, nil
}
