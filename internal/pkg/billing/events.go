package billing

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType enumerates the gateway event types this system acts on. Anything
// else parses to EventTypeUnknown and is acknowledged as a completed no-op so
// the gateway stops redelivering it.
type EventType string

const (
	EventTypePaymentSucceeded     EventType = "payment.succeeded"
	EventTypePaymentFailed        EventType = "payment.failed"
	EventTypeSubscriptionCanceled EventType = "subscription.canceled"
	EventTypeRefundCompleted      EventType = "refund.completed"
	EventTypeUnknown              EventType = "unknown"
)

// PaymentSucceededEvent confirms a charge for an organization's subscription.
type PaymentSucceededEvent struct {
	OrganizationID uint       `json:"organization_id"`
	ChargeRef      string     `json:"charge_ref"`
	PeriodStart    *time.Time `json:"period_start,omitempty"`
	PeriodEnd      *time.Time `json:"period_end,omitempty"`
}

// PaymentFailedEvent reports a failed recurring charge.
type PaymentFailedEvent struct {
	OrganizationID uint   `json:"organization_id"`
	ChargeRef      string `json:"charge_ref"`
	FailureCode    string `json:"failure_code"`
}

// SubscriptionCanceledEvent reports a gateway-side cancellation, e.g. the
// gateway detecting an elapsed final period.
type SubscriptionCanceledEvent struct {
	OrganizationID  uint   `json:"organization_id"`
	SubscriptionRef string `json:"subscription_ref"`
}

// RefundCompletedEvent confirms an asynchronously settled refund.
type RefundCompletedEvent struct {
	OrganizationID uint   `json:"organization_id"`
	RefundRef      string `json:"refund_ref"`
	ChargeRef      string `json:"charge_ref"`
}

// Event is the parsed form of a gateway webhook payload: one variant pointer
// is set according to Type. Unknown event types carry no variant.
type Event struct {
	ID   string
	Type EventType

	PaymentSucceeded     *PaymentSucceededEvent
	PaymentFailed        *PaymentFailedEvent
	SubscriptionCanceled *SubscriptionCanceledEvent
	RefundCompleted      *RefundCompletedEvent
}

type rawEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a raw gateway payload into its typed variant. A payload
// that is not valid JSON or lacks the envelope fields is a validation error;
// an unrecognized type is not.
func ParseEvent(payload []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, NewValidationError("webhook payload is not valid JSON: %v", err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, NewValidationError("webhook payload missing event id")
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, NewValidationError("webhook payload missing event type")
	}

	ev := &Event{ID: strings.TrimSpace(raw.ID)}
	switch EventType(raw.Type) {
	case EventTypePaymentSucceeded:
		var data PaymentSucceededEvent
		if err := unmarshalEventData(raw.Data, &data); err != nil {
			return nil, err
		}
		if data.OrganizationID == 0 {
			return nil, NewValidationError("payment.succeeded payload missing organization id")
		}
		ev.Type = EventTypePaymentSucceeded
		ev.PaymentSucceeded = &data
	case EventTypePaymentFailed:
		var data PaymentFailedEvent
		if err := unmarshalEventData(raw.Data, &data); err != nil {
			return nil, err
		}
		if data.OrganizationID == 0 {
			return nil, NewValidationError("payment.failed payload missing organization id")
		}
		ev.Type = EventTypePaymentFailed
		ev.PaymentFailed = &data
	case EventTypeSubscriptionCanceled:
		var data SubscriptionCanceledEvent
		if err := unmarshalEventData(raw.Data, &data); err != nil {
			return nil, err
		}
		if data.OrganizationID == 0 {
			return nil, NewValidationError("subscription.canceled payload missing organization id")
		}
		ev.Type = EventTypeSubscriptionCanceled
		ev.SubscriptionCanceled = &data
	case EventTypeRefundCompleted:
		var data RefundCompletedEvent
		if err := unmarshalEventData(raw.Data, &data); err != nil {
			return nil, err
		}
		if strings.TrimSpace(data.RefundRef) == "" {
			return nil, NewValidationError("refund.completed payload missing refund ref")
		}
		ev.Type = EventTypeRefundCompleted
		ev.RefundCompleted = &data
	default:
		ev.Type = EventTypeUnknown
	}
	return ev, nil
}

func unmarshalEventData(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return NewValidationError("webhook payload missing data object")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewValidationError("webhook payload data malformed: %v", err)
	}
	return nil
}
