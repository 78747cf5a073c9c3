package billing

import (
	"testing"
)

func TestParseEvent_PaymentSucceeded(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "payment.succeeded",
		"data": {
			"organization_id": 42,
			"charge_ref": "ch_100",
			"period_start": "2026-01-01T00:00:00Z",
			"period_end": "2026-01-31T00:00:00Z"
		}
	}`)

	ev, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventTypePaymentSucceeded {
		t.Fatalf("envelope mismatch: %+v", ev)
	}
	if ev.PaymentSucceeded == nil {
		t.Fatalf("expected payment succeeded variant")
	}
	if ev.PaymentSucceeded.OrganizationID != 42 || ev.PaymentSucceeded.ChargeRef != "ch_100" {
		t.Fatalf("variant mismatch: %+v", ev.PaymentSucceeded)
	}
	if ev.PaymentSucceeded.PeriodStart == nil || ev.PaymentSucceeded.PeriodEnd == nil {
		t.Fatalf("expected period bounds to be parsed")
	}
}

func TestParseEvent_Variants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    EventType
	}{
		{
			name:    "payment failed",
			payload: `{"id":"evt_2","type":"payment.failed","data":{"organization_id":42,"charge_ref":"ch_101","failure_code":"card_declined"}}`,
			want:    EventTypePaymentFailed,
		},
		{
			name:    "subscription canceled",
			payload: `{"id":"evt_3","type":"subscription.canceled","data":{"organization_id":42,"subscription_ref":"sub_9"}}`,
			want:    EventTypeSubscriptionCanceled,
		},
		{
			name:    "refund completed",
			payload: `{"id":"evt_4","type":"refund.completed","data":{"organization_id":42,"refund_ref":"re_5","charge_ref":"ch_100"}}`,
			want:    EventTypeRefundCompleted,
		},
		{
			name:    "unknown type",
			payload: `{"id":"evt_5","type":"invoice.finalized","data":{"organization_id":42}}`,
			want:    EventTypeUnknown,
		},
	}

	for _, tt := range tests {
		ev, err := ParseEvent([]byte(tt.payload))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if ev.Type != tt.want {
			t.Fatalf("%s: type = %q, want %q", tt.name, ev.Type, tt.want)
		}
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{{`},
		{name: "missing id", payload: `{"type":"payment.succeeded","data":{"organization_id":1}}`},
		{name: "blank id", payload: `{"id":"  ","type":"payment.succeeded","data":{"organization_id":1}}`},
		{name: "missing type", payload: `{"id":"evt_1","data":{}}`},
		{name: "missing data", payload: `{"id":"evt_1","type":"payment.succeeded"}`},
		{name: "malformed data", payload: `{"id":"evt_1","type":"payment.succeeded","data":[1,2]}`},
		{name: "missing org id", payload: `{"id":"evt_1","type":"payment.succeeded","data":{"charge_ref":"ch_1"}}`},
		{name: "failed missing org id", payload: `{"id":"evt_1","type":"payment.failed","data":{"charge_ref":"ch_1"}}`},
		{name: "canceled missing org id", payload: `{"id":"evt_1","type":"subscription.canceled","data":{"subscription_ref":"sub_1"}}`},
		{name: "refund missing ref", payload: `{"id":"evt_1","type":"refund.completed","data":{"organization_id":1}}`},
	}

	for _, tt := range tests {
		_, err := ParseEvent([]byte(tt.payload))
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if KindOf(err) != ErrKindValidation {
			t.Fatalf("%s: kind = %q, want validation", tt.name, KindOf(err))
		}
	}
}

func TestParseEvent_UnknownTypeSkipsDataValidation(t *testing.T) {
	// Unknown events must parse even with no data object at all, so they can
	// be acknowledged and ignored.
	ev, err := ParseEvent([]byte(`{"id":"evt_9","type":"customer.updated"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != EventTypeUnknown {
		t.Fatalf("type = %q, want unknown", ev.Type)
	}
}
