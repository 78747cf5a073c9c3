package billing

import (
	"testing"
	"time"

	"github.com/replyhub/replyhub/app/models"
)

func TestApplyPaymentSucceeded(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	t.Run("activates trial", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusTrial}
		changed, err := applyPaymentSucceeded(sub, &start, &end)
		if err != nil || !changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if sub.Status != models.SubscriptionStatusActive {
			t.Fatalf("status = %q, want active", sub.Status)
		}
		if sub.CurrentPeriodStart == nil || !sub.CurrentPeriodStart.Equal(start) {
			t.Fatalf("period start not set")
		}
	})

	t.Run("recovers past_due and resets dunning", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusPastDue, DunningFailureCount: 2}
		changed, err := applyPaymentSucceeded(sub, nil, nil)
		if err != nil || !changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if sub.Status != models.SubscriptionStatusActive || sub.DunningFailureCount != 0 {
			t.Fatalf("status=%q dunning=%d", sub.Status, sub.DunningFailureCount)
		}
	})

	t.Run("stale event on canceled is a no-op", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusCanceled}
		changed, err := applyPaymentSucceeded(sub, &start, &end)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if changed {
			t.Fatalf("canceled subscription must not change")
		}
		if sub.Status != models.SubscriptionStatusCanceled {
			t.Fatalf("status = %q", sub.Status)
		}
	})

	t.Run("suspended tracks underlying state", func(t *testing.T) {
		sub := &models.Subscription{
			Status:              models.SubscriptionStatusSuspended,
			SuspendedFromStatus: models.SubscriptionStatusPastDue,
			DunningFailureCount: 1,
		}
		changed, err := applyPaymentSucceeded(sub, nil, nil)
		if err != nil || !changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if sub.Status != models.SubscriptionStatusSuspended {
			t.Fatalf("suspension must survive billing events, got %q", sub.Status)
		}
		if sub.SuspendedFromStatus != models.SubscriptionStatusActive {
			t.Fatalf("underlying status = %q, want active", sub.SuspendedFromStatus)
		}
		if sub.DunningFailureCount != 0 {
			t.Fatalf("dunning count must reset")
		}
	})
}

func TestApplyPaymentFailed(t *testing.T) {
	policy := DefaultPolicy()

	t.Run("active enters past_due", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusActive}
		changed, err := applyPaymentFailed(sub, policy)
		if err != nil || !changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if sub.Status != models.SubscriptionStatusPastDue || sub.DunningFailureCount != 1 {
			t.Fatalf("status=%q dunning=%d", sub.Status, sub.DunningFailureCount)
		}
	})

	t.Run("threshold cancels", func(t *testing.T) {
		sub := &models.Subscription{
			Status:              models.SubscriptionStatusPastDue,
			DunningFailureCount: policy.DunningThreshold - 1,
			CancelAtPeriodEnd:   true,
		}
		changed, err := applyPaymentFailed(sub, policy)
		if err != nil || !changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if sub.Status != models.SubscriptionStatusCanceled {
			t.Fatalf("status = %q, want canceled", sub.Status)
		}
		if sub.CancelAtPeriodEnd {
			t.Fatalf("deferred cancellation flag must clear on cancel")
		}
	})

	t.Run("trial failure is stale traffic", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusTrial}
		changed, err := applyPaymentFailed(sub, policy)
		if err != nil || changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
	})

	t.Run("canceled failure is stale traffic", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusCanceled}
		changed, err := applyPaymentFailed(sub, policy)
		if err != nil || changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
	})

	t.Run("suspended counts against underlying state", func(t *testing.T) {
		sub := &models.Subscription{
			Status:              models.SubscriptionStatusSuspended,
			SuspendedFromStatus: models.SubscriptionStatusActive,
		}
		changed, err := applyPaymentFailed(sub, policy)
		if err != nil || !changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if sub.Status != models.SubscriptionStatusSuspended {
			t.Fatalf("suspension must survive, got %q", sub.Status)
		}
		if sub.SuspendedFromStatus != models.SubscriptionStatusPastDue {
			t.Fatalf("underlying status = %q, want past_due", sub.SuspendedFromStatus)
		}
	})
}

func TestApplyCancellation(t *testing.T) {
	t.Run("immediate", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusActive, DunningFailureCount: 2}
		changed, err := applyCancellation(sub, true)
		if err != nil || !changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if sub.Status != models.SubscriptionStatusCanceled || sub.DunningFailureCount != 0 {
			t.Fatalf("status=%q dunning=%d", sub.Status, sub.DunningFailureCount)
		}
	})

	t.Run("deferred sets flag only", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusActive}
		changed, err := applyCancellation(sub, false)
		if err != nil || !changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
		if sub.Status != models.SubscriptionStatusActive || !sub.CancelAtPeriodEnd {
			t.Fatalf("status=%q flag=%v", sub.Status, sub.CancelAtPeriodEnd)
		}
	})

	t.Run("deferred twice is a no-op", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusActive, CancelAtPeriodEnd: true}
		changed, err := applyCancellation(sub, false)
		if err != nil || changed {
			t.Fatalf("changed=%v err=%v", changed, err)
		}
	})

	t.Run("already canceled conflicts", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusCanceled}
		if _, err := applyCancellation(sub, true); KindOf(err) != ErrKindConflict {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("suspended conflicts", func(t *testing.T) {
		sub := &models.Subscription{Status: models.SubscriptionStatusSuspended}
		if _, err := applyCancellation(sub, true); KindOf(err) != ErrKindConflict {
			t.Fatalf("expected conflict, got %v", err)
		}
	})
}

func TestApplyReactivation(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	sub := &models.Subscription{Status: models.SubscriptionStatusCanceled, DunningFailureCount: 3}
	changed, err := applyReactivation(sub, &GatewaySubscription{
		SubscriptionRef:    "sub_new",
		CustomerRef:        "cus_1",
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	})
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("status = %q", sub.Status)
	}
	if sub.GatewaySubscriptionRef != "sub_new" || sub.DunningFailureCount != 0 {
		t.Fatalf("gateway ref=%q dunning=%d", sub.GatewaySubscriptionRef, sub.DunningFailureCount)
	}

	active := &models.Subscription{Status: models.SubscriptionStatusActive}
	if _, err := applyReactivation(active, nil); KindOf(err) != ErrKindConflict {
		t.Fatalf("expected conflict for non-canceled, got %v", err)
	}
}

func TestApplySuspensionAndUnsuspension(t *testing.T) {
	sub := &models.Subscription{Status: models.SubscriptionStatusPastDue}

	changed, err := applySuspension(sub)
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if sub.Status != models.SubscriptionStatusSuspended || sub.SuspendedFromStatus != models.SubscriptionStatusPastDue {
		t.Fatalf("status=%q from=%q", sub.Status, sub.SuspendedFromStatus)
	}

	if _, err := applySuspension(sub); KindOf(err) != ErrKindConflict {
		t.Fatalf("double suspend must conflict, got %v", err)
	}

	changed, err = applyUnsuspension(sub)
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if sub.Status != models.SubscriptionStatusPastDue || sub.SuspendedFromStatus != "" {
		t.Fatalf("status=%q from=%q", sub.Status, sub.SuspendedFromStatus)
	}

	if _, err := applyUnsuspension(sub); KindOf(err) != ErrKindConflict {
		t.Fatalf("unsuspending a non-suspended subscription must conflict, got %v", err)
	}
}

func TestApplyPeriodEndCancellation(t *testing.T) {
	now := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		sub     models.Subscription
		changed bool
	}{
		{
			name:    "due flips to canceled",
			sub:     models.Subscription{Status: models.SubscriptionStatusActive, CancelAtPeriodEnd: true, CurrentPeriodEnd: &past},
			changed: true,
		},
		{
			name:    "not yet due",
			sub:     models.Subscription{Status: models.SubscriptionStatusActive, CancelAtPeriodEnd: true, CurrentPeriodEnd: &future},
			changed: false,
		},
		{
			name:    "no flag",
			sub:     models.Subscription{Status: models.SubscriptionStatusActive, CurrentPeriodEnd: &past},
			changed: false,
		},
		{
			name:    "no period end",
			sub:     models.Subscription{Status: models.SubscriptionStatusActive, CancelAtPeriodEnd: true},
			changed: false,
		},
	}

	for _, tt := range tests {
		sub := tt.sub
		changed, err := applyPeriodEndCancellation(&sub, now)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if changed != tt.changed {
			t.Fatalf("%s: changed = %v, want %v", tt.name, changed, tt.changed)
		}
		if changed && sub.Status != models.SubscriptionStatusCanceled {
			t.Fatalf("%s: status = %q", tt.name, sub.Status)
		}
	}
}

func TestCycleBounds(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC)
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)

	sub := &models.Subscription{CurrentPeriodStart: &start, CurrentPeriodEnd: &end}
	cycle, elapsed := cycleBounds(sub, now, policy)
	if cycle != 30 || elapsed != 10 {
		t.Fatalf("cycle=%d elapsed=%d, want 30/10", cycle, elapsed)
	}

	// No period data falls back to the policy default.
	bare := &models.Subscription{}
	cycle, elapsed = cycleBounds(bare, now, policy)
	if cycle != policy.DefaultCycleDays || elapsed != 0 {
		t.Fatalf("cycle=%d elapsed=%d, want %d/0", cycle, elapsed, policy.DefaultCycleDays)
	}

	// Elapsed time beyond the cycle clamps.
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oldEnd := old.AddDate(0, 1, 0)
	stale := &models.Subscription{CurrentPeriodStart: &old, CurrentPeriodEnd: &oldEnd}
	cycle, elapsed = cycleBounds(stale, now, policy)
	if elapsed != cycle {
		t.Fatalf("elapsed=%d must clamp to cycle=%d", elapsed, cycle)
	}
}
