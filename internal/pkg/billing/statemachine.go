package billing

import (
	"time"

	"github.com/replyhub/replyhub/app/models"
)

// Policy holds the configurable billing rules referenced by transitions.
type Policy struct {
	// DunningThreshold is the number of consecutive failed payments after
	// which a past_due subscription is canceled.
	DunningThreshold int
	// DefaultCycleDays is the proration basis when a subscription has no
	// usable period boundaries yet.
	DefaultCycleDays int
	// MaxWebhookAttempts bounds automatic retries of failed webhook events.
	MaxWebhookAttempts int
	// RetryBaseDelay is the first retry delay; each further attempt doubles it.
	RetryBaseDelay time.Duration
	// ProcessingLease bounds how long a claimed event may sit in processing.
	// Records older than the lease are presumed orphaned by a crash or a lost
	// terminal write and become claimable again.
	ProcessingLease time.Duration
}

// DefaultPolicy returns the production defaults. Values are overridable via
// environment configuration in the service constructors.
func DefaultPolicy() Policy {
	return Policy{
		DunningThreshold:   3,
		DefaultCycleDays:   30,
		MaxWebhookAttempts: 5,
		RetryBaseDelay:     time.Minute,
		ProcessingLease:    10 * time.Minute,
	}
}

// The transition functions below mutate the passed subscription in memory and
// report whether anything changed. They never touch storage or the gateway;
// the lifecycle service owns sequencing, locking and persistence.
//
// Billing events that arrive for a canceled subscription are stale gateway
// traffic and resolve to unchanged no-ops rather than errors, so redeliveries
// are acknowledged instead of retried forever.

// applyPaymentSucceeded handles a confirmed payment: first payment activates
// a trial, a payment during dunning recovers past_due, and a renewal payment
// refreshes the billing period.
func applyPaymentSucceeded(sub *models.Subscription, periodStart, periodEnd *time.Time) (bool, error) {
	target := sub.Status
	if sub.Status == models.SubscriptionStatusSuspended {
		// Keep tracking the underlying billing state while suspended.
		target = sub.SuspendedFromStatus
		if target == "" {
			target = models.SubscriptionStatusActive
		}
	}

	switch target {
	case models.SubscriptionStatusCanceled:
		return false, nil
	case models.SubscriptionStatusTrial, models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
		// all converge on active
	default:
		return false, NewConflictError("payment confirmation not applicable from status %q", sub.Status)
	}

	if sub.Status == models.SubscriptionStatusSuspended {
		sub.SuspendedFromStatus = models.SubscriptionStatusActive
	} else {
		sub.Status = models.SubscriptionStatusActive
	}
	sub.DunningFailureCount = 0
	if periodStart != nil {
		sub.CurrentPeriodStart = periodStart
	}
	if periodEnd != nil {
		sub.CurrentPeriodEnd = periodEnd
	}
	return true, nil
}

// applyPaymentFailed handles a failed recurring payment. The subscription
// enters past_due and is canceled once failures reach the dunning threshold.
func applyPaymentFailed(sub *models.Subscription, policy Policy) (bool, error) {
	target := sub.Status
	suspended := sub.Status == models.SubscriptionStatusSuspended
	if suspended {
		target = sub.SuspendedFromStatus
		if target == "" {
			target = models.SubscriptionStatusActive
		}
	}

	switch target {
	case models.SubscriptionStatusCanceled, models.SubscriptionStatusTrial:
		// Trials have no recurring payments; a failure here is stale traffic.
		return false, nil
	case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
	default:
		return false, NewConflictError("payment failure not applicable from status %q", sub.Status)
	}

	sub.DunningFailureCount++
	next := models.SubscriptionStatusPastDue
	if sub.DunningFailureCount >= policy.DunningThreshold {
		next = models.SubscriptionStatusCanceled
		sub.CancelAtPeriodEnd = false
	}
	if suspended {
		sub.SuspendedFromStatus = next
	} else {
		sub.Status = next
	}
	return true, nil
}

// applyCancellation cancels now or schedules cancellation for period end.
func applyCancellation(sub *models.Subscription, immediate bool) (bool, error) {
	switch sub.Status {
	case models.SubscriptionStatusTrial, models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
	case models.SubscriptionStatusCanceled:
		return false, NewConflictError("subscription is already canceled")
	case models.SubscriptionStatusSuspended:
		return false, NewConflictError("suspended subscriptions must be reactivated before cancellation")
	default:
		return false, NewConflictError("cancellation not permitted from status %q", sub.Status)
	}

	if immediate {
		sub.Status = models.SubscriptionStatusCanceled
		sub.CancelAtPeriodEnd = false
		sub.DunningFailureCount = 0
		return true, nil
	}
	if sub.CancelAtPeriodEnd {
		return false, nil
	}
	sub.CancelAtPeriodEnd = true
	return true, nil
}

// applyReactivation re-establishes service for a canceled subscription with a
// fresh billing period supplied by the gateway.
func applyReactivation(sub *models.Subscription, gw *GatewaySubscription) (bool, error) {
	if sub.Status != models.SubscriptionStatusCanceled {
		return false, NewConflictError("only canceled subscriptions can be reactivated, current status %q", sub.Status)
	}
	sub.Status = models.SubscriptionStatusActive
	sub.CancelAtPeriodEnd = false
	sub.DunningFailureCount = 0
	if gw != nil {
		if gw.SubscriptionRef != "" {
			sub.GatewaySubscriptionRef = gw.SubscriptionRef
		}
		if gw.CustomerRef != "" {
			sub.GatewayCustomerRef = gw.CustomerRef
		}
		sub.CurrentPeriodStart = gw.CurrentPeriodStart
		sub.CurrentPeriodEnd = gw.CurrentPeriodEnd
	}
	return true, nil
}

// applySuspension parks the subscription in suspended and remembers the prior
// status so an authorized unsuspend can restore it. Administrative only;
// billing events never suspend.
func applySuspension(sub *models.Subscription) (bool, error) {
	if sub.Status == models.SubscriptionStatusSuspended {
		return false, NewConflictError("subscription is already suspended")
	}
	sub.SuspendedFromStatus = sub.Status
	sub.Status = models.SubscriptionStatusSuspended
	return true, nil
}

// applyUnsuspension restores the pre-suspension status.
func applyUnsuspension(sub *models.Subscription) (bool, error) {
	if sub.Status != models.SubscriptionStatusSuspended {
		return false, NewConflictError("subscription is not suspended")
	}
	restored := sub.SuspendedFromStatus
	if restored == "" {
		restored = models.SubscriptionStatusActive
	}
	sub.Status = restored
	sub.SuspendedFromStatus = ""
	return true, nil
}

// applyPeriodEndCancellation flips a deferred cancellation once the paid
// period has elapsed. Used by the sweep, through the same lifecycle service
// as every other mutation.
func applyPeriodEndCancellation(sub *models.Subscription, now time.Time) (bool, error) {
	if !sub.CancelAtPeriodEnd || sub.Status == models.SubscriptionStatusCanceled {
		return false, nil
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.After(now) {
		return false, nil
	}
	sub.Status = models.SubscriptionStatusCanceled
	sub.CancelAtPeriodEnd = false
	sub.DunningFailureCount = 0
	return true, nil
}

// cycleBounds derives the proration basis from the current billing period.
func cycleBounds(sub *models.Subscription, now time.Time, policy Policy) (cycleDays, elapsedDays int) {
	cycleDays = policy.DefaultCycleDays
	if cycleDays <= 0 {
		cycleDays = 30
	}
	if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil {
		if d := int(sub.CurrentPeriodEnd.Sub(*sub.CurrentPeriodStart).Hours() / 24); d > 0 {
			cycleDays = d
		}
	}
	if sub.CurrentPeriodStart != nil {
		elapsedDays = int(now.Sub(*sub.CurrentPeriodStart).Hours() / 24)
	}
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	if elapsedDays > cycleDays {
		elapsedDays = cycleDays
	}
	return cycleDays, elapsedDays
}
