package billing

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/replyhub/replyhub/app/models"
	"github.com/replyhub/replyhub/internal/pkg/audit"
	"github.com/replyhub/replyhub/internal/pkg/env"
	"gorm.io/gorm"
)

// Audit action names recorded by the lifecycle service.
const (
	AuditActionPlanChange    = "billing.plan_change"
	AuditActionCancel        = "billing.cancel"
	AuditActionReactivate    = "billing.reactivate"
	AuditActionSuspend       = "billing.suspend"
	AuditActionUnsuspend     = "billing.unsuspend"
	AuditActionPaymentEvent  = "billing.payment_event"
	AuditActionPeriodEndFlip = "billing.period_end_cancellation"
)

// GatewayActor is the actor identity recorded for webhook-driven transitions.
const GatewayActor = "gateway"

// tenantLocks serializes subscription mutations per organization. Locks for
// different organizations never contend. The map keeps one mutex per
// organization ever touched and is never evicted; at two machine words per
// tenant that stays negligible well past millions of organizations.
type tenantLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{locks: make(map[uint]*sync.Mutex)}
}

func (t *tenantLocks) lock(orgID uint) *sync.Mutex {
	t.mu.Lock()
	l, ok := t.locks[orgID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[orgID] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l
}

// LifecycleService is the single entry point for every subscription mutation.
// Webhook processing and manual admin operations both go through it, so an
// inbound payment event can never interleave with a concurrent cancel for the
// same organization. The per-tenant lock is held across gateway calls; a slow
// gateway delays only that tenant.
type LifecycleService struct {
	repo    Repository
	gateway Gateway
	audit   audit.Sink
	policy  Policy
	locks   *tenantLocks
	nowFunc func() time.Time
}

// NewLifecycleService wires the lifecycle façade.
func NewLifecycleService(repo Repository, gateway Gateway, sink audit.Sink, policy Policy) *LifecycleService {
	if policy.DunningThreshold <= 0 {
		policy.DunningThreshold = DefaultPolicy().DunningThreshold
	}
	if policy.DefaultCycleDays <= 0 {
		policy.DefaultCycleDays = DefaultPolicy().DefaultCycleDays
	}
	if policy.MaxWebhookAttempts <= 0 {
		policy.MaxWebhookAttempts = DefaultPolicy().MaxWebhookAttempts
	}
	if policy.RetryBaseDelay <= 0 {
		policy.RetryBaseDelay = DefaultPolicy().RetryBaseDelay
	}
	if policy.ProcessingLease <= 0 {
		policy.ProcessingLease = DefaultPolicy().ProcessingLease
	}
	return &LifecycleService{
		repo:    repo,
		gateway: gateway,
		audit:   sink,
		policy:  policy,
		locks:   newTenantLocks(),
		nowFunc: time.Now,
	}
}

// PolicyFromEnv reads the configurable billing rules from the environment.
func PolicyFromEnv() Policy {
	policy := DefaultPolicy()
	if v, err := strconv.Atoi(env.GetEnv("BILLING_DUNNING_THRESHOLD", "")); err == nil && v > 0 {
		policy.DunningThreshold = v
	}
	if v, err := strconv.Atoi(env.GetEnv("BILLING_WEBHOOK_MAX_ATTEMPTS", "")); err == nil && v > 0 {
		policy.MaxWebhookAttempts = v
	}
	if v, err := time.ParseDuration(env.GetEnv("BILLING_RETRY_BASE_DELAY", "")); err == nil && v > 0 {
		policy.RetryBaseDelay = v
	}
	if v, err := time.ParseDuration(env.GetEnv("BILLING_PROCESSING_LEASE", "")); err == nil && v > 0 {
		policy.ProcessingLease = v
	}
	return policy
}

// Policy exposes the active billing rules.
func (s *LifecycleService) Policy() Policy {
	return s.policy
}

func (s *LifecycleService) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// withTenantLock runs fn holding the organization's exclusive section.
func (s *LifecycleService) withTenantLock(orgID uint, fn func() error) error {
	l := s.locks.lock(orgID)
	defer l.Unlock()
	return fn()
}

func (s *LifecycleService) loadSubscription(orgID uint) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByOrg(orgID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewValidationError("organization %d has no subscription", orgID)
		}
		return nil, NewTransientError("subscription lookup failed", err)
	}
	return sub, nil
}

// EnsureSubscription creates the trial subscription row at tenant onboarding.
// Calling it again for an existing organization returns the current row.
func (s *LifecycleService) EnsureSubscription(ctx context.Context, orgID uint, gatewayCustomerRef string) (*models.Subscription, error) {
	_ = ctx
	var out *models.Subscription
	err := s.withTenantLock(orgID, func() error {
		existing, err := s.repo.GetSubscriptionByOrg(orgID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return NewTransientError("subscription lookup failed", err)
		}
		if _, err := s.repo.GetOrganization(orgID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewValidationError("organization %d not found", orgID)
			}
			return NewTransientError("organization lookup failed", err)
		}
		now := s.now()
		trialEnd := now.AddDate(0, 0, 14)
		sub := &models.Subscription{
			OrganizationID:     orgID,
			PlanCode:           models.PlanTrial,
			Status:             models.SubscriptionStatusTrial,
			GatewayCustomerRef: gatewayCustomerRef,
			TrialEndsAt:        &trialEnd,
		}
		if err := s.repo.CreateSubscription(sub); err != nil {
			return NewTransientError("subscription create failed", err)
		}
		out = sub
		return nil
	})
	return out, err
}

// GetSubscription returns the current subscription state for an organization.
func (s *LifecycleService) GetSubscription(ctx context.Context, orgID uint) (*models.Subscription, error) {
	_ = ctx
	return s.loadSubscription(orgID)
}

// ListPlans returns the active plan catalog ordered by rank.
func (s *LifecycleService) ListPlans(ctx context.Context) ([]models.Plan, error) {
	_ = ctx
	plans, err := s.repo.ListActivePlans()
	if err != nil {
		return nil, NewTransientError("plan catalog lookup failed", err)
	}
	return plans, nil
}

// HandlePaymentSucceeded applies a confirmed payment notification. Returns
// false when the event was stale and changed nothing.
func (s *LifecycleService) HandlePaymentSucceeded(ctx context.Context, orgID uint, periodStart, periodEnd *time.Time) (bool, error) {
	_ = ctx
	changed := false
	err := s.withTenantLock(orgID, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		prior := sub.Status
		didChange, err := applyPaymentSucceeded(sub, periodStart, periodEnd)
		if err != nil || !didChange {
			return err
		}
		if err := s.repo.CommitSubscription(sub); err != nil {
			return err
		}
		changed = true
		s.recordAudit(GatewayActor, AuditActionPaymentEvent, sub, map[string]interface{}{
			"event":       "payment_succeeded",
			"from_status": prior,
			"to_status":   sub.Status,
		})
		return nil
	})
	return changed, err
}

// HandlePaymentFailed applies a failed payment notification, advancing the
// dunning counter and canceling once the policy threshold is reached.
func (s *LifecycleService) HandlePaymentFailed(ctx context.Context, orgID uint) (bool, error) {
	_ = ctx
	changed := false
	err := s.withTenantLock(orgID, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		prior := sub.Status
		didChange, err := applyPaymentFailed(sub, s.policy)
		if err != nil || !didChange {
			return err
		}
		if err := s.repo.CommitSubscription(sub); err != nil {
			return err
		}
		changed = true
		s.recordAudit(GatewayActor, AuditActionPaymentEvent, sub, map[string]interface{}{
			"event":          "payment_failed",
			"from_status":    prior,
			"to_status":      sub.Status,
			"dunning_count":  sub.DunningFailureCount,
			"dunning_cutoff": s.policy.DunningThreshold,
		})
		return nil
	})
	return changed, err
}

// HandleGatewayCancellation applies a gateway-side cancellation notification.
// Already-canceled subscriptions make this a stale no-op.
func (s *LifecycleService) HandleGatewayCancellation(ctx context.Context, orgID uint) (bool, error) {
	_ = ctx
	changed := false
	err := s.withTenantLock(orgID, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		switch sub.Status {
		case models.SubscriptionStatusCanceled:
			return nil
		case models.SubscriptionStatusSuspended:
			sub.SuspendedFromStatus = models.SubscriptionStatusCanceled
		default:
			sub.Status = models.SubscriptionStatusCanceled
		}
		sub.CancelAtPeriodEnd = false
		sub.DunningFailureCount = 0
		if err := s.repo.CommitSubscription(sub); err != nil {
			return err
		}
		changed = true
		s.recordAudit(GatewayActor, AuditActionCancel, sub, map[string]interface{}{
			"immediate": true,
			"reason":    "gateway_canceled",
			"status":    sub.Status,
		})
		return nil
	})
	return changed, err
}

// ChangePlan upgrades or downgrades the organization's plan. Active
// subscriptions are prorated immediately; trials change price at the next
// renewal. The gateway commit happens before the local one, so a gateway
// failure leaves the subscription untouched.
func (s *LifecycleService) ChangePlan(ctx context.Context, orgID uint, newPlanCode, actor string) (*models.Subscription, *ProrationResult, error) {
	var (
		out       *models.Subscription
		proration *ProrationResult
	)
	err := s.withTenantLock(orgID, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		switch sub.Status {
		case models.SubscriptionStatusCanceled:
			return NewConflictError("canceled subscriptions cannot change plans, reactivate first")
		case models.SubscriptionStatusSuspended:
			return NewConflictError("suspended subscriptions cannot change plans")
		}

		newPlan, err := s.repo.FindPlanByCode(newPlanCode)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewValidationError("unknown plan %q", newPlanCode)
			}
			return NewTransientError("plan lookup failed", err)
		}
		if newPlan.Code == sub.PlanCode {
			return NewValidationError("subscription is already on plan %q", newPlanCode)
		}

		oldPlan, err := s.repo.FindPlanByCode(sub.PlanCode)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewConflictError("subscription references unknown plan %q", sub.PlanCode)
			}
			return NewTransientError("plan lookup failed", err)
		}

		var result *ProrationResult
		if sub.Status == models.SubscriptionStatusActive {
			cycleDays, elapsedDays := cycleBounds(sub, s.now(), s.policy)
			pr, err := Prorate(oldPlan.PriceCents, newPlan.PriceCents, cycleDays, elapsedDays, newPlan.Currency)
			if err != nil {
				return err
			}
			result = &pr
		}

		if sub.GatewaySubscriptionRef != "" {
			req := PlanChangeRequest{
				SubscriptionRef: sub.GatewaySubscriptionRef,
				PlanCode:        newPlan.Code,
				Currency:        newPlan.Currency,
				IdempotencyKey:  uuid.New().String(),
			}
			if result != nil {
				req.ProrationCents = result.AmountCents
			}
			if _, err := s.gateway.CreatePlanChange(ctx, req); err != nil {
				return err
			}
		}

		priorPlan := sub.PlanCode
		sub.PlanCode = newPlan.Code
		if err := s.repo.CommitSubscription(sub); err != nil {
			return err
		}
		out = sub
		proration = result
		direction := "downgrade"
		if newPlan.Rank > oldPlan.Rank {
			direction = "upgrade"
		}
		details := map[string]interface{}{
			"from_plan": priorPlan,
			"to_plan":   newPlan.Code,
			"direction": direction,
		}
		if result != nil {
			details["proration"] = result
		}
		s.recordAudit(actor, AuditActionPlanChange, sub, details)
		return nil
	})
	return out, proration, err
}

// Cancel cancels immediately or schedules cancellation at period end. Reason
// is required; feedback is free text.
func (s *LifecycleService) Cancel(ctx context.Context, orgID uint, immediate bool, reason, feedback, actor string) (*models.Subscription, error) {
	if reason == "" {
		return nil, NewValidationError("cancellation reason is required")
	}
	var out *models.Subscription
	err := s.withTenantLock(orgID, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}

		// Validate the transition before calling out.
		probe := *sub
		changed, err := applyCancellation(&probe, immediate)
		if err != nil {
			return err
		}
		if !changed {
			out = sub
			return nil
		}

		if immediate && sub.GatewaySubscriptionRef != "" {
			if err := s.gateway.CancelSubscription(ctx, sub.GatewaySubscriptionRef, uuid.New().String()); err != nil {
				return err
			}
		}

		if _, err := applyCancellation(sub, immediate); err != nil {
			return err
		}
		if err := s.repo.CommitSubscription(sub); err != nil {
			return err
		}
		out = sub
		s.recordAudit(actor, AuditActionCancel, sub, map[string]interface{}{
			"immediate": immediate,
			"reason":    reason,
			"feedback":  feedback,
			"status":    sub.Status,
		})
		return nil
	})
	return out, err
}

// Reactivate restores a canceled subscription through a fresh gateway
// subscription and billing period.
func (s *LifecycleService) Reactivate(ctx context.Context, orgID uint, actor string) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.withTenantLock(orgID, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		if sub.Status != models.SubscriptionStatusCanceled {
			return NewConflictError("only canceled subscriptions can be reactivated, current status %q", sub.Status)
		}

		var gw *GatewaySubscription
		if sub.GatewayCustomerRef != "" {
			gw, err = s.gateway.ReactivateSubscription(ctx, ReactivateRequest{
				CustomerRef:    sub.GatewayCustomerRef,
				PlanCode:       sub.PlanCode,
				IdempotencyKey: uuid.New().String(),
			})
			if err != nil {
				return err
			}
		}

		if _, err := applyReactivation(sub, gw); err != nil {
			return err
		}
		if err := s.repo.CommitSubscription(sub); err != nil {
			return err
		}
		out = sub
		s.recordAudit(actor, AuditActionReactivate, sub, map[string]interface{}{
			"plan":   sub.PlanCode,
			"status": sub.Status,
		})
		return nil
	})
	return out, err
}

// Suspend parks the subscription for administrative reasons. Reversible and
// never triggered by billing events.
func (s *LifecycleService) Suspend(ctx context.Context, orgID uint, reason, actor string) (*models.Subscription, error) {
	_ = ctx
	if reason == "" {
		return nil, NewValidationError("suspension reason is required")
	}
	var out *models.Subscription
	err := s.withTenantLock(orgID, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		if _, err := applySuspension(sub); err != nil {
			return err
		}
		if err := s.repo.CommitSubscription(sub); err != nil {
			return err
		}
		out = sub
		s.recordAudit(actor, AuditActionSuspend, sub, map[string]interface{}{
			"reason":      reason,
			"from_status": sub.SuspendedFromStatus,
		})
		return nil
	})
	return out, err
}

// Unsuspend restores the pre-suspension status.
func (s *LifecycleService) Unsuspend(ctx context.Context, orgID uint, actor string) (*models.Subscription, error) {
	_ = ctx
	var out *models.Subscription
	err := s.withTenantLock(orgID, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		if _, err := applyUnsuspension(sub); err != nil {
			return err
		}
		if err := s.repo.CommitSubscription(sub); err != nil {
			return err
		}
		out = sub
		s.recordAudit(actor, AuditActionUnsuspend, sub, map[string]interface{}{
			"restored_status": sub.Status,
		})
		return nil
	})
	return out, err
}

// CancelImmediatelyForRefund performs the post-refund cancellation requested
// by the refund manager. It reuses the regular cancellation path.
func (s *LifecycleService) CancelImmediatelyForRefund(ctx context.Context, orgID uint, refundID, actor string) (*models.Subscription, error) {
	return s.Cancel(ctx, orgID, true, "refund_requested", "canceled after refund "+refundID, actor)
}

// SweepPeriodEndCancellations flips subscriptions whose deferred cancellation
// period has elapsed. Called by the background worker; each flip goes through
// the same per-tenant serialization as any other mutation.
func (s *LifecycleService) SweepPeriodEndCancellations(ctx context.Context, limit int) (int, error) {
	now := s.now()
	due, err := s.repo.ListPeriodEndCancellationsDue(now, limit)
	if err != nil {
		return 0, NewTransientError("period end sweep query failed", err)
	}

	flipped := 0
	for i := range due {
		orgID := due[i].OrganizationID
		err := s.withTenantLock(orgID, func() error {
			sub, err := s.loadSubscription(orgID)
			if err != nil {
				return err
			}
			changed, err := applyPeriodEndCancellation(sub, now)
			if err != nil || !changed {
				return err
			}
			if sub.GatewaySubscriptionRef != "" {
				if err := s.gateway.CancelSubscription(ctx, sub.GatewaySubscriptionRef, uuid.New().String()); err != nil {
					return err
				}
			}
			if err := s.repo.CommitSubscription(sub); err != nil {
				return err
			}
			flipped++
			s.recordAudit(GatewayActor, AuditActionPeriodEndFlip, sub, map[string]interface{}{
				"period_end": sub.CurrentPeriodEnd,
			})
			return nil
		})
		if err != nil {
			// Keep sweeping other tenants; this one retries next tick.
			continue
		}
	}
	return flipped, nil
}

func (s *LifecycleService) recordAudit(actor, action string, sub *models.Subscription, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(actor, action, "subscription", strconv.FormatUint(uint64(sub.OrganizationID), 10), details); err != nil {
		log.Errorf("[Billing] audit write failed for %s on org %d: %v", action, sub.OrganizationID, err)
	}
}
