package billing

import (
	"time"

	"github.com/replyhub/replyhub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the billing services. The
// webhook event methods implement the idempotency ledger; claim semantics are
// single atomic statements so concurrent deliveries of the same event id
// cannot both win.
type Repository interface {
	// Subscriptions
	GetSubscriptionByOrg(orgID uint) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	CommitSubscription(sub *models.Subscription) error
	ListPeriodEndCancellationsDue(now time.Time, limit int) ([]models.Subscription, error)

	// Plans
	FindPlanByCode(code string) (*models.Plan, error)
	ListActivePlans() ([]models.Plan, error)

	// Idempotency ledger
	ReserveEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	ClaimEvent(id uint, maxAttempts int, staleBefore time.Time) (bool, error)
	MarkEventCompleted(id uint, result string) error
	MarkEventFailed(id uint, lastError string, nextRetryAt *time.Time) error
	GetEventByEventID(eventID string) (*models.WebhookEvent, error)
	DueForRetry(maxAttempts int, now, staleBefore time.Time, limit int) ([]models.WebhookEvent, error)

	// Refunds
	CreateRefund(refund *models.Refund) error
	SaveRefund(refund *models.Refund) error
	GetRefund(id string) (*models.Refund, error)
	FindRefundByGatewayRef(gatewayRefundRef string) (*models.Refund, error)
	ListRefundsByOrg(orgID uint, offset, limit int) ([]models.Refund, error)

	// Tenant metadata, read-only
	GetOrganization(orgID uint) (*models.Organization, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByOrg(orgID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("organization_id = ?", orgID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// CommitSubscription writes the mutated subscription guarded by the version
// token. The caller already holds the per-tenant lock; the version check is a
// second line of defense against writes that bypassed the lifecycle service.
func (r *gormRepository) CommitSubscription(sub *models.Subscription) error {
	prev := sub.Version
	sub.Version = prev + 1
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, prev).
		Updates(map[string]interface{}{
			"plan_code":                sub.PlanCode,
			"status":                   sub.Status,
			"gateway_customer_ref":     sub.GatewayCustomerRef,
			"gateway_subscription_ref": sub.GatewaySubscriptionRef,
			"current_period_start":     sub.CurrentPeriodStart,
			"current_period_end":       sub.CurrentPeriodEnd,
			"trial_ends_at":            sub.TrialEndsAt,
			"cancel_at_period_end":     sub.CancelAtPeriodEnd,
			"dunning_failure_count":    sub.DunningFailureCount,
			"suspended_from_status":    sub.SuspendedFromStatus,
			"version":                  sub.Version,
		})
	if tx.Error != nil {
		sub.Version = prev
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		sub.Version = prev
		return NewConflictError("subscription %d was modified concurrently", sub.ID)
	}
	return nil
}

func (r *gormRepository) ListPeriodEndCancellationsDue(now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("cancel_at_period_end = ? AND status <> ? AND current_period_end IS NOT NULL AND current_period_end <= ?",
			true, models.SubscriptionStatusCanceled, now).
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) FindPlanByCode(code string) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.Where("code = ? AND is_active = ?", code, true).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListActivePlans() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("is_active = ?", true).Order("`rank` asc").Find(&plans).Error
	return plans, err
}

// ReserveEvent inserts the event unless its external id is already known.
// The unique index on event_id makes the insert the atomic arbiter between
// concurrent first deliveries.
func (r *gormRepository) ReserveEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// ClaimEvent moves a pending or retryable failed event into processing and
// bumps the attempt counter. Returns false when another worker already holds
// the event or it is finished. A processing record not touched since
// staleBefore lost its holder (crash, or a failed terminal write) and may be
// claimed again.
func (r *gormRepository) ClaimEvent(id uint, maxAttempts int, staleBefore time.Time) (bool, error) {
	tx := r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND ((status IN ? AND attempts < ?) OR (status = ? AND attempts <= ? AND updated_at <= ?))",
			id,
			[]string{models.WebhookEventStatusPending, models.WebhookEventStatusFailed}, maxAttempts,
			models.WebhookEventStatusProcessing, maxAttempts, staleBefore).
		Updates(map[string]interface{}{
			"status":   models.WebhookEventStatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkEventCompleted(id uint, result string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.WebhookEventStatusCompleted,
			"result":        result,
			"last_error":    "",
			"next_retry_at": nil,
			"processed_at":  &now,
		}).Error
}

func (r *gormRepository) MarkEventFailed(id uint, lastError string, nextRetryAt *time.Time) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.WebhookEventStatusFailed,
			"last_error":    lastError,
			"next_retry_at": nextRetryAt,
			"processed_at":  &now,
		}).Error
}

func (r *gormRepository) GetEventByEventID(eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.Where("event_id = ?", eventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// DueForRetry selects failed events whose retry time has come, plus pending
// and processing records nobody touched since staleBefore. The latter are
// orphans: their holder crashed or lost the terminal ledger write, and no
// redelivery will pick them up because duplicates are acknowledged.
func (r *gormRepository) DueForRetry(maxAttempts int, now, staleBefore time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.
		Where("(status = ? AND attempts < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?) OR (status IN ? AND attempts <= ? AND updated_at <= ?)",
			models.WebhookEventStatusFailed, maxAttempts, now,
			[]string{models.WebhookEventStatusPending, models.WebhookEventStatusProcessing}, maxAttempts, staleBefore).
		Order("updated_at asc").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) CreateRefund(refund *models.Refund) error {
	return r.db.Create(refund).Error
}

func (r *gormRepository) SaveRefund(refund *models.Refund) error {
	return r.db.Save(refund).Error
}

func (r *gormRepository) GetRefund(id string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.Where("id = ?", id).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *gormRepository) FindRefundByGatewayRef(gatewayRefundRef string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.Where("gateway_refund_ref = ?", gatewayRefundRef).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *gormRepository) ListRefundsByOrg(orgID uint, offset, limit int) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.Where("organization_id = ?", orgID).
		Order("created_at desc").
		Offset(offset).Limit(limit).
		Find(&refunds).Error
	return refunds, err
}

func (r *gormRepository) GetOrganization(orgID uint) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.First(&org, orgID).Error; err != nil {
		return nil, err
	}
	return &org, nil
}
