package models

import "time"

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

// Subscription lifecycle states. Suspension is administrative and reversible;
// cancellation is a billing outcome and keeps the row for audit history.
const (
	SubscriptionStatusTrial     = "trial"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCanceled  = "canceled"
	SubscriptionStatusSuspended = "suspended"
)

// Subscription is the canonical billing state of an organization. Exactly one
// row exists per organization and status/plan are only ever written through
// the billing lifecycle service.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	OrganizationID         uint       `gorm:"not null;uniqueIndex" json:"organization_id"`
	PlanCode               string     `gorm:"type:varchar(50);not null;default:'trial';index" json:"plan_code"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'trial';index" json:"status"`
	GatewayCustomerRef     string     `gorm:"type:varchar(191);default:'';index" json:"gateway_customer_ref"`
	GatewaySubscriptionRef string     `gorm:"type:varchar(191);default:'';index" json:"gateway_subscription_ref"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialEndsAt            *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	DunningFailureCount    int        `gorm:"not null;default:0" json:"dunning_failure_count"`
	SuspendedFromStatus    string     `gorm:"type:varchar(32);default:''" json:"-"`
	Version                int64      `gorm:"not null;default:0" json:"version"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCanceled reports whether the subscription reached the canceled state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}

// InPaidState reports whether the subscription currently entitles service
// through a paid plan.
func (s *Subscription) InPaidState() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
