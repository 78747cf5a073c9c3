package models

import "time"

// Plan codes seeded at startup. Rank orders plans so a change can be
// classified as upgrade or downgrade.
const (
	PlanTrial        = "trial"
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// Plan is a sellable subscription plan with a fixed monthly price.
type Plan struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Code            string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"code"`
	Name            string    `gorm:"type:varchar(100);not null" json:"name"`
	PriceCents      int64     `gorm:"not null;default:0" json:"price_cents"`
	Currency        string    `gorm:"type:char(3);not null;default:'USD'" json:"currency"`
	BillingInterval string    `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	Rank            int       `gorm:"not null;default:0" json:"rank"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DefaultPlans returns the seed catalog used by AutoMigrate setups and tests.
func DefaultPlans() []Plan {
	return []Plan{
		{Code: PlanTrial, Name: "Trial", PriceCents: 0, Currency: "USD", BillingInterval: BillingIntervalMonth, Rank: 0, IsActive: true},
		{Code: PlanStarter, Name: "Starter", PriceCents: 2900, Currency: "USD", BillingInterval: BillingIntervalMonth, Rank: 1, IsActive: true},
		{Code: PlanProfessional, Name: "Professional", PriceCents: 9900, Currency: "USD", BillingInterval: BillingIntervalMonth, Rank: 2, IsActive: true},
		{Code: PlanEnterprise, Name: "Enterprise", PriceCents: 29900, Currency: "USD", BillingInterval: BillingIntervalMonth, Rank: 3, IsActive: true},
	}
}
