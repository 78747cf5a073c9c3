package models

import "time"

const (
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusFailed    = "failed"
)

// Closed set of refund reason codes accepted by the refund API.
const (
	RefundReasonRequestedByCustomer = "requested_by_customer"
	RefundReasonDuplicateCharge     = "duplicate_charge"
	RefundReasonFraudulent          = "fraudulent"
	RefundReasonServiceIssue        = "service_issue"
	RefundReasonOther               = "other"
)

// ValidRefundReason reports whether the reason code belongs to the closed
// enumeration.
func ValidRefundReason(reason string) bool {
	switch reason {
	case RefundReasonRequestedByCustomer, RefundReasonDuplicateCharge,
		RefundReasonFraudulent, RefundReasonServiceIssue, RefundReasonOther:
		return true
	default:
		return false
	}
}

// Refund is one refund request against a gateway charge. Rows are written for
// successful and failed attempts alike; compliance reporting reads this table
// together with audit_logs.
type Refund struct {
	ID               string     `gorm:"type:char(36);primaryKey" json:"id"`
	OrganizationID   uint       `gorm:"not null;index" json:"organization_id"`
	ChargeRef        string     `gorm:"type:varchar(191);not null;index" json:"charge_ref"`
	AmountCents      int64      `gorm:"not null" json:"amount_cents"`
	Currency         string     `gorm:"type:char(3);not null" json:"currency"`
	Reason           string     `gorm:"type:varchar(50);not null" json:"reason"`
	Detail           string     `gorm:"type:text" json:"detail"`
	Status           string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	GatewayRefundRef string     `gorm:"type:varchar(191);default:''" json:"gateway_refund_ref"`
	RequestedBy      string     `gorm:"type:varchar(200);not null" json:"requested_by"`
	FailureMessage   string     `gorm:"type:text" json:"failure_message"`
	ProcessedAt      *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
