package models

import "time"

// Webhook event processing states. A record only moves forward:
// pending -> processing -> completed | failed. Failed records below the
// attempt bound may re-enter processing through the retry sweep.
const (
	WebhookEventStatusPending    = "pending"
	WebhookEventStatusProcessing = "processing"
	WebhookEventStatusCompleted  = "completed"
	WebhookEventStatusFailed     = "failed"
)

// WebhookEvent stores one gateway webhook delivery per external event id with
// deduplication metadata for idempotent processing.
type WebhookEvent struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	EventID     string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"event_id"`
	EventType   string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON string     `gorm:"type:longtext;not null" json:"payload_json"`
	Status      string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	NextRetryAt *time.Time `gorm:"type:timestamp;default:null;index" json:"next_retry_at,omitempty"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	Result      string     `gorm:"type:varchar(191);default:''" json:"result"`
	ReceivedAt  time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFinished reports whether the event reached a terminal processing state.
func (e *WebhookEvent) IsFinished() bool {
	return e.Status == WebhookEventStatusCompleted
}

// IsRetryable reports whether a failed event may be attempted again under the
// given attempt bound.
func (e *WebhookEvent) IsRetryable(maxAttempts int) bool {
	return e.Status == WebhookEventStatusFailed && e.Attempts < maxAttempts
}
