package models

import (
	"time"

	"gorm.io/gorm"
)

// AuditLog is an append-only record of a privileged action. Entries are never
// updated or deleted; compliance reporting depends on the full history.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Actor      string    `gorm:"type:varchar(200);not null;index" json:"actor"`
	Action     string    `gorm:"type:varchar(100);not null;index" json:"action"`
	TargetType string    `gorm:"type:varchar(50);not null;index:idx_audit_logs_target,priority:1" json:"target_type"`
	TargetID   string    `gorm:"type:varchar(191);not null;index:idx_audit_logs_target,priority:2" json:"target_id"`
	Details    string    `gorm:"type:longtext" json:"details"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// AppendAuditLog writes one audit entry. There is intentionally no update or
// delete counterpart.
func AppendAuditLog(db *gorm.DB, actor, action, targetType, targetID, details string) error {
	entry := AuditLog{
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
	}
	return db.Create(&entry).Error
}
