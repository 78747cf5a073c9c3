package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization is a tenant. Billing code only ever reads organizations for
// display metadata; all mutations happen in the tenant CRUD layer.
type Organization struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(200);not null" json:"name" validate:"required,min=2,max=200"`
	Slug         string         `gorm:"type:varchar(100);uniqueIndex" json:"slug"`
	ContactEmail string         `gorm:"type:varchar(200)" json:"contact_email" validate:"omitempty,email"`
	OwnerUserID  uint           `gorm:"index" json:"owner_user_id"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
