package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookEvent is the audit trail of gateway notifications. One row per
// delivery that matched a local payment, stored verbatim regardless of
// whether the delivery changed anything.
type WebhookEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Gateway        string         `gorm:"type:varchar(20);not null" json:"gateway"`
	PaymentID      uint           `gorm:"index" json:"payment_id"`
	ProviderStatus string         `gorm:"type:varchar(50)" json:"provider_status"`
	Payload        datatypes.JSON `json:"payload"`
}
