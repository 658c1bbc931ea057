package models

import (
	"time"

	"gorm.io/gorm"
)

// Course is a catalog entry. Catalog management lives outside this
// service; the payment core only reads title and price.
type Course struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Title       string  `gorm:"type:varchar(200);not null" json:"title"`
	Description string  `gorm:"type:text" json:"description"`
	Price       float64 `gorm:"type:decimal(15,2);not null" json:"price"`
	Active      bool    `gorm:"default:true" json:"active"`
}
