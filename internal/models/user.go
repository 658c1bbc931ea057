package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the customer identity forwarded to gateways. Registration and
// authentication are handled by an external service.
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name  string `gorm:"type:varchar(255)" json:"name"`
	Email string `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	// CPF is the Brazilian tax id gateways require for charges.
	CPF   string `gorm:"type:varchar(14)" json:"cpf"`
	Phone string `gorm:"type:varchar(50)" json:"phone"`

	// Relationships
	Payments    []Payment    `gorm:"foreignKey:UserID" json:"payments,omitempty"`
	Enrollments []Enrollment `gorm:"foreignKey:UserID" json:"enrollments,omitempty"`
}
