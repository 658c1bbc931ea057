package models

import (
	"time"

	"gorm.io/gorm"
)

type EnrollmentStatus string

const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Enrollment is a user's access grant to a course. At most one active
// enrollment may exist per (user, course) pair at a time.
type Enrollment struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// The partial unique index backs the one-active-enrollment rule at
	// the database level, closing the race two concurrent activations
	// would otherwise win together.
	UserID   uint `gorm:"index:idx_user_course;index:uniq_active_enrollment,unique,where:status = 'active'" json:"user_id"`
	CourseID uint `gorm:"index:idx_user_course;index:uniq_active_enrollment,unique,where:status = 'active'" json:"course_id"`
	// PaymentID is nullable: some flows enroll without a payment.
	PaymentID *uint `gorm:"index" json:"payment_id,omitempty"`

	Status      EnrollmentStatus `gorm:"type:varchar(20);not null;default:pending" json:"status"`
	EnrolledAt  *time.Time       `json:"enrolled_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`

	User    User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Course  Course   `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	Payment *Payment `gorm:"foreignKey:PaymentID" json:"payment,omitempty"`
}

func (e *Enrollment) IsActive() bool {
	return e.Status == EnrollmentStatusActive
}

func (e *Enrollment) IsCancelled() bool {
	return e.Status == EnrollmentStatusCancelled
}
