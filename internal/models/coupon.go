package models

import (
	"time"

	"gorm.io/gorm"
)

type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFixed      CouponType = "fixed"
)

// Coupon is a discount rule with a validity window and usage caps. The
// payment core only reads it and increments its usage on settlement.
type Coupon struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Code          string     `gorm:"type:varchar(50);uniqueIndex" json:"code"`
	Name          string     `gorm:"type:varchar(100)" json:"name"`
	Type          CouponType `gorm:"type:varchar(20);not null" json:"type"`
	Value         float64    `gorm:"type:decimal(15,2)" json:"value"`
	MinimumAmount float64    `gorm:"type:decimal(15,2)" json:"minimum_amount"`
	UsageLimit    int        `json:"usage_limit"`
	UsedCount     int        `json:"used_count"`
	ValidFrom     time.Time  `json:"valid_from"`
	ValidUntil    time.Time  `json:"valid_until"`
	Active        bool       `gorm:"default:true" json:"active"`
}

// IsValid reports whether the coupon is active and inside its window.
func (c *Coupon) IsValid(now time.Time) bool {
	return c.Active && !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// CanBeUsed additionally checks the usage cap.
func (c *Coupon) CanBeUsed(now time.Time) bool {
	if !c.IsValid(now) {
		return false
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return false
	}
	return true
}

// CalculateDiscount returns the discount for the given amount, zero when
// the coupon cannot be applied. A fixed discount never exceeds the amount.
func (c *Coupon) CalculateDiscount(amount float64, now time.Time) float64 {
	if !c.CanBeUsed(now) {
		return 0
	}
	if c.MinimumAmount > 0 && amount < c.MinimumAmount {
		return 0
	}
	if c.Type == CouponTypePercentage {
		return amount * c.Value / 100
	}
	if c.Value > amount {
		return amount
	}
	return c.Value
}
