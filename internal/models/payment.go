package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	// PaymentStatusUnknown is never persisted; it marks a provider status
	// outside an adapter's vocabulary.
	PaymentStatusUnknown PaymentStatus = "unknown"
)

type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodPix        PaymentMethod = "pix"
	PaymentMethodBoleto     PaymentMethod = "boleto"
)

// Payment is one purchase attempt for one course by one user through one
// gateway. Rows are never deleted; they are the audit trail.
type Payment struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UserID   uint `gorm:"index" json:"user_id"`
	CourseID uint `gorm:"index" json:"course_id"`

	Amount         float64       `gorm:"type:decimal(15,2)" json:"amount"`
	DiscountAmount float64       `gorm:"type:decimal(15,2)" json:"discount_amount"`
	CouponID       *uint         `gorm:"index" json:"coupon_id,omitempty"`
	PaymentMethod  PaymentMethod `gorm:"type:varchar(20);not null" json:"payment_method"`
	Gateway        string        `gorm:"type:varchar(20);not null;index:idx_gateway_payment" json:"gateway"`
	Status         PaymentStatus `gorm:"type:varchar(20);not null;default:pending" json:"status"`

	// GatewayOrderID is the idempotency key sent to the gateway. It is
	// generated once, before any external call, so a retried request can
	// never create two external charges for one intent.
	GatewayOrderID   string `gorm:"type:varchar(64);uniqueIndex" json:"gateway_order_id"`
	GatewayPaymentID string `gorm:"type:varchar(100);index:idx_gateway_payment" json:"gateway_payment_id"`

	Installments     int     `json:"installments"`
	InstallmentValue float64 `gorm:"type:decimal(15,2)" json:"installment_value"`

	PixQRCode      string `gorm:"type:text" json:"pix_qr_code,omitempty"`
	PixQRCodeImage string `gorm:"type:text" json:"pix_qr_code_image,omitempty"`
	BoletoURL      string `gorm:"type:text" json:"boleto_url,omitempty"`
	BoletoBarcode  string `gorm:"type:varchar(100)" json:"boleto_barcode,omitempty"`

	DueDate      *time.Time `json:"due_date,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`

	// Opaque provider blobs, kept verbatim for audit. Never parsed
	// outside the adapter that produced them.
	GatewayResponse datatypes.JSON `json:"gateway_response,omitempty"`
	WebhookData     datatypes.JSON `json:"webhook_data,omitempty"`

	User   User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Course Course  `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	Coupon *Coupon `gorm:"foreignKey:CouponID" json:"coupon,omitempty"`
}

// IsTerminal reports whether no further automatic transition can occur
// without external input.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces the status state machine:
//
//	pending -> processing -> {paid | failed | cancelled}
//
// paid additionally accepts cancellation, which models refunds and
// chargebacks reported after settlement. failed accepts paid and
// cancelled: an attempt recorded as failed after an ambiguous timeout
// or outage is adopted when the gateway later reports the charge's
// authoritative outcome, via webhook or status poll. cancelled accepts
// nothing. Self-transitions are allowed and must be side-effect free.
func (p *Payment) CanTransitionTo(next PaymentStatus) bool {
	if next == p.Status {
		return true
	}
	switch p.Status {
	case PaymentStatusPending:
		return next == PaymentStatusProcessing || next == PaymentStatusPaid ||
			next == PaymentStatusFailed || next == PaymentStatusCancelled
	case PaymentStatusProcessing:
		return next == PaymentStatusPaid || next == PaymentStatusFailed ||
			next == PaymentStatusCancelled
	case PaymentStatusPaid:
		return next == PaymentStatusCancelled
	case PaymentStatusFailed:
		return next == PaymentStatusPaid || next == PaymentStatusCancelled
	default:
		return false
	}
}
