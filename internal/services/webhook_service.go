package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"coursemarket/internal/gateway"
	"coursemarket/internal/models"
)

var (
	// ErrInvalidSignature means the notification failed the provider's
	// authenticity check and must be answered with 401.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedWebhook means the payload itself is unusable (400).
	ErrMalformedWebhook = errors.New("malformed webhook payload")
)

// WebhookService reconciles asynchronous gateway notifications with the
// locally stored Payment, replaying the exact same state machine the
// checkout path uses. Duplicate deliveries are harmless: the transition
// is a compare-and-swap and its side effects only run once.
type WebhookService struct {
	db       *gorm.DB
	gateways *gateway.Registry
}

func NewWebhookService(db *gorm.DB, gateways *gateway.Registry) *WebhookService {
	return &WebhookService{db: db, gateways: gateways}
}

// Handle processes one webhook delivery for the named gateway.
func (s *WebhookService) Handle(ctx context.Context, gatewayName, signature string, body []byte) error {
	client, err := s.gateways.Get(gatewayName)
	if err != nil {
		return err
	}

	if !client.VerifyWebhook(signature, body) {
		return ErrInvalidSignature
	}

	notif, err := client.ParseWebhook(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		err := lockForUpdate(tx).
			Where("gateway = ? AND gateway_payment_id = ?", gatewayName, notif.ExternalID).
			First(&payment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Never create speculative records for charges we don't know.
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}

		// Audit trail first: the payload is kept verbatim whether or not
		// the delivery changes anything.
		if err := tx.Create(&models.WebhookEvent{
			Gateway:        gatewayName,
			PaymentID:      payment.ID,
			ProviderStatus: notif.ProviderStatus,
			Payload:        datatypes.JSON(body),
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&payment).UpdateColumn("webhook_data", datatypes.JSON(body)).Error; err != nil {
			return err
		}

		// The adapter's vocabulary table is the same one the synchronous
		// path uses, so both paths always agree on the internal status.
		next := client.MapStatus(notif.ProviderStatus)
		if next == models.PaymentStatusUnknown {
			log.Printf("webhook %s: payment %d: unmapped provider status %q, acknowledging without transition",
				gatewayName, payment.ID, notif.ProviderStatus)
			return nil
		}

		var errMsg string
		if next == models.PaymentStatusFailed || next == models.PaymentStatusCancelled {
			errMsg = fmt.Sprintf("gateway reported status %s", notif.ProviderStatus)
		}
		_, err = applyStatus(tx, &payment, next, errMsg)
		return err
	})
}

// RecentEvents lists the stored webhook audit trail for a payment.
func (s *WebhookService) RecentEvents(ctx context.Context, paymentID uint, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []models.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at desc").
		Limit(limit).
		Find(&events).Error
	return events, err
}
