package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coursemarket/internal/config"
	"coursemarket/internal/gateway"
	"coursemarket/internal/models"
	"coursemarket/internal/pricing"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrCourseNotFound  = errors.New("course not found")
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrAlreadyEnrolled guards checkout: a user with an active enrollment
	// for the course cannot buy it again.
	ErrAlreadyEnrolled = errors.New("user already has an active enrollment for this course")
	ErrCouponNotUsable = errors.New("coupon cannot be applied")
	// ErrNotReconcilable marks payments that never received an external id,
	// so there is nothing to poll the gateway for.
	ErrNotReconcilable = errors.New("payment has no gateway charge to reconcile")
)

// PaymentService orchestrates the payment lifecycle: it creates Payment
// records, drives the gateway call, persists the normalized outcome and
// applies the enrollment side effects of terminal statuses.
type PaymentService struct {
	db             *gorm.DB
	gateways       *gateway.Registry
	installments   config.InstallmentConfig
	gatewayTimeout time.Duration
	boletoDueDays  int
	mailer         *EmailService
}

// SetMailer enables best-effort transactional mail after checkout.
func (s *PaymentService) SetMailer(mailer *EmailService) {
	s.mailer = mailer
}

func NewPaymentService(db *gorm.DB, gateways *gateway.Registry, cfg *config.Config) *PaymentService {
	return &PaymentService{
		db:             db,
		gateways:       gateways,
		installments:   cfg.Installments,
		gatewayTimeout: cfg.GatewayTimeout,
		boletoDueDays:  cfg.BoletoDueDays,
	}
}

// CheckoutInput is one charge request for one course by one user.
type CheckoutInput struct {
	UserID       uint
	CourseID     uint
	Gateway      string
	Method       models.PaymentMethod
	CouponCode   string
	Installments int
	Card         *gateway.CardDetails
}

// Checkout runs the full synchronous payment flow in one transaction:
// enrollment guard, Payment insert with a fresh order id, gateway call,
// result persist and, on synchronous approval, enrollment activation.
//
// Gateway failures from the error taxonomy commit the Payment as failed
// (the order id survives for later reconciliation, since a timed-out
// call may still have created the charge remotely) and are returned to
// the caller. Any other error rolls the whole attempt back so no
// half-written Payment is left behind.
func (s *PaymentService) Checkout(ctx context.Context, in CheckoutInput) (*models.Payment, error) {
	client, err := s.gateways.Get(in.Gateway)
	if err != nil {
		return nil, err
	}

	var payment *models.Payment
	var gatewayErr error
	var buyerEmail, courseTitle string

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The user row lock serializes concurrent checkouts by the same
		// buyer, so two requests cannot both pass the enrollment guard.
		var user models.User
		if err := lockForUpdate(tx).First(&user, in.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		var course models.Course
		if err := tx.Where("active = ?", true).First(&course, in.CourseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCourseNotFound
			}
			return err
		}
		buyerEmail, courseTitle = user.Email, course.Title

		// The guard and the Payment insert share this transaction so two
		// concurrent checkouts cannot both pass the check.
		var active int64
		if err := tx.Model(&models.Enrollment{}).
			Where("user_id = ? AND course_id = ? AND status = ?",
				user.ID, course.ID, models.EnrollmentStatusActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrAlreadyEnrolled
		}

		amount := course.Price
		var couponID *uint
		var discount float64
		if in.CouponCode != "" {
			var coupon models.Coupon
			if err := tx.Where("code = ?", in.CouponCode).First(&coupon).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrCouponNotUsable
				}
				return err
			}
			now := time.Now()
			if !coupon.CanBeUsed(now) {
				return ErrCouponNotUsable
			}
			discount = coupon.CalculateDiscount(amount, now)
			amount -= discount
			couponID = &coupon.ID
		}

		installments := 1
		installmentValue := amount
		if in.Method == models.PaymentMethodCreditCard {
			quote, err := pricing.Calculate(amount, in.Installments, s.installments)
			if err != nil {
				return err
			}
			// The amortized total is what gets charged and persisted, not
			// the sticker price.
			amount = quote.TotalAmount
			installments = in.Installments
			installmentValue = quote.InstallmentValue
		}

		payment = &models.Payment{
			UserID:           user.ID,
			CourseID:         course.ID,
			Amount:           amount,
			DiscountAmount:   discount,
			CouponID:         couponID,
			PaymentMethod:    in.Method,
			Gateway:          in.Gateway,
			Status:           models.PaymentStatusPending,
			GatewayOrderID:   uuid.NewString(),
			Installments:     installments,
			InstallmentValue: installmentValue,
		}
		if in.Method == models.PaymentMethodBoleto {
			due := time.Now().AddDate(0, 0, s.boletoDueDays)
			payment.DueDate = &due
		}
		if err := tx.Create(payment).Error; err != nil {
			return err
		}

		req := gateway.ChargeRequest{
			OrderID:      payment.GatewayOrderID,
			Amount:       amount,
			Method:       in.Method,
			Description:  course.Title,
			Installments: installments,
			Card:         in.Card,
			Customer: gateway.Customer{
				ID:    fmt.Sprintf("user_%d", user.ID),
				Name:  user.Name,
				Email: user.Email,
				TaxID: user.CPF,
				Phone: user.Phone,
			},
		}
		if payment.DueDate != nil {
			req.DueDate = *payment.DueDate
		}

		gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()

		result, err := client.CreateCharge(gwCtx, req)
		if err != nil {
			if !isGatewayError(err) {
				// Unexpected failure: roll everything back, no Payment row
				// survives the attempt.
				return err
			}
			// Expected gateway failure: commit the Payment as failed. The
			// order id is preserved on purpose; a timed-out call is
			// ambiguous and reconciliation may still adopt a charge that
			// was created remotely. A partial result means the charge
			// does exist, so its external id is persisted too.
			if result != nil {
				if perr := persistResult(tx, payment, result); perr != nil {
					return perr
				}
			}
			if _, txnErr := applyStatus(tx, payment, models.PaymentStatusFailed, err.Error()); txnErr != nil {
				return txnErr
			}
			gatewayErr = err
			return nil
		}

		if err := persistResult(tx, payment, result); err != nil {
			return err
		}

		switch result.Status {
		case models.PaymentStatusPaid:
			if _, err := applyStatus(tx, payment, models.PaymentStatusPaid, ""); err != nil {
				return err
			}
		case models.PaymentStatusFailed, models.PaymentStatusCancelled:
			// A 2xx response carrying a denied status is still a
			// rejection; surface it like one so the caller never reads
			// a denied charge as a created success.
			msg := fmt.Sprintf("charge %s by gateway (status %s)", result.Status, result.ProviderStatus)
			if _, err := applyStatus(tx, payment, result.Status, msg); err != nil {
				return err
			}
			gatewayErr = &gateway.RejectedError{Gateway: in.Gateway, Reason: msg, Details: result.Raw}
		case models.PaymentStatusUnknown:
			log.Printf("payment %d: gateway %s returned unmapped status %q, leaving pending",
				payment.ID, in.Gateway, result.ProviderStatus)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if gatewayErr != nil {
		return payment, gatewayErr
	}
	s.notifyCheckout(payment, buyerEmail, courseTitle)
	return payment, nil
}

// notifyCheckout sends post-checkout mail. Failures are logged only so
// mail problems never surface as payment failures.
func (s *PaymentService) notifyCheckout(p *models.Payment, email, courseTitle string) {
	if s.mailer == nil || !s.mailer.Enabled() || email == "" {
		return
	}
	var err error
	switch {
	case p.Status == models.PaymentStatusPaid:
		err = s.mailer.SendPaymentReceipt(email, courseTitle, p)
	case p.PaymentMethod == models.PaymentMethodBoleto && p.Status == models.PaymentStatusPending:
		err = s.mailer.SendBoletoIssued(email, courseTitle, p)
	}
	if err != nil {
		log.Printf("payment %d: notification mail failed: %v", p.ID, err)
	}
}

// GetPayment loads a payment scoped to its owner.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID, userID uint) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", paymentID, userID).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SyncStatus polls the gateway for the payment's authoritative state and
// replays the state machine with it. This is the manual reconciliation
// path for charges whose synchronous outcome was ambiguous.
func (s *PaymentService) SyncStatus(ctx context.Context, paymentID uint) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if payment.GatewayPaymentID == "" {
		return nil, ErrNotReconcilable
	}

	client, err := s.gateways.Get(payment.Gateway)
	if err != nil {
		return nil, err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	result, err := client.GetChargeStatus(gwCtx, payment.GatewayPaymentID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&payment, payment.ID).Error; err != nil {
			return err
		}
		if result.Status == models.PaymentStatusUnknown {
			log.Printf("payment %d: gateway %s reported unmapped status %q, leaving %s",
				payment.ID, payment.Gateway, result.ProviderStatus, payment.Status)
			return nil
		}
		_, err := applyStatus(tx, &payment, result.Status, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ReconcileStale polls every non-terminal-or-ambiguous payment that has
// an external charge id and is older than minAge. Used by the reconcile
// command.
func (s *PaymentService) ReconcileStale(ctx context.Context, minAge time.Duration) (int, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status IN ? AND gateway_payment_id <> '' AND updated_at < ?",
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing, models.PaymentStatusFailed},
			time.Now().Add(-minAge)).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, id := range ids {
		if _, err := s.SyncStatus(ctx, id); err != nil {
			log.Printf("reconcile: payment %d: %v", id, err)
			continue
		}
		reconciled++
	}
	return reconciled, nil
}

// isGatewayError reports whether err belongs to the gateway taxonomy:
// outcomes that are part of normal operation and must be recorded on the
// Payment instead of rolling it back.
func isGatewayError(err error) bool {
	var authErr *gateway.AuthError
	var rejErr *gateway.RejectedError
	var unavailErr *gateway.UnavailableError
	return errors.As(err, &authErr) || errors.As(err, &rejErr) || errors.As(err, &unavailErr) ||
		errors.Is(err, context.DeadlineExceeded)
}

// lockForUpdate takes a row lock where the dialect supports it, so the
// checkout path and the webhook path serialize on the Payment row.
// SQLite (tests) has no FOR UPDATE; there the transaction itself plus
// the compare-and-swap in applyStatus provide the same guarantee.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// persistResult stores the normalized gateway response on the Payment.
func persistResult(tx *gorm.DB, p *models.Payment, res *gateway.Result) error {
	updates := map[string]any{
		"gateway_payment_id": res.ExternalID,
		"gateway_response":   datatypes.JSON(res.Raw),
	}
	if res.PixQRCode != "" {
		updates["pix_qr_code"] = res.PixQRCode
	}
	if res.PixQRCodeImage != "" {
		updates["pix_qr_code_image"] = res.PixQRCodeImage
	}
	if res.BoletoURL != "" {
		updates["boleto_url"] = res.BoletoURL
	}
	if res.BoletoBarcode != "" {
		updates["boleto_barcode"] = res.BoletoBarcode
	}
	if res.DueDate != nil {
		updates["due_date"] = *res.DueDate
	}
	if err := tx.Model(p).Updates(updates).Error; err != nil {
		return err
	}
	p.GatewayPaymentID = res.ExternalID
	p.GatewayResponse = datatypes.JSON(res.Raw)
	if res.PixQRCode != "" {
		p.PixQRCode = res.PixQRCode
	}
	if res.PixQRCodeImage != "" {
		p.PixQRCodeImage = res.PixQRCodeImage
	}
	if res.BoletoURL != "" {
		p.BoletoURL = res.BoletoURL
	}
	if res.BoletoBarcode != "" {
		p.BoletoBarcode = res.BoletoBarcode
	}
	if res.DueDate != nil {
		p.DueDate = res.DueDate
	}
	return nil
}

// applyStatus advances the payment state machine inside tx. The status
// write is a guarded compare-and-swap on the current status, so replayed
// or racing transitions collapse into no-ops; enrollment and coupon side
// effects only run when this call actually won the transition. Returns
// whether the status changed.
func applyStatus(tx *gorm.DB, p *models.Payment, next models.PaymentStatus, errMsg string) (bool, error) {
	if next == models.PaymentStatusUnknown || next == p.Status {
		return false, nil
	}
	if !p.CanTransitionTo(next) {
		// Monotonic: late or out-of-order reports never regress state.
		log.Printf("payment %d: ignoring transition %s -> %s", p.ID, p.Status, next)
		return false, nil
	}

	updates := map[string]any{"status": next}
	var paidAt time.Time
	if next == models.PaymentStatusPaid {
		paidAt = time.Now()
		updates["paid_at"] = paidAt
		// Adopting a previously failed attempt clears its stale error.
		updates["error_message"] = ""
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}

	res := tx.Model(&models.Payment{}).
		Where("id = ? AND status = ?", p.ID, p.Status).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race to a concurrent transition.
		return false, nil
	}

	prev := p.Status
	p.Status = next
	if next == models.PaymentStatusPaid {
		p.PaidAt = &paidAt
		p.ErrorMessage = ""
	}
	if errMsg != "" {
		p.ErrorMessage = errMsg
	}

	switch next {
	case models.PaymentStatusPaid:
		if err := activateEnrollment(tx, p); err != nil {
			return false, err
		}
		if err := incrementCouponUsage(tx, p); err != nil {
			return false, err
		}
	case models.PaymentStatusFailed, models.PaymentStatusCancelled:
		if err := cancelEnrollment(tx, p); err != nil {
			return false, err
		}
	}

	log.Printf("payment %d: status %s -> %s", p.ID, prev, next)
	return true, nil
}

// activateEnrollment grants the course seat for a paid payment. Keyed by
// payment id first so replays are no-ops; an inactive enrollment for the
// same (user, course) pair is adopted instead of duplicated, keeping at
// most one active enrollment per pair.
func activateEnrollment(tx *gorm.DB, p *models.Payment) error {
	now := time.Now()

	var enrollment models.Enrollment
	err := tx.Where("payment_id = ?", p.ID).First(&enrollment).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = tx.Where("user_id = ? AND course_id = ?", p.UserID, p.CourseID).
			Order("id").First(&enrollment).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			createErr := tx.Create(&models.Enrollment{
				UserID:     p.UserID,
				CourseID:   p.CourseID,
				PaymentID:  &p.ID,
				Status:     models.EnrollmentStatusActive,
				EnrolledAt: &now,
			}).Error
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				// A concurrent activation won the unique index; the seat
				// already exists.
				return nil
			}
			return createErr
		}
	}

	if enrollment.Status == models.EnrollmentStatusActive {
		return nil
	}
	return tx.Model(&enrollment).Updates(map[string]any{
		"status":      models.EnrollmentStatusActive,
		"payment_id":  p.ID,
		"enrolled_at": now,
	}).Error
}

// cancelEnrollment revokes the seat tied to this payment, if any.
func cancelEnrollment(tx *gorm.DB, p *models.Payment) error {
	return tx.Model(&models.Enrollment{}).
		Where("payment_id = ? AND status <> ?", p.ID, models.EnrollmentStatusCancelled).
		Update("status", models.EnrollmentStatusCancelled).Error
}

// incrementCouponUsage counts one use of the payment's coupon. Callers
// only invoke this after winning the transition into paid, which makes
// the increment exactly-once per settled payment.
func incrementCouponUsage(tx *gorm.DB, p *models.Payment) error {
	if p.CouponID == nil {
		return nil
	}
	return tx.Model(&models.Coupon{}).
		Where("id = ?", *p.CouponID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1")).Error
}
