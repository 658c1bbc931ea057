package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coursemarket/internal/config"
	"coursemarket/internal/gateway"
	"coursemarket/internal/models"
)

// fakeGateway is a scriptable gateway.Client for service tests.
type fakeGateway struct {
	name         string
	chargeResult *gateway.Result
	chargeErr    error
	statusResult *gateway.Result
	statusErr    error
	verify       bool
	notif        *gateway.Notification
	parseErr     error
}

var fakeStatuses = map[string]models.PaymentStatus{
	"APPROVED": models.PaymentStatusPaid,
	"PENDING":  models.PaymentStatusPending,
	"DENIED":   models.PaymentStatusFailed,
	"REFUNDED": models.PaymentStatusCancelled,
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	return f.chargeResult, f.chargeErr
}

func (f *fakeGateway) GetChargeStatus(ctx context.Context, externalID string) (*gateway.Result, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusResult, nil
}

func (f *fakeGateway) MapStatus(providerStatus string) models.PaymentStatus {
	if s, ok := fakeStatuses[providerStatus]; ok {
		return s
	}
	return models.PaymentStatusUnknown
}

func (f *fakeGateway) VerifyWebhook(signature string, body []byte) bool { return f.verify }

func (f *fakeGateway) ParseWebhook(body []byte) (*gateway.Notification, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.notif, nil
}

func fakeResult(externalID, providerStatus string, status models.PaymentStatus) *gateway.Result {
	return &gateway.Result{
		ExternalID:     externalID,
		ProviderStatus: providerStatus,
		Status:         status,
		Raw:            json.RawMessage(`{"test":true}`),
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Installments:   config.DefaultInstallments(),
		GatewayTimeout: 5 * time.Second,
		BoletoDueDays:  3,
	}
}

func seedUserAndCourse(t *testing.T, db *gorm.DB, price float64) (uint, uint) {
	t.Helper()
	user := models.User{Name: "Maria Silva", Email: "maria@example.com", CPF: "12345678900"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	course := models.Course{Title: "Go Avancado", Price: price, Active: true}
	if err := db.Create(&course).Error; err != nil {
		t.Fatalf("seed course: %v", err)
	}
	return user.ID, course.ID
}

func seedCoupon(t *testing.T, db *gorm.DB, code string, percent float64) *models.Coupon {
	t.Helper()
	coupon := models.Coupon{
		Code:       code,
		Type:       models.CouponTypePercentage,
		Value:      percent,
		UsageLimit: 5,
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(time.Hour),
		Active:     true,
	}
	if err := db.Create(&coupon).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	return &coupon
}

func newService(db *gorm.DB, fake *fakeGateway) *PaymentService {
	return NewPaymentService(db, gateway.NewRegistry(fake), testConfig())
}

func TestCheckoutSynchronousApproval(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)
	seedCoupon(t, db, "PROMO10", 10)

	fake := &fakeGateway{
		name:         "fakepay",
		chargeResult: fakeResult("ext-1", "APPROVED", models.PaymentStatusPaid),
	}
	svc := newService(db, fake)

	payment, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:     userID,
		CourseID:   courseID,
		Gateway:    "fakepay",
		Method:     models.PaymentMethodPix,
		CouponCode: "PROMO10",
	})
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	if payment.Status != models.PaymentStatusPaid {
		t.Errorf("Status = %q; want paid", payment.Status)
	}
	if payment.Amount != 270.00 {
		t.Errorf("Amount = %v; want 270 after 10%% discount", payment.Amount)
	}
	if payment.DiscountAmount != 30.00 {
		t.Errorf("DiscountAmount = %v; want 30", payment.DiscountAmount)
	}
	if payment.PaidAt == nil {
		t.Error("PaidAt not set")
	}
	if payment.GatewayPaymentID != "ext-1" {
		t.Errorf("GatewayPaymentID = %q; want ext-1", payment.GatewayPaymentID)
	}

	var enrollment models.Enrollment
	if err := db.Where("payment_id = ?", payment.ID).First(&enrollment).Error; err != nil {
		t.Fatalf("enrollment not created: %v", err)
	}
	if !enrollment.IsActive() {
		t.Errorf("enrollment status = %q; want active", enrollment.Status)
	}

	var coupon models.Coupon
	db.Where("code = ?", "PROMO10").First(&coupon)
	if coupon.UsedCount != 1 {
		t.Errorf("coupon UsedCount = %d; want 1", coupon.UsedCount)
	}
}

func TestCheckoutCreditCardInstallments(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	fake := &fakeGateway{
		name:         "fakepay",
		chargeResult: fakeResult("ext-cc", "APPROVED", models.PaymentStatusPaid),
	}
	svc := newService(db, fake)

	payment, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:       userID,
		CourseID:     courseID,
		Gateway:      "fakepay",
		Method:       models.PaymentMethodCreditCard,
		Installments: 6,
		Card:         &gateway.CardDetails{Number: "tok", HolderName: "MARIA", ExpiryMonth: "12", ExpiryYear: "28", CVV: "123"},
	})
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	// 6x at the 3.99% monthly table rate.
	if payment.InstallmentValue != 57.21 {
		t.Errorf("InstallmentValue = %v; want 57.21", payment.InstallmentValue)
	}
	if payment.Amount != 343.26 {
		t.Errorf("Amount = %v; want amortized total 343.26", payment.Amount)
	}
	if payment.Installments != 6 {
		t.Errorf("Installments = %d; want 6", payment.Installments)
	}
}

func TestCheckoutGatewayRejection(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	fake := &fakeGateway{
		name:      "fakepay",
		chargeErr: &gateway.RejectedError{Gateway: "fakepay", Reason: "card declined"},
	}
	svc := newService(db, fake)

	payment, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:   userID,
		CourseID: courseID,
		Gateway:  "fakepay",
		Method:   models.PaymentMethodPix,
	})

	var rejErr *gateway.RejectedError
	if !errors.As(err, &rejErr) {
		t.Fatalf("error = %v; want RejectedError", err)
	}
	if payment == nil {
		t.Fatal("failed attempt should still return the recorded payment")
	}

	var stored models.Payment
	if dbErr := db.First(&stored, payment.ID).Error; dbErr != nil {
		t.Fatalf("failed payment not persisted: %v", dbErr)
	}
	if stored.Status != models.PaymentStatusFailed {
		t.Errorf("stored status = %q; want failed", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("ErrorMessage empty; want the rejection recorded")
	}

	var enrollments int64
	db.Model(&models.Enrollment{}).Where("user_id = ? AND status = ?", userID, models.EnrollmentStatusActive).Count(&enrollments)
	if enrollments != 0 {
		t.Errorf("active enrollments = %d; want 0", enrollments)
	}
}

func TestCheckoutTimeoutPreservesOrderID(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	fake := &fakeGateway{name: "fakepay", chargeErr: context.DeadlineExceeded}
	svc := newService(db, fake)

	payment, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:   userID,
		CourseID: courseID,
		Gateway:  "fakepay",
		Method:   models.PaymentMethodPix,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v; want DeadlineExceeded", err)
	}

	// An ambiguous timeout keeps the order id so the charge can be
	// adopted later if the provider created it after all.
	var stored models.Payment
	if dbErr := db.First(&stored, payment.ID).Error; dbErr != nil {
		t.Fatalf("payment not persisted: %v", dbErr)
	}
	if stored.GatewayOrderID == "" {
		t.Error("GatewayOrderID lost on timeout")
	}
	if stored.Status != models.PaymentStatusFailed {
		t.Errorf("stored status = %q; want failed", stored.Status)
	}
}

func TestCheckoutUnexpectedErrorRollsBack(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	fake := &fakeGateway{name: "fakepay", chargeErr: errors.New("boom")}
	svc := newService(db, fake)

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:   userID,
		CourseID: courseID,
		Gateway:  "fakepay",
		Method:   models.PaymentMethodPix,
	})
	if err == nil {
		t.Fatal("expected an error")
	}

	var count int64
	db.Model(&models.Payment{}).Count(&count)
	if count != 0 {
		t.Errorf("payments = %d; unexpected errors must roll the attempt back", count)
	}
}

func TestCheckoutAlreadyEnrolled(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)
	if err := db.Create(&models.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Status:   models.EnrollmentStatusActive,
	}).Error; err != nil {
		t.Fatalf("seed enrollment: %v", err)
	}

	fake := &fakeGateway{name: "fakepay", chargeResult: fakeResult("ext-1", "APPROVED", models.PaymentStatusPaid)}
	svc := newService(db, fake)

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:   userID,
		CourseID: courseID,
		Gateway:  "fakepay",
		Method:   models.PaymentMethodPix,
	})
	if !errors.Is(err, ErrAlreadyEnrolled) {
		t.Errorf("error = %v; want ErrAlreadyEnrolled", err)
	}
}

func TestCheckoutUnknownGateway(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)
	svc := newService(db, &fakeGateway{name: "fakepay"})

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:   userID,
		CourseID: courseID,
		Gateway:  "stripe",
		Method:   models.PaymentMethodPix,
	})
	if !errors.Is(err, gateway.ErrUnknownGateway) {
		t.Errorf("error = %v; want ErrUnknownGateway", err)
	}
}

func TestSyncStatusSettlesPendingPayment(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	payment := models.Payment{
		UserID:           userID,
		CourseID:         courseID,
		Amount:           300.00,
		PaymentMethod:    models.PaymentMethodPix,
		Gateway:          "fakepay",
		Status:           models.PaymentStatusPending,
		GatewayOrderID:   "order-sync",
		GatewayPaymentID: "ext-9",
		Installments:     1,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	fake := &fakeGateway{
		name:         "fakepay",
		statusResult: fakeResult("ext-9", "APPROVED", models.PaymentStatusPaid),
	}
	svc := newService(db, fake)

	synced, err := svc.SyncStatus(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("SyncStatus error: %v", err)
	}
	if synced.Status != models.PaymentStatusPaid {
		t.Errorf("Status = %q; want paid", synced.Status)
	}

	var enrollment models.Enrollment
	if err := db.Where("payment_id = ?", payment.ID).First(&enrollment).Error; err != nil {
		t.Fatalf("enrollment not created: %v", err)
	}
	if !enrollment.IsActive() {
		t.Errorf("enrollment status = %q; want active", enrollment.Status)
	}
}

func TestSyncStatusUnknownLeavesStateUnchanged(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	payment := models.Payment{
		UserID:           userID,
		CourseID:         courseID,
		Amount:           300.00,
		PaymentMethod:    models.PaymentMethodPix,
		Gateway:          "fakepay",
		Status:           models.PaymentStatusPending,
		GatewayOrderID:   "order-u",
		GatewayPaymentID: "ext-u",
		Installments:     1,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	fake := &fakeGateway{
		name:         "fakepay",
		statusResult: fakeResult("ext-u", "SOMETHING_NEW", models.PaymentStatusUnknown),
	}
	svc := newService(db, fake)

	synced, err := svc.SyncStatus(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("SyncStatus error: %v", err)
	}
	if synced.Status != models.PaymentStatusPending {
		t.Errorf("Status = %q; unmapped provider status must not move the state", synced.Status)
	}
}

func TestCheckoutSynchronousDenial(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	fake := &fakeGateway{
		name:         "fakepay",
		chargeResult: fakeResult("ext-d", "DENIED", models.PaymentStatusFailed),
	}
	svc := newService(db, fake)

	payment, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:       userID,
		CourseID:     courseID,
		Gateway:      "fakepay",
		Method:       models.PaymentMethodCreditCard,
		Installments: 1,
		Card:         &gateway.CardDetails{Number: "tok", HolderName: "MARIA", ExpiryMonth: "12", ExpiryYear: "28", CVV: "123"},
	})

	// A 2xx response with a denied status must read as a rejection,
	// not as a successfully created charge.
	var rejErr *gateway.RejectedError
	if !errors.As(err, &rejErr) {
		t.Fatalf("error = %v; want RejectedError", err)
	}
	if payment == nil {
		t.Fatal("denied attempt should still return the recorded payment")
	}

	var stored models.Payment
	if dbErr := db.First(&stored, payment.ID).Error; dbErr != nil {
		t.Fatalf("denied payment not persisted: %v", dbErr)
	}
	if stored.Status != models.PaymentStatusFailed {
		t.Errorf("stored status = %q; want failed", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("ErrorMessage empty; want the denial recorded")
	}
	if stored.GatewayPaymentID != "ext-d" {
		t.Errorf("GatewayPaymentID = %q; want ext-d", stored.GatewayPaymentID)
	}

	var enrollments int64
	db.Model(&models.Enrollment{}).Where("user_id = ? AND status = ?", userID, models.EnrollmentStatusActive).Count(&enrollments)
	if enrollments != 0 {
		t.Errorf("active enrollments = %d; want 0", enrollments)
	}
}

func TestCheckoutPartialResultKeepsExternalID(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	// The adapter created the charge remotely but a follow-up call
	// failed, so it hands back both the partial result and the error.
	fake := &fakeGateway{
		name:         "fakepay",
		chargeResult: fakeResult("ext-p", "PENDING", models.PaymentStatusPending),
		chargeErr:    &gateway.UnavailableError{Gateway: "fakepay", Err: errors.New("qr code fetch failed")},
	}
	svc := newService(db, fake)

	payment, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:   userID,
		CourseID: courseID,
		Gateway:  "fakepay",
		Method:   models.PaymentMethodPix,
	})

	var unavailErr *gateway.UnavailableError
	if !errors.As(err, &unavailErr) {
		t.Fatalf("error = %v; want UnavailableError", err)
	}
	if payment == nil {
		t.Fatal("partial attempt should still return the recorded payment")
	}

	var stored models.Payment
	if dbErr := db.First(&stored, payment.ID).Error; dbErr != nil {
		t.Fatalf("payment not persisted: %v", dbErr)
	}
	if stored.Status != models.PaymentStatusFailed {
		t.Errorf("stored status = %q; want failed", stored.Status)
	}
	// The external id must survive so the charge stays reachable by
	// webhook delivery and by the reconciliation sweep.
	if stored.GatewayPaymentID != "ext-p" {
		t.Errorf("GatewayPaymentID = %q; want ext-p", stored.GatewayPaymentID)
	}
}

func TestSyncStatusAdoptsFailedPayment(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	payment := models.Payment{
		UserID:           userID,
		CourseID:         courseID,
		Amount:           300.00,
		PaymentMethod:    models.PaymentMethodPix,
		Gateway:          "fakepay",
		Status:           models.PaymentStatusFailed,
		GatewayOrderID:   "order-adopt",
		GatewayPaymentID: "ext-a",
		ErrorMessage:     "fakepay: gateway unavailable: request timed out",
		Installments:     1,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	fake := &fakeGateway{
		name:         "fakepay",
		statusResult: fakeResult("ext-a", "APPROVED", models.PaymentStatusPaid),
	}
	svc := newService(db, fake)

	// The attempt was recorded as failed after an ambiguous outage, but
	// the provider settled the charge. The poll adopts that outcome.
	synced, err := svc.SyncStatus(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("SyncStatus error: %v", err)
	}
	if synced.Status != models.PaymentStatusPaid {
		t.Errorf("Status = %q; want paid", synced.Status)
	}
	if synced.PaidAt == nil {
		t.Error("PaidAt not set")
	}
	if synced.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q; want the stale failure cleared", synced.ErrorMessage)
	}

	var enrollment models.Enrollment
	if err := db.Where("payment_id = ?", payment.ID).First(&enrollment).Error; err != nil {
		t.Fatalf("enrollment not created: %v", err)
	}
	if !enrollment.IsActive() {
		t.Errorf("enrollment status = %q; want active", enrollment.Status)
	}
}

func TestActiveEnrollmentUniqueness(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	if err := db.Create(&models.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Status:   models.EnrollmentStatusActive,
	}).Error; err != nil {
		t.Fatalf("seed active enrollment: %v", err)
	}

	// A second active seat for the same buyer and course must hit the
	// partial unique index.
	err := db.Create(&models.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Status:   models.EnrollmentStatusActive,
	}).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("error = %v; want ErrDuplicatedKey", err)
	}

	// The index only covers active rows; a cancelled seat alongside an
	// active one is a valid repurchase history.
	if err := db.Create(&models.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Status:   models.EnrollmentStatusCancelled,
	}).Error; err != nil {
		t.Fatalf("cancelled row alongside active rejected: %v", err)
	}
}

func TestSyncStatusNotReconcilable(t *testing.T) {
	db := newTestDB(t)
	userID, courseID := seedUserAndCourse(t, db, 300.00)

	payment := models.Payment{
		UserID:         userID,
		CourseID:       courseID,
		Amount:         300.00,
		PaymentMethod:  models.PaymentMethodPix,
		Gateway:        "fakepay",
		Status:         models.PaymentStatusPending,
		GatewayOrderID: "order-n",
		Installments:   1,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	svc := newService(db, &fakeGateway{name: "fakepay"})
	if _, err := svc.SyncStatus(context.Background(), payment.ID); !errors.Is(err, ErrNotReconcilable) {
		t.Errorf("error = %v; want ErrNotReconcilable", err)
	}
}
