package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"coursemarket/internal/config"
	"coursemarket/internal/middleware"
	"coursemarket/internal/models"
	"coursemarket/internal/pricing"
	"coursemarket/internal/services"
)

type PaymentHandler struct {
	payments     *services.PaymentService
	gateways     []string
	installments config.InstallmentConfig
}

func NewPaymentHandler(payments *services.PaymentService, gateways []string, cfg *config.Config) *PaymentHandler {
	return &PaymentHandler{
		payments:     payments,
		gateways:     gateways,
		installments: cfg.Installments,
	}
}

// CreatePixPayment handles POST /payment/pix. PIX charges settle
// asynchronously, so the response carries the QR code and a pending
// status; the webhook or the reconciler flips it to paid.
func (h *PaymentHandler) CreatePixPayment(c echo.Context) error {
	var req pixCheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	payment, err := h.payments.Checkout(c.Request().Context(), services.CheckoutInput{
		UserID:     middleware.UserID(c),
		CourseID:   req.CourseID,
		Gateway:    req.Gateway,
		Method:     models.PaymentMethodPix,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]interface{}{
		"payment_id":    payment.ID,
		"order_id":      payment.GatewayOrderID,
		"status":        payment.Status,
		"amount":        payment.Amount,
		"qr_code":       payment.PixQRCode,
		"qr_code_image": payment.PixQRCodeImage,
	})
}

// CreateCreditCardPayment handles POST /payment/credit-card. Card
// charges resolve synchronously; a gateway rejection surfaces as a 422
// after the failed attempt has been recorded.
func (h *PaymentHandler) CreateCreditCardPayment(c echo.Context) error {
	var req creditCardCheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	payment, err := h.payments.Checkout(c.Request().Context(), services.CheckoutInput{
		UserID:       middleware.UserID(c),
		CourseID:     req.CourseID,
		Gateway:      req.Gateway,
		Method:       models.PaymentMethodCreditCard,
		CouponCode:   req.CouponCode,
		Installments: req.Installments,
		Card:         req.Card.toGateway(),
	})
	if err != nil {
		return err
	}

	return respond(c, http.StatusCreated, map[string]interface{}{
		"payment_id":        payment.ID,
		"order_id":          payment.GatewayOrderID,
		"status":            payment.Status,
		"amount":            payment.Amount,
		"installments":      payment.Installments,
		"installment_value": payment.InstallmentValue,
	})
}

// CreateBoletoPayment handles POST /payment/boleto.
func (h *PaymentHandler) CreateBoletoPayment(c echo.Context) error {
	var req boletoCheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	payment, err := h.payments.Checkout(c.Request().Context(), services.CheckoutInput{
		UserID:     middleware.UserID(c),
		CourseID:   req.CourseID,
		Gateway:    req.Gateway,
		Method:     models.PaymentMethodBoleto,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		return err
	}

	return respond(c, http.StatusCreated, map[string]interface{}{
		"payment_id": payment.ID,
		"order_id":   payment.GatewayOrderID,
		"status":     payment.Status,
		"amount":     payment.Amount,
		"boleto_url": payment.BoletoURL,
		"barcode":    payment.BoletoBarcode,
		"due_date":   payment.DueDate,
	})
}

// GetPaymentConfig handles GET /payment/config.
func (h *PaymentHandler) GetPaymentConfig(c echo.Context) error {
	return respond(c, http.StatusOK, map[string]interface{}{
		"gateways":              h.gateways,
		"max_installments":      h.installments.MaxInstallments,
		"interest_free_count":   h.installments.InterestFreeCount,
		"min_installment_value": h.installments.MinInstallmentValue,
		"interest_rates":        h.installments.InterestRates,
	})
}

// CalculateInstallments handles POST /payment/calculate-installments.
func (h *PaymentHandler) CalculateInstallments(c echo.Context) error {
	var req calculateInstallmentsRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	quote, err := pricing.Calculate(req.Amount, req.Installments, h.installments)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, quote)
}

// GetPaymentStatus handles GET /payment/:id/status, scoped to the
// authenticated owner.
func (h *PaymentHandler) GetPaymentStatus(c echo.Context) error {
	id, err := paymentIDParam(c)
	if err != nil {
		return err
	}

	payment, err := h.payments.GetPayment(c.Request().Context(), id, middleware.UserID(c))
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]interface{}{
		"payment_id": payment.ID,
		"status":     payment.Status,
		"amount":     payment.Amount,
		"method":     payment.PaymentMethod,
		"gateway":    payment.Gateway,
		"paid_at":    payment.PaidAt,
	})
}

// SyncPaymentStatus handles POST /payment/:id/sync, the manual
// reconciliation trigger for payments stuck without a webhook.
func (h *PaymentHandler) SyncPaymentStatus(c echo.Context) error {
	id, err := paymentIDParam(c)
	if err != nil {
		return err
	}

	// Ownership check before touching the gateway.
	if _, err := h.payments.GetPayment(c.Request().Context(), id, middleware.UserID(c)); err != nil {
		return err
	}

	payment, err := h.payments.SyncStatus(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, map[string]interface{}{
		"payment_id": payment.ID,
		"status":     payment.Status,
		"paid_at":    payment.PaidAt,
	})
}

func paymentIDParam(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid payment id")
	}
	return uint(id), nil
}
