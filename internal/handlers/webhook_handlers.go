package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"coursemarket/internal/gateway"
	"coursemarket/internal/middleware"
	"coursemarket/internal/services"
)

type WebhookHandler struct {
	webhooks *services.WebhookService
	payments *services.PaymentService
}

func NewWebhookHandler(webhooks *services.WebhookService, payments *services.PaymentService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, payments: payments}
}

// HandleWebhook handles POST /webhook/:gateway. The raw body is read
// before any parsing because signature schemes are computed over the
// exact bytes on the wire.
func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	gatewayName := c.Param("gateway")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	if err := h.webhooks.Handle(c.Request().Context(), gatewayName, webhookSignature(c, gatewayName), body); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}

// ListWebhookEvents handles GET /payment/:id/events: the stored
// notification audit trail, scoped to the payment's owner.
func (h *WebhookHandler) ListWebhookEvents(c echo.Context) error {
	id, err := paymentIDParam(c)
	if err != nil {
		return err
	}
	payment, err := h.payments.GetPayment(c.Request().Context(), id, middleware.UserID(c))
	if err != nil {
		return err
	}

	events, err := h.webhooks.RecentEvents(c.Request().Context(), payment.ID, 50)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, events)
}

// webhookSignature pulls the provider-specific credential header. Each
// provider names its own, so the lookup is per gateway.
func webhookSignature(c echo.Context, gatewayName string) string {
	switch gatewayName {
	case gateway.GatewayGetnet:
		return c.Request().Header.Get("X-Getnet-Signature")
	case gateway.GatewayAsaas:
		return c.Request().Header.Get("asaas-access-token")
	default:
		return ""
	}
}
