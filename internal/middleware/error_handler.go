package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"coursemarket/internal/gateway"
	"coursemarket/internal/pricing"
	"coursemarket/internal/services"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HTTPErrorHandler translates the application's error taxonomy into the
// JSON error envelope. Handlers and services return typed errors; only
// genuinely unexpected failures fall through to a bare 500.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	resp := errorResponse{Message: "internal server error"}

	var httpErr *echo.HTTPError
	var rejErr *gateway.RejectedError
	var authErr *gateway.AuthError
	var unavailErr *gateway.UnavailableError

	switch {
	case errors.As(err, &httpErr):
		status = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			resp.Message = msg
		} else {
			resp.Message = http.StatusText(status)
		}
	case errors.Is(err, services.ErrAlreadyEnrolled):
		status = http.StatusBadRequest
		resp.Message = err.Error()
		resp.Code = "ALREADY_ENROLLED"
	case errors.Is(err, services.ErrCouponNotUsable):
		status = http.StatusUnprocessableEntity
		resp.Message = err.Error()
		resp.Code = "COUPON_NOT_USABLE"
	case errors.Is(err, pricing.ErrInvalidInstallmentCount):
		status = http.StatusUnprocessableEntity
		resp.Message = err.Error()
		resp.Code = "INVALID_INSTALLMENT_COUNT"
	case errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrCourseNotFound),
		errors.Is(err, services.ErrUserNotFound):
		status = http.StatusNotFound
		resp.Message = err.Error()
		resp.Code = "NOT_FOUND"
	case errors.Is(err, services.ErrInvalidSignature):
		status = http.StatusUnauthorized
		resp.Message = err.Error()
		resp.Code = "INVALID_SIGNATURE"
	case errors.Is(err, services.ErrMalformedWebhook):
		status = http.StatusBadRequest
		resp.Message = err.Error()
		resp.Code = "MALFORMED_PAYLOAD"
	case errors.Is(err, services.ErrNotReconcilable):
		status = http.StatusUnprocessableEntity
		resp.Message = err.Error()
		resp.Code = "NOT_RECONCILABLE"
	case errors.As(err, &rejErr):
		status = http.StatusUnprocessableEntity
		resp.Message = rejErr.Reason
		resp.Code = "GATEWAY_REJECTED"
	case errors.As(err, &authErr):
		status = http.StatusUnprocessableEntity
		resp.Message = "payment gateway refused our credentials"
		resp.Code = "GATEWAY_AUTH_ERROR"
	case errors.As(err, &unavailErr):
		status = http.StatusBadGateway
		resp.Message = "payment gateway unavailable, the attempt was recorded as failed"
		resp.Code = "GATEWAY_UNAVAILABLE"
	case errors.Is(err, gateway.ErrUnknownGateway):
		// Configuration problem, not a client mistake.
		status = http.StatusInternalServerError
		resp.Message = err.Error()
		resp.Code = "UNKNOWN_GATEWAY"
	}

	c.Logger().Error(err)

	if jsonErr := c.JSON(status, resp); jsonErr != nil {
		c.Logger().Error(jsonErr)
	}
}
