package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"coursemarket/internal/gateway"
)

type pixCheckoutRequest struct {
	CourseID   uint   `json:"course_id" validate:"required"`
	Gateway    string `json:"gateway" validate:"required"`
	CouponCode string `json:"coupon_code"`
}

type cardDetailsRequest struct {
	Number      string `json:"number" validate:"required"`
	HolderName  string `json:"holder_name" validate:"required"`
	ExpiryMonth string `json:"expiry_month" validate:"required,len=2"`
	ExpiryYear  string `json:"expiry_year" validate:"required,min=2,max=4"`
	CVV         string `json:"cvv" validate:"required,min=3,max=4"`
}

type creditCardCheckoutRequest struct {
	CourseID     uint                `json:"course_id" validate:"required"`
	Gateway      string              `json:"gateway" validate:"required"`
	Installments int                 `json:"installments" validate:"required,min=1"`
	CouponCode   string              `json:"coupon_code"`
	Card         *cardDetailsRequest `json:"card" validate:"required"`
}

type boletoCheckoutRequest struct {
	CourseID   uint   `json:"course_id" validate:"required"`
	Gateway    string `json:"gateway" validate:"required"`
	CouponCode string `json:"coupon_code"`
}

type calculateInstallmentsRequest struct {
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	Installments int     `json:"installments" validate:"required,min=1"`
}

type validateCouponRequest struct {
	Code   string  `json:"code" validate:"required"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

func (r *cardDetailsRequest) toGateway() *gateway.CardDetails {
	if r == nil {
		return nil
	}
	return &gateway.CardDetails{
		Number:      r.Number,
		HolderName:  r.HolderName,
		ExpiryMonth: r.ExpiryMonth,
		ExpiryYear:  r.ExpiryYear,
		CVV:         r.CVV,
	}
}

// bindAndValidate decodes the JSON body and runs the validator, turning
// both failure modes into a 422 the error handler passes through.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return nil
}

func respond(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
