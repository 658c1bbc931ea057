package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coursemarket/internal/config"
	"coursemarket/internal/models"
)

const GatewayAsaas = "asaas"

// asaasStatuses is the single status vocabulary table for Asaas, used by
// both the synchronous charge path and the webhook path.
var asaasStatuses = map[string]models.PaymentStatus{
	"RECEIVED":                     models.PaymentStatusPaid,
	"CONFIRMED":                    models.PaymentStatusPaid,
	"RECEIVED_IN_CASH":             models.PaymentStatusPaid,
	"DUNNING_RECEIVED":             models.PaymentStatusPaid,
	"PENDING":                      models.PaymentStatusPending,
	"AWAITING_RISK_ANALYSIS":       models.PaymentStatusPending,
	"OVERDUE":                      models.PaymentStatusFailed,
	"REFUNDED":                     models.PaymentStatusCancelled,
	"REFUND_REQUESTED":             models.PaymentStatusCancelled,
	"REFUND_IN_PROGRESS":           models.PaymentStatusCancelled,
	"CHARGEBACK_REQUESTED":         models.PaymentStatusCancelled,
	"CHARGEBACK_DISPUTE":           models.PaymentStatusCancelled,
	"AWAITING_CHARGEBACK_REVERSAL": models.PaymentStatusCancelled,
}

// AsaasClient talks to the Asaas billing API. Authentication is a static
// access_token header; charges require an Asaas customer record, which
// is looked up by CPF/CNPJ and created on demand.
type AsaasClient struct {
	cfg  config.AsaasConfig
	http *http.Client
}

func NewAsaasClient(cfg config.AsaasConfig, timeout time.Duration) *AsaasClient {
	return &AsaasClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

func (a *AsaasClient) Name() string { return GatewayAsaas }

func (a *AsaasClient) MapStatus(providerStatus string) models.PaymentStatus {
	if s, ok := asaasStatuses[strings.ToUpper(providerStatus)]; ok {
		return s
	}
	return models.PaymentStatusUnknown
}

// VerifyWebhook checks the asaas-access-token header against the
// configured webhook token. Asaas has no payload signature; with no
// token configured every delivery is accepted, matching the provider's
// default behavior.
func (a *AsaasClient) VerifyWebhook(signature string, body []byte) bool {
	if a.cfg.WebhookToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(a.cfg.WebhookToken)) == 1
}

type asaasWebhookPayload struct {
	Event   string `json:"event"`
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

func (a *AsaasClient) ParseWebhook(body []byte) (*Notification, error) {
	var payload asaasWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("asaas: malformed webhook payload: %w", err)
	}
	if payload.Payment.ID == "" {
		return nil, fmt.Errorf("asaas: webhook payload missing payment id")
	}
	return &Notification{
		ExternalID:     payload.Payment.ID,
		ProviderStatus: payload.Payment.Status,
	}, nil
}

type asaasChargeResponse struct {
	ID                  string `json:"id"`
	Status              string `json:"status"`
	DueDate             string `json:"dueDate"`
	BankSlipURL         string `json:"bankSlipUrl"`
	IdentificationField string `json:"identificationField"`
}

type asaasPixQRCode struct {
	EncodedImage string `json:"encodedImage"`
	Payload      string `json:"payload"`
}

func (a *AsaasClient) CreateCharge(ctx context.Context, req ChargeRequest) (*Result, error) {
	customerID, err := a.ensureCustomer(ctx, req.Customer)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"customer":          customerID,
		"value":             req.Amount,
		"description":       req.Description,
		"externalReference": req.OrderID,
	}

	switch req.Method {
	case models.PaymentMethodPix:
		payload["billingType"] = "PIX"
		payload["dueDate"] = time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	case models.PaymentMethodBoleto:
		payload["billingType"] = "BOLETO"
		payload["dueDate"] = req.DueDate.Format("2006-01-02")
	case models.PaymentMethodCreditCard:
		payload["billingType"] = "CREDIT_CARD"
		payload["dueDate"] = time.Now().Format("2006-01-02")
		if req.Installments > 1 {
			payload["installmentCount"] = req.Installments
		}
		payload["creditCard"] = map[string]string{
			"holderName":  req.Card.HolderName,
			"number":      req.Card.Number,
			"expiryMonth": req.Card.ExpiryMonth,
			"expiryYear":  req.Card.ExpiryYear,
			"ccv":         req.Card.CVV,
		}
		payload["creditCardHolderInfo"] = map[string]string{
			"name":          req.Customer.Name,
			"email":         req.Customer.Email,
			"cpfCnpj":       req.Customer.TaxID,
			"postalCode":    "00000-000",
			"addressNumber": "S/N",
			"phone":         req.Customer.Phone,
		}
	default:
		return nil, &RejectedError{Gateway: GatewayAsaas, Reason: fmt.Sprintf("unsupported payment method %q", req.Method)}
	}

	raw, err := a.doJSON(ctx, http.MethodPost, "/payments", payload)
	if err != nil {
		return nil, err
	}

	res, err := a.toResult(raw)
	if err != nil {
		return nil, err
	}

	// PIX charges need a follow-up call for the QR code. The charge
	// already exists remotely at this point, so a follow-up failure
	// returns the partial result alongside the error: the caller must
	// still persist the external id or the charge becomes unmatchable.
	if req.Method == models.PaymentMethodPix {
		qrRaw, err := a.doJSON(ctx, http.MethodGet, "/payments/"+res.ExternalID+"/pixQrCode", nil)
		if err != nil {
			return res, err
		}
		var qr asaasPixQRCode
		if err := json.Unmarshal(qrRaw, &qr); err != nil {
			return res, &UnavailableError{Gateway: GatewayAsaas, Err: fmt.Errorf("unparseable pix qr response: %w", err)}
		}
		res.PixQRCode = qr.Payload
		res.PixQRCodeImage = qr.EncodedImage
	}
	return res, nil
}

func (a *AsaasClient) GetChargeStatus(ctx context.Context, externalID string) (*Result, error) {
	raw, err := a.doJSON(ctx, http.MethodGet, "/payments/"+externalID, nil)
	if err != nil {
		return nil, err
	}
	return a.toResult(raw)
}

func (a *AsaasClient) toResult(raw []byte) (*Result, error) {
	var cr asaasChargeResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, &UnavailableError{Gateway: GatewayAsaas, Err: fmt.Errorf("unparseable response: %w", err)}
	}

	res := &Result{
		ExternalID:     cr.ID,
		ProviderStatus: cr.Status,
		Status:         a.MapStatus(cr.Status),
		BoletoURL:      cr.BankSlipURL,
		BoletoBarcode:  cr.IdentificationField,
		Raw:            raw,
	}
	if cr.DueDate != "" {
		if due, err := time.Parse("2006-01-02", cr.DueDate); err == nil {
			res.DueDate = &due
		}
	}
	return res, nil
}

type asaasCustomer struct {
	ID string `json:"id"`
}

// ensureCustomer returns the Asaas customer id for the buyer, reusing an
// existing record matched by CPF/CNPJ.
func (a *AsaasClient) ensureCustomer(ctx context.Context, c Customer) (string, error) {
	if c.TaxID != "" {
		raw, err := a.doJSON(ctx, http.MethodGet, "/customers?cpfCnpj="+url.QueryEscape(c.TaxID), nil)
		if err == nil {
			var list struct {
				Data []asaasCustomer `json:"data"`
			}
			if jsonErr := json.Unmarshal(raw, &list); jsonErr == nil && len(list.Data) > 0 {
				return list.Data[0].ID, nil
			}
		}
	}

	raw, err := a.doJSON(ctx, http.MethodPost, "/customers", map[string]string{
		"name":              c.Name,
		"email":             c.Email,
		"cpfCnpj":           c.TaxID,
		"phone":             c.Phone,
		"mobilePhone":       c.Phone,
		"externalReference": "user_" + c.ID,
	})
	if err != nil {
		return "", err
	}

	var created asaasCustomer
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == "" {
		return "", &UnavailableError{Gateway: GatewayAsaas, Err: fmt.Errorf("unparseable customer response")}
	}
	return created.ID, nil
}

func (a *AsaasClient) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if a.cfg.APIKey == "" {
		return nil, &AuthError{Gateway: GatewayAsaas, Err: fmt.Errorf("api key not configured")}
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, &UnavailableError{Gateway: GatewayAsaas, Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return nil, &UnavailableError{Gateway: GatewayAsaas, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access_token", a.cfg.APIKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &UnavailableError{Gateway: GatewayAsaas, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Gateway: GatewayAsaas, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Gateway: GatewayAsaas, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &RejectedError{
			Gateway: GatewayAsaas,
			Reason:  asaasErrorMessage(respBody),
			Details: respBody,
		}
	default:
		return nil, &UnavailableError{Gateway: GatewayAsaas, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}
}

func asaasErrorMessage(body []byte) string {
	var e struct {
		Errors []struct {
			Description string `json:"description"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &e); err == nil && len(e.Errors) > 0 && e.Errors[0].Description != "" {
		return e.Errors[0].Description
	}
	return "payment processing error"
}
