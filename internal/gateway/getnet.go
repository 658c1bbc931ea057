package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"coursemarket/internal/config"
	"coursemarket/internal/models"
)

const GatewayGetnet = "getnet"

// getnetStatuses is the single status vocabulary table for Getnet. The
// synchronous charge path and the webhook path both resolve through it.
var getnetStatuses = map[string]models.PaymentStatus{
	"APPROVED":   models.PaymentStatusPaid,
	"CONFIRMED":  models.PaymentStatusPaid,
	"PENDING":    models.PaymentStatusPending,
	"AUTHORIZED": models.PaymentStatusPending,
	"WAITING":    models.PaymentStatusPending,
	"DENIED":     models.PaymentStatusFailed,
	"ERROR":      models.PaymentStatusFailed,
	"CANCELED":   models.PaymentStatusCancelled,
	"CANCELLED":  models.PaymentStatusCancelled,
	"REFUNDED":   models.PaymentStatusCancelled,
	"CHARGEBACK": models.PaymentStatusCancelled,
}

// GetnetClient talks to the Getnet payments API. Authentication is OAuth2
// client-credentials with a short-lived bearer token refreshed on demand.
type GetnetClient struct {
	cfg  config.GetnetConfig
	http *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewGetnetClient(cfg config.GetnetConfig, timeout time.Duration) *GetnetClient {
	return &GetnetClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

func (g *GetnetClient) Name() string { return GatewayGetnet }

func (g *GetnetClient) MapStatus(providerStatus string) models.PaymentStatus {
	if s, ok := getnetStatuses[strings.ToUpper(providerStatus)]; ok {
		return s
	}
	return models.PaymentStatusUnknown
}

// VerifyWebhook checks the X-Getnet-Signature header: an HMAC-SHA256 hex
// digest of the raw body keyed by the OAuth client secret.
func (g *GetnetClient) VerifyWebhook(signature string, body []byte) bool {
	if signature == "" || g.cfg.ClientSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.cfg.ClientSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

type getnetWebhookPayload struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
}

func (g *GetnetClient) ParseWebhook(body []byte) (*Notification, error) {
	var payload getnetWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("getnet: malformed webhook payload: %w", err)
	}
	if payload.PaymentID == "" {
		return nil, fmt.Errorf("getnet: webhook payload missing payment_id")
	}
	return &Notification{ExternalID: payload.PaymentID, ProviderStatus: payload.Status}, nil
}

type getnetTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached bearer token, fetching a fresh one via the
// client-credentials grant when the cache is empty or about to expire.
func (g *GetnetClient) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	form := url.Values{}
	form.Set("scope", "oob")
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/auth/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Gateway: GatewayGetnet, Err: err}
	}
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", &AuthError{Gateway: GatewayGetnet, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{
			Gateway: GatewayGetnet,
			Err:     fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body),
		}
	}

	var tok getnetTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", &AuthError{Gateway: GatewayGetnet, Err: fmt.Errorf("invalid token response")}
	}

	g.token = tok.AccessToken
	// Refresh a little early so an in-flight charge never carries a token
	// that expires mid-request.
	g.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - 30*time.Second)
	return g.token, nil
}

type getnetChargeResponse struct {
	PaymentID      string `json:"payment_id"`
	Status         string `json:"status"`
	AdditionalData struct {
		QRCode      string `json:"qr_code"`
		QRCodeImage string `json:"qr_code_image"`
	} `json:"additional_data"`
	Boleto struct {
		TypefulLine    string `json:"typeful_line"`
		ExpirationDate string `json:"expiration_date"`
		Links          []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"_links"`
	} `json:"boleto"`
}

func (g *GetnetClient) CreateCharge(ctx context.Context, req ChargeRequest) (*Result, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var path string
	var payload map[string]any
	switch req.Method {
	case models.PaymentMethodCreditCard:
		path = "/v1/payments/credit"
		payload = g.creditPayload(req)
	case models.PaymentMethodPix:
		path = "/v1/payments/pix"
		payload = g.pixPayload(req)
	case models.PaymentMethodBoleto:
		path = "/v1/payments/boleto"
		payload = g.boletoPayload(req)
	default:
		return nil, &RejectedError{Gateway: GatewayGetnet, Reason: fmt.Sprintf("unsupported payment method %q", req.Method)}
	}

	raw, err := g.doJSON(ctx, http.MethodPost, path, token, payload)
	if err != nil {
		return nil, err
	}
	return g.toResult(raw)
}

func (g *GetnetClient) GetChargeStatus(ctx context.Context, externalID string) (*Result, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := g.doJSON(ctx, http.MethodGet, "/v1/payments/"+externalID, token, nil)
	if err != nil {
		return nil, err
	}
	return g.toResult(raw)
}

func (g *GetnetClient) toResult(raw []byte) (*Result, error) {
	var cr getnetChargeResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, &UnavailableError{Gateway: GatewayGetnet, Err: fmt.Errorf("unparseable response: %w", err)}
	}

	res := &Result{
		ExternalID:     cr.PaymentID,
		ProviderStatus: cr.Status,
		Status:         g.MapStatus(cr.Status),
		PixQRCode:      cr.AdditionalData.QRCode,
		PixQRCodeImage: cr.AdditionalData.QRCodeImage,
		BoletoBarcode:  cr.Boleto.TypefulLine,
		Raw:            raw,
	}
	for _, link := range cr.Boleto.Links {
		if link.Rel == "boleto_pdf" {
			res.BoletoURL = link.Href
		}
	}
	if cr.Boleto.ExpirationDate != "" {
		if due, err := time.Parse("02/01/2006", cr.Boleto.ExpirationDate); err == nil {
			res.DueDate = &due
		}
	}
	return res, nil
}

// doJSON performs an authenticated call and classifies failures: 4xx is a
// terminal rejection, 5xx and transport errors are ambiguous outages.
func (g *GetnetClient) doJSON(ctx context.Context, method, path, token string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, &UnavailableError{Gateway: GatewayGetnet, Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return nil, &UnavailableError{Gateway: GatewayGetnet, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("seller_id", g.cfg.SellerID)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, &UnavailableError{Gateway: GatewayGetnet, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Gateway: GatewayGetnet, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Gateway: GatewayGetnet, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &RejectedError{
			Gateway: GatewayGetnet,
			Reason:  getnetErrorMessage(respBody),
			Details: respBody,
		}
	default:
		return nil, &UnavailableError{Gateway: GatewayGetnet, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}
}

func getnetErrorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return "payment processing error"
}

// cents converts a major-unit amount to the integer cents Getnet expects.
func cents(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

func (g *GetnetClient) orderPayload(req ChargeRequest) map[string]any {
	return map[string]any{
		"order_id":     req.OrderID,
		"sales_tax":    0,
		"product_type": "service",
	}
}

func (g *GetnetClient) customerPayload(req ChargeRequest) map[string]any {
	first, last := splitName(req.Customer.Name)
	return map[string]any{
		"customer_id":     req.Customer.ID,
		"first_name":      first,
		"last_name":       last,
		"name":            req.Customer.Name,
		"email":           req.Customer.Email,
		"document_type":   "CPF",
		"document_number": req.Customer.TaxID,
		"phone_number":    req.Customer.Phone,
	}
}

func (g *GetnetClient) creditPayload(req ChargeRequest) map[string]any {
	return map[string]any{
		"seller_id": g.cfg.SellerID,
		"amount":    cents(req.Amount),
		"currency":  "BRL",
		"order":     g.orderPayload(req),
		"customer":  g.customerPayload(req),
		"credit": map[string]any{
			"delayed":             false,
			"save_card_data":      false,
			"transaction_type":    "FULL",
			"number_installments": req.Installments,
			"card": map[string]any{
				"number_token":     req.Card.Number,
				"cardholder_name":  req.Card.HolderName,
				"security_code":    req.Card.CVV,
				"expiration_month": req.Card.ExpiryMonth,
				"expiration_year":  req.Card.ExpiryYear,
			},
		},
	}
}

func (g *GetnetClient) pixPayload(req ChargeRequest) map[string]any {
	return map[string]any{
		"seller_id": g.cfg.SellerID,
		"amount":    cents(req.Amount),
		"currency":  "BRL",
		"order":     g.orderPayload(req),
		"customer":  g.customerPayload(req),
		"pix": map[string]any{
			"additional_info": []map[string]string{
				{"key": "Produto", "value": req.Description},
			},
		},
	}
}

func (g *GetnetClient) boletoPayload(req ChargeRequest) map[string]any {
	return map[string]any{
		"seller_id": g.cfg.SellerID,
		"amount":    cents(req.Amount),
		"currency":  "BRL",
		"order":     g.orderPayload(req),
		"customer":  g.customerPayload(req),
		"boleto": map[string]any{
			"our_number":      req.OrderID,
			"document_number": req.OrderID,
			"expiration_date": req.DueDate.Format("02/01/2006"),
			"instructions":    "Pagamento referente ao curso: " + req.Description,
			"provider":        "santander",
		},
	}
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
