// Package gateway hides the wire formats of the external payment
// providers behind one provider-agnostic contract. Each adapter owns its
// provider's authentication, request shapes and status vocabulary; the
// rest of the system only ever sees normalized results.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"coursemarket/internal/models"
)

// Customer is the buyer identity forwarded to the provider.
type Customer struct {
	ID    string
	Name  string
	Email string
	TaxID string
	Phone string
}

// CardDetails carries credit card data for a charge. Card numbers are
// forwarded to the provider and never persisted locally.
type CardDetails struct {
	Number      string
	HolderName  string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string
}

// ChargeRequest is one request to collect money. Amount is in major
// currency units; adapters convert to the provider's unit themselves.
// OrderID is the caller-generated idempotency key: providers must accept
// the same order id twice without duplicating the charge.
type ChargeRequest struct {
	OrderID      string
	Amount       float64
	Method       models.PaymentMethod
	Description  string
	Customer     Customer
	Card         *CardDetails
	Installments int
	DueDate      time.Time
}

// Result is a provider response normalized into the internal status
// vocabulary. Raw retains the provider payload verbatim for audit.
type Result struct {
	ExternalID     string
	ProviderStatus string
	Status         models.PaymentStatus

	PixQRCode      string
	PixQRCodeImage string
	BoletoURL      string
	BoletoBarcode  string
	DueDate        *time.Time

	Raw json.RawMessage
}

// Notification is the provider-agnostic view of a webhook payload.
type Notification struct {
	ExternalID     string
	ProviderStatus string
}

// Client is the contract every provider adapter implements.
type Client interface {
	// Name is the registry key ("getnet", "asaas").
	Name() string

	// CreateCharge creates a charge for the request's method. Errors are
	// always from the package taxonomy: *AuthError, *RejectedError or
	// *UnavailableError. When the charge was created remotely but a
	// follow-up call failed, the adapter returns a partial Result
	// together with the error; callers must persist its ExternalID so
	// the charge stays reachable by webhook and reconciliation.
	CreateCharge(ctx context.Context, req ChargeRequest) (*Result, error)

	// GetChargeStatus polls the provider for the charge's current state.
	// Used by manual reconciliation, not by the webhook path.
	GetChargeStatus(ctx context.Context, externalID string) (*Result, error)

	// MapStatus translates a provider status string into the internal
	// enum. Both the synchronous path and the webhook path go through
	// this single table, so they can never disagree. Unmapped statuses
	// yield models.PaymentStatusUnknown.
	MapStatus(providerStatus string) models.PaymentStatus

	// VerifyWebhook checks a notification's authenticity against the
	// provider's scheme.
	VerifyWebhook(signature string, body []byte) bool

	// ParseWebhook extracts the external charge id and provider status
	// from a raw notification body.
	ParseWebhook(body []byte) (*Notification, error)
}
