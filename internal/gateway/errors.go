package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownGateway is returned by the registry for unregistered names.
var ErrUnknownGateway = errors.New("unknown payment gateway")

// AuthError means the provider refused our credentials (token fetch or
// key rejection). Fatal for the current attempt, never retried here.
type AuthError struct {
	Gateway string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Gateway, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RejectedError is a terminal 4xx from the provider: the charge was
// refused and retrying the same request is pointless.
type RejectedError struct {
	Gateway string
	Reason  string
	Details json.RawMessage
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: charge rejected: %s", e.Gateway, e.Reason)
}

// UnavailableError covers transport failures, timeouts and provider 5xx.
// The outcome is ambiguous: the charge may or may not exist remotely, so
// callers must keep the order id for later reconciliation.
type UnavailableError struct {
	Gateway string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: gateway unavailable: %v", e.Gateway, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
