package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/pkg/enums"
)

// GatewayStatus is the provider-neutral state of a submitted payment.
type GatewayStatus string

const (
	GatewayPending   GatewayStatus = "pending"
	GatewaySucceeded GatewayStatus = "succeeded"
	GatewayFailed    GatewayStatus = "failed"
)

// Charge is what a gateway needs to collect one transaction.
type Charge struct {
	TransactionID  uuid.UUID
	OrderID        uuid.UUID
	AmountCents    int64
	Currency       string
	Intent         Intent
	IdempotencyKey string
}

// GatewayResult is the provider's immediate answer to CreatePayment.
type GatewayResult struct {
	Reference    string
	Status       GatewayStatus
	ProviderCode string
}

// Gateway submits and verifies payments with one provider.
type Gateway interface {
	Provider() enums.PaymentProvider
	CreatePayment(ctx context.Context, charge Charge) (GatewayResult, error)
	VerifyPayment(ctx context.Context, reference string) (GatewayStatus, error)
}

// RefundRequest returns money for a captured gateway payment.
type RefundRequest struct {
	Reference      string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Refunder is implemented by gateways that move refunds through the provider.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (string, error)
}

// Registry routes each payment method to its gateway.
type Registry map[enums.PaymentMethod]Gateway

// NewRegistry builds a registry and rejects unknown methods.
func NewRegistry(routes map[enums.PaymentMethod]Gateway) (Registry, error) {
	registry := make(Registry, len(routes))
	for method, gw := range routes {
		if !method.IsValid() {
			return nil, fmt.Errorf("unknown payment method %q", method)
		}
		if gw == nil {
			return nil, fmt.Errorf("gateway for %s is nil", method)
		}
		registry[method] = gw
	}
	return registry, nil
}

// For returns the gateway for method.
func (r Registry) For(method enums.PaymentMethod) (Gateway, bool) {
	gw, ok := r[method]
	return gw, ok
}

// ByProvider returns the first gateway registered for provider.
func (r Registry) ByProvider(provider enums.PaymentProvider) (Gateway, bool) {
	for _, gw := range r {
		if gw.Provider() == provider {
			return gw, true
		}
	}
	return nil, false
}
