package payments

import (
	"context"

	"github.com/threadline/settlement-backend/pkg/enums"
)

const manualReferencePrefix = "manual-"

// ManualGateway backs bank transfer and cash. Funds are confirmed by the seller
// or an admin through MarkManuallyPaid, so payments stay pending until then.
type ManualGateway struct{}

func NewManualGateway() *ManualGateway {
	return &ManualGateway{}
}

func (ManualGateway) Provider() enums.PaymentProvider {
	return enums.ProviderManual
}

func (ManualGateway) CreatePayment(_ context.Context, charge Charge) (GatewayResult, error) {
	return GatewayResult{
		Reference: manualReferencePrefix + charge.TransactionID.String(),
		Status:    GatewayPending,
	}, nil
}

func (ManualGateway) VerifyPayment(context.Context, string) (GatewayStatus, error) {
	return GatewayPending, nil
}
