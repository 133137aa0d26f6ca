package payments

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/square"
)

type squareAPI interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	RefundPayment(ctx context.Context, params square.RefundCreateParams) (*sq.PaymentRefund, error)
}

// SquareGateway captures card payments through Square with autocomplete on.
type SquareGateway struct {
	client squareAPI
}

// NewSquareGateway wraps a configured Square client.
func NewSquareGateway(client squareAPI) (*SquareGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	return &SquareGateway{client: client}, nil
}

func (g *SquareGateway) Provider() enums.PaymentProvider {
	return enums.ProviderSquare
}

func (g *SquareGateway) CreatePayment(ctx context.Context, charge Charge) (GatewayResult, error) {
	card, ok := charge.Intent.(CardIntent)
	if !ok {
		return GatewayResult{}, pkgerrors.New(pkgerrors.CodeValidation, "card payment details are required")
	}
	payment, err := g.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:       charge.AmountCents,
		Currency:          charge.Currency,
		CustomerID:        card.CustomerID,
		SourceID:          card.SourceID,
		VerificationToken: card.VerificationToken,
		IdempotencyKey:    charge.IdempotencyKey,
		ReferenceID:       charge.OrderID.String(),
		Note:              "order " + charge.OrderID.String(),
	})
	if err != nil {
		return GatewayResult{}, err
	}
	status := square.PaymentStatus(payment)
	return GatewayResult{
		Reference:    square.PaymentID(payment),
		Status:       mapSquareStatus(status),
		ProviderCode: status,
	}, nil
}

func (g *SquareGateway) VerifyPayment(ctx context.Context, reference string) (GatewayStatus, error) {
	payment, err := g.client.GetPayment(ctx, reference)
	if err != nil {
		return GatewayPending, err
	}
	return mapSquareStatus(square.PaymentStatus(payment)), nil
}

func (g *SquareGateway) Refund(ctx context.Context, req RefundRequest) (string, error) {
	refund, err := g.client.RefundPayment(ctx, square.RefundCreateParams{
		PaymentID:      req.Reference,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return "", err
	}
	return square.RefundID(refund), nil
}

// mapSquareStatus folds Square payment states into gateway states.
// SquareStatus maps a Square payment status onto GatewayStatus.
func SquareStatus(status string) GatewayStatus {
	return mapSquareStatus(status)
}

func mapSquareStatus(status string) GatewayStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return GatewaySucceeded
	case "FAILED", "CANCELED":
		return GatewayFailed
	default:
		return GatewayPending
	}
}
