package squarewebhook

import (
	"context"
	"strings"

	"github.com/threadline/settlement-backend/internal/payments"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
)

const (
	eventPaymentCreated = "payment.created"
	eventPaymentUpdated = "payment.updated"
	eventRefundCreated  = "refund.created"
	eventRefundUpdated  = "refund.updated"

	refundCompleted = "COMPLETED"
)

type gatewayEventApplier interface {
	ApplyGatewayEvent(ctx context.Context, event payments.GatewayEvent) error
}

// Event is the envelope Square posts to the notification URL.
type Event struct {
	MerchantID string    `json:"merchant_id"`
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	CreatedAt  string    `json:"created_at"`
	Data       EventData `json:"data"`
}

type EventData struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Object EventObject `json:"object"`
}

type EventObject struct {
	Payment *Payment `json:"payment,omitempty"`
	Refund  *Refund  `json:"refund,omitempty"`
}

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Payment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountMoney *Money `json:"amount_money,omitempty"`
}

type Refund struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	PaymentID   string `json:"payment_id"`
	Reason      string `json:"reason,omitempty"`
	AmountMoney *Money `json:"amount_money,omitempty"`
}

// Service translates Square notifications into ledger events.
type Service struct {
	ledger gatewayEventApplier
	logg   *logger.Logger
}

func NewService(ledger gatewayEventApplier, logg *logger.Logger) (*Service, error) {
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment ledger required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{ledger: ledger, logg: logg}, nil
}

// HandleEvent applies payment and refund updates. Other event types, and
// payments this platform never created, are acknowledged without effect.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"square_event_id":   event.EventID,
		"square_event_type": event.Type,
	})

	gatewayEvent, ok, err := toGatewayEvent(event)
	if err != nil {
		return err
	}
	if !ok {
		s.logg.Info(ctx, "square.webhook_ignored")
		return nil
	}
	if err := s.ledger.ApplyGatewayEvent(ctx, gatewayEvent); err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "payment_reference", gatewayEvent.PaymentReference), "square.webhook_unmatched")
			return nil
		}
		return err
	}
	s.logg.Info(ctx, "square.webhook_applied")
	return nil
}

func toGatewayEvent(event *Event) (payments.GatewayEvent, bool, error) {
	switch strings.ToLower(event.Type) {
	case eventPaymentCreated, eventPaymentUpdated:
		payment := event.Data.Object.Payment
		if payment == nil || payment.ID == "" {
			return payments.GatewayEvent{}, false, pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
		}
		status := payments.SquareStatus(payment.Status)
		if status == payments.GatewayPending {
			return payments.GatewayEvent{}, false, nil
		}
		return payments.GatewayEvent{
			Kind:             payments.GatewayEventPayment,
			Provider:         enums.ProviderSquare,
			PaymentReference: payment.ID,
			Status:           status,
		}, true, nil
	case eventRefundCreated, eventRefundUpdated:
		refund := event.Data.Object.Refund
		if refund == nil || refund.ID == "" || refund.PaymentID == "" {
			return payments.GatewayEvent{}, false, pkgerrors.New(pkgerrors.CodeValidation, "refund payload missing")
		}
		if !strings.EqualFold(refund.Status, refundCompleted) {
			return payments.GatewayEvent{}, false, nil
		}
		var amount int64
		if refund.AmountMoney != nil {
			amount = refund.AmountMoney.Amount
		}
		return payments.GatewayEvent{
			Kind:              payments.GatewayEventRefund,
			Provider:          enums.ProviderSquare,
			PaymentReference:  refund.PaymentID,
			RefundID:          refund.ID,
			RefundAmountCents: amount,
			RefundCompleted:   true,
			Reason:            refund.Reason,
		}, true, nil
	default:
		return payments.GatewayEvent{}, false, nil
	}
}
