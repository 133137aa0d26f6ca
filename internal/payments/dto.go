package payments

import (
	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/internal/risk"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
)

// InitiateInput starts (or resumes) a payment for an order. Assessment, when
// set, is a decision already made for this attempt and skips re-scoring.
type InitiateInput struct {
	OrderID    uuid.UUID
	Method     enums.PaymentMethod
	Payload    Intent
	Actor      authz.Actor
	Request    risk.RequestContext
	Assessment *risk.Assessment
}

// TransactionRef is the buyer-facing view of a payment attempt.
type TransactionRef struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	OrderID       uuid.UUID               `json:"order_id"`
	Method        enums.PaymentMethod     `json:"method"`
	Provider      enums.PaymentProvider   `json:"provider"`
	Status        enums.TransactionStatus `json:"status"`
	AmountCents   int64                   `json:"amount_cents"`
	Currency      string                  `json:"currency"`
	Reference     string                  `json:"reference,omitempty"`
	Existing      bool                    `json:"existing"`
	Flagged       bool                    `json:"-"`
}

func refFrom(txn models.PaymentTransaction, existing bool) TransactionRef {
	ref := TransactionRef{
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		Method:        txn.Method,
		Provider:      txn.Provider,
		Status:        txn.Status,
		AmountCents:   txn.AmountCents,
		Currency:      txn.Currency,
		Existing:      existing,
		Flagged:       txn.Flagged,
	}
	if txn.Reference != nil {
		ref.Reference = *txn.Reference
	}
	return ref
}

// RefundResult reports a recorded refund and the resulting payment state.
type RefundResult struct {
	RefundID          uuid.UUID               `json:"refund_id"`
	TransactionID     uuid.UUID               `json:"transaction_id"`
	OrderID           uuid.UUID               `json:"order_id"`
	AmountCents       int64                   `json:"amount_cents"`
	RefundedCents     int64                   `json:"refunded_cents"`
	RemainingCents    int64                   `json:"remaining_cents"`
	TransactionStatus enums.TransactionStatus `json:"transaction_status"`
	PaymentStatus     enums.PaymentStatus     `json:"payment_status"`
	Replayed          bool                    `json:"replayed"`
}

// GatewayEventKind distinguishes webhook notifications.
type GatewayEventKind string

const (
	GatewayEventPayment GatewayEventKind = "payment"
	GatewayEventRefund  GatewayEventKind = "refund"
)

// GatewayEvent is a provider notification already verified by the webhook layer.
type GatewayEvent struct {
	Kind              GatewayEventKind
	Provider          enums.PaymentProvider
	PaymentReference  string
	Status            GatewayStatus
	RefundID          string
	RefundAmountCents int64
	RefundCompleted   bool
	Reason            string
}
