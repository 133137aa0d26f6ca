package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once an order and its reservation commit.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID            `json:"order_id"`
	BuyerID        uuid.UUID            `json:"buyer_id"`
	SellerID       uuid.UUID            `json:"seller_id"`
	ListingID      uuid.UUID            `json:"listing_id"`
	Quantity       int                  `json:"quantity"`
	TotalCents     int64                `json:"total_cents"`
	Currency       string               `json:"currency"`
	PaymentMethod  enums.PaymentMethod  `json:"payment_method"`
	DeliveryMethod enums.DeliveryMethod `json:"delivery_method"`
}

// OrderStateChangedEvent is emitted for every accepted status transition.
type OrderStateChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	FromStatus enums.OrderStatus `json:"from_status"`
	ToStatus   enums.OrderStatus `json:"to_status"`
	Note       string            `json:"note,omitempty"`
	ActorRole  enums.Role        `json:"actor_role"`
}

// ReservationReleasedEvent reports stock returned by a canceled order.
type ReservationReleasedEvent struct {
	OrderID uuid.UUID      `json:"order_id"`
	Lines   []ReleasedLine `json:"lines"`
}

// ReleasedLine is one item restocked by a release.
type ReleasedLine struct {
	InventoryItemID uuid.UUID `json:"inventory_item_id"`
	Quantity        int       `json:"quantity"`
}

// PaymentStatusEvent covers initiation, settlement and failure of a transaction.
type PaymentStatusEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	OrderID       uuid.UUID               `json:"order_id"`
	Provider      enums.PaymentProvider   `json:"provider"`
	Method        enums.PaymentMethod     `json:"method"`
	Status        enums.TransactionStatus `json:"status"`
	AmountCents   int64                   `json:"amount_cents"`
	Reference     string                  `json:"reference,omitempty"`
	Flagged       bool                    `json:"flagged,omitempty"`
	OccurredAt    time.Time               `json:"occurred_at"`
}

// PaymentRefundedEvent is emitted after a refund is recorded.
type PaymentRefundedEvent struct {
	TransactionID uuid.UUID           `json:"transaction_id"`
	OrderID       uuid.UUID           `json:"order_id"`
	RefundID      uuid.UUID           `json:"refund_id"`
	AmountCents   int64               `json:"amount_cents"`
	RefundedCents int64               `json:"refunded_cents"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Reason        string              `json:"reason"`
}

// RiskBlockedEvent is the audit signal for a blocked payment attempt. It never
// carries the score.
type RiskBlockedEvent struct {
	AssessmentID uuid.UUID           `json:"assessment_id"`
	OrderID      uuid.UUID           `json:"order_id"`
	BuyerID      uuid.UUID           `json:"buyer_id"`
	Method       enums.PaymentMethod `json:"method"`
}

// InventoryThresholdCrossedEvent is emitted on low-stock or out-of-stock edges.
type InventoryThresholdCrossedEvent struct {
	InventoryItemID uuid.UUID              `json:"inventory_item_id"`
	SellerID        uuid.UUID              `json:"seller_id"`
	Kind            enums.NotificationType `json:"kind"`
	StockBefore     int                    `json:"stock_before"`
	StockAfter      int                    `json:"stock_after"`
	ReorderPoint    int                    `json:"reorder_point"`
	ReorderQuantity int                    `json:"reorder_quantity"`
}

// NotificationRequestedEvent is the fire-and-forget request handed to the
// notification service.
type NotificationRequestedEvent struct {
	UserID    uuid.UUID              `json:"userId"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	RelatedID uuid.UUID              `json:"relatedId"`
}
