package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/pkg/enums"
	"github.com/threadline/settlement-backend/pkg/types"
)

// Order is the settlement aggregate. Price columns are frozen at creation.
type Order struct {
	ID                    uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID               uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID              uuid.UUID            `gorm:"column:seller_id;type:uuid;not null;index"`
	ListingID             uuid.UUID            `gorm:"column:listing_id;type:uuid;not null"`
	Quantity              int                  `gorm:"column:quantity;not null"`
	CustomizationChoices  map[string]string    `gorm:"column:customization_choices;type:jsonb;serializer:json"`
	Status                enums.OrderStatus    `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentMethod         enums.PaymentMethod  `gorm:"column:payment_method;type:text;not null"`
	PaymentStatus         enums.PaymentStatus  `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	DeliveryMethod        enums.DeliveryMethod `gorm:"column:delivery_method;type:text;not null"`
	DeliveryAddress       *types.Address       `gorm:"column:delivery_address;type:jsonb"`
	Currency              string               `gorm:"column:currency;type:text;not null;default:'USD'"`
	BasePriceCents        int64                `gorm:"column:base_price_cents;not null"`
	TotalBasePriceCents   int64                `gorm:"column:total_base_price_cents;not null"`
	CustomizationFeeCents int64                `gorm:"column:customization_fee_cents;not null;default:0"`
	MaterialCostCents     int64                `gorm:"column:material_cost_cents;not null;default:0"`
	DeliveryFeeCents      int64                `gorm:"column:delivery_fee_cents;not null;default:0"`
	HandlingFeeCents      int64                `gorm:"column:handling_fee_cents;not null;default:0"`
	BulkDiscountCents     int64                `gorm:"column:bulk_discount_cents;not null;default:0"`
	PlatformFeeCents      int64                `gorm:"column:platform_fee_cents;not null;default:0"`
	SubtotalCents         int64                `gorm:"column:subtotal_cents;not null"`
	TaxCents              int64                `gorm:"column:tax_cents;not null;default:0"`
	TotalCents            int64                `gorm:"column:total_cents;not null"`
	TaxRate               string               `gorm:"column:tax_rate;type:text;not null"`
	TrackingCarrier       *string              `gorm:"column:tracking_carrier"`
	TrackingNumber        *string              `gorm:"column:tracking_number"`
	TrackingURL           *string              `gorm:"column:tracking_url"`
	Rating                *int                 `gorm:"column:rating"`
	RatingComment         *string              `gorm:"column:rating_comment"`
	RatedAt               *time.Time           `gorm:"column:rated_at"`
	ProductionStartedAt   *time.Time           `gorm:"column:production_started_at"`
	StatusHistory         []OrderStatusEvent   `gorm:"foreignKey:OrderID"`
	Transactions          []PaymentTransaction `gorm:"foreignKey:OrderID"`
	CreatedAt             time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// OrderStatusEvent is one append-only status history entry.
type OrderStatusEvent struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status;type:text"`
	Status     enums.OrderStatus  `gorm:"column:status;type:text;not null"`
	Note       *string            `gorm:"column:note"`
	ActorID    uuid.UUID          `gorm:"column:actor_id;type:uuid;not null"`
	ActorRole  enums.Role         `gorm:"column:actor_role;type:text;not null"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (e *OrderStatusEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
