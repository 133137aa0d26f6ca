package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/pkg/enums"
)

// PaymentTransaction is one attempt to capture funds for an order.
type PaymentTransaction struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	Method        enums.PaymentMethod     `gorm:"column:method;type:text;not null"`
	Provider      enums.PaymentProvider   `gorm:"column:provider;type:text;not null"`
	Status        enums.TransactionStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	AmountCents   int64                   `gorm:"column:amount_cents;not null"`
	RefundedCents int64                   `gorm:"column:refunded_cents;not null;default:0"`
	Currency      string                  `gorm:"column:currency;type:text;not null;default:'USD'"`
	Reference     *string                 `gorm:"column:reference;index"`
	ProviderCode  *string                 `gorm:"column:provider_code"`
	RiskScore     int                     `gorm:"column:risk_score;not null;default:0"`
	RiskAction    enums.RiskAction        `gorm:"column:risk_action;type:text;not null;default:'allow'"`
	Flagged       bool                    `gorm:"column:flagged;not null;default:false"`
	Notes         *string                 `gorm:"column:notes"`
	SettledBy     *uuid.UUID              `gorm:"column:settled_by;type:uuid"`
	SettledAt     *time.Time              `gorm:"column:settled_at"`
	FailedAt      *time.Time              `gorm:"column:failed_at"`
	Refunds       []Refund                `gorm:"foreignKey:TransactionID"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *PaymentTransaction) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}

// RemainingCents is the amount still refundable.
func (t PaymentTransaction) RemainingCents() int64 {
	return t.AmountCents - t.RefundedCents
}

// Refund records money returned against a transaction.
type Refund struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID   uuid.UUID  `gorm:"column:transaction_id;type:uuid;not null;index"`
	OrderID         uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	AmountCents     int64      `gorm:"column:amount_cents;not null"`
	Reason          string     `gorm:"column:reason;not null"`
	ActorID         *uuid.UUID `gorm:"column:actor_id;type:uuid"`
	GatewayRefundID *string    `gorm:"column:gateway_refund_id;uniqueIndex:ux_refunds_gateway_refund_id"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (r *Refund) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
