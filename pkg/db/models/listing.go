package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Listing is a seller's catalog entry. The core only reads it.
type Listing struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	SellerID     uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index"`
	Title        string              `gorm:"column:title;not null"`
	PriceCents   int64               `gorm:"column:price_cents;not null"`
	Currency     string              `gorm:"column:currency;type:text;not null;default:'USD'"`
	Customizable bool                `gorm:"column:customizable;not null;default:false"`
	Options      map[string][]string `gorm:"column:options;type:jsonb;serializer:json"`
	BulkTiers    []BulkDiscountTier  `gorm:"column:bulk_tiers;type:jsonb;serializer:json"`
	DeliveryFees map[string]int64    `gorm:"column:delivery_fees;type:jsonb;serializer:json"`
	Active       bool                `gorm:"column:active;not null;default:true"`
	Materials    []ListingMaterial   `gorm:"foreignKey:ListingID"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// BulkDiscountTier applies Percent off the base price once quantity reaches MinQuantity.
type BulkDiscountTier struct {
	MinQuantity int             `json:"minQuantity"`
	Percent     decimal.Decimal `json:"percent"`
}

func (l *Listing) BeforeCreate(*gorm.DB) error {
	assignID(&l.ID)
	return nil
}

// ListingMaterial is one bill-of-materials line.
type ListingMaterial struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ListingID       uuid.UUID `gorm:"column:listing_id;type:uuid;not null;index"`
	InventoryItemID uuid.UUID `gorm:"column:inventory_item_id;type:uuid;not null;index"`
	QuantityPerUnit int       `gorm:"column:quantity_per_unit;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (m *ListingMaterial) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
