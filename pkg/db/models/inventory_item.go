package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/pkg/enums"
)

// InventoryItem is a seller's stock of a material.
type InventoryItem struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SellerID        uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index"`
	Name            string          `gorm:"column:name;not null"`
	Unit            string          `gorm:"column:unit;not null;default:'unit'"`
	UnitPriceCents  int64           `gorm:"column:unit_price_cents;not null;default:0"`
	Stock           int             `gorm:"column:stock;not null;default:0"`
	ReorderPoint    int             `gorm:"column:reorder_point;not null;default:0"`
	ReorderQuantity int             `gorm:"column:reorder_quantity;not null;default:0"`
	History         []StockMovement `gorm:"foreignKey:InventoryItemID"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *InventoryItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// StockMovement is an append-only history entry. Quantity is signed.
type StockMovement struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	InventoryItemID uuid.UUID         `gorm:"column:inventory_item_id;type:uuid;not null;index"`
	Action          enums.StockAction `gorm:"column:action;type:text;not null"`
	Quantity        int               `gorm:"column:quantity;not null"`
	StockAfter      int               `gorm:"column:stock_after;not null"`
	Note            *string           `gorm:"column:note"`
	Reference       *uuid.UUID        `gorm:"column:reference;type:uuid;index"`
	ActorID         *uuid.UUID        `gorm:"column:actor_id;type:uuid"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (m *StockMovement) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
