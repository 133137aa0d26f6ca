package inventory

import (
	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
)

// AdjustInput is one signed stock movement. Delta must agree with Action:
// positive for add, negative for remove.
type AdjustInput struct {
	ItemID    uuid.UUID
	Delta     int
	Action    enums.StockAction
	Note      string
	Reference *uuid.UUID
	Actor     authz.Actor
}

// ItemResult is the item after an adjustment plus the threshold edges it crossed.
type ItemResult struct {
	Item        models.InventoryItem
	StockBefore int
	StockAfter  int
	LowStock    bool
	OutOfStock  bool
}

// Reservation lists the per-item decrements applied for an order.
type Reservation struct {
	OrderID uuid.UUID      `json:"order_id"`
	Lines   []ReservedLine `json:"lines"`
}

// ReservedLine is the absolute quantity moved for one item.
type ReservedLine struct {
	InventoryItemID uuid.UUID `json:"inventory_item_id"`
	Quantity        int       `json:"quantity"`
	StockAfter      int       `json:"stock_after"`
}

// CreateItemInput describes a new inventory item.
type CreateItemInput struct {
	Name            string `json:"name" validate:"required,max=200"`
	Unit            string `json:"unit" validate:"omitempty,max=32"`
	UnitPriceCents  int64  `json:"unit_price_cents" validate:"gte=0"`
	Stock           int    `json:"stock" validate:"gte=0"`
	ReorderPoint    int    `json:"reorder_point" validate:"gte=0"`
	ReorderQuantity int    `json:"reorder_quantity" validate:"gte=0"`
}

// ManualAdjustInput is a seller-entered stock correction.
type ManualAdjustInput struct {
	Action   enums.StockAction `json:"action" validate:"required,oneof=add remove"`
	Quantity int               `json:"quantity" validate:"required,gt=0"`
	Note     string            `json:"note" validate:"omitempty,max=500"`
}
